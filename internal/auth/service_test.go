package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eic-pathway/internal/users"
)

func TestRegister_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, studentEmail)
	assert.Equal(t, studentEmail, user.Email)
	assert.Equal(t, "Jane", user.FirstName)
	assert.Equal(t, users.Progress{Completed: []int{}, Unlocked: []int{1}}, user.Progress)
	assert.Equal(t, 1, user.CurrentPhase)

	stored, err := f.users.FindByEmail(ctx, studentEmail)
	require.NoError(t, err)
	assert.NoError(t, users.ComparePassword(stored.PasswordHash, password))

	_, ok := f.vstore.Get(studentEmail)
	assert.False(t, ok, "verification record is consumed by registration")

	_, err = f.svc.Register(ctx, registerInput(studentEmail))
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	err = f.svc.SendVerification(ctx, EmailInput{Email: studentEmail})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	err = f.svc.CheckEmail(ctx, EmailInput{Email: "JDoe@Students.BowieState.edu"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_RequiresVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerInput(studentEmail))
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	require.NoError(t, f.svc.SendVerification(ctx, EmailInput{Email: studentEmail}))
	_, err = f.svc.Register(ctx, registerInput(studentEmail))
	assert.ErrorIs(t, err, ErrEmailNotVerified, "an issued but unchecked code is not proof")

	_, err = f.users.FindByEmail(ctx, studentEmail)
	assert.ErrorIs(t, err, users.ErrNotFound)
}

func TestRegister_VerificationFreshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.verify(t, studentEmail)
	f.clock.Advance(time.Hour + time.Second)

	_, err := f.svc.Register(ctx, registerInput(studentEmail))
	assert.ErrorIs(t, err, ErrVerificationStale)

	_, err = f.svc.Register(ctx, registerInput(studentEmail))
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	f.verify(t, studentEmail)
	f.clock.Advance(59 * time.Minute)

	_, err = f.svc.Register(ctx, registerInput(studentEmail))
	assert.NoError(t, err)
}

func TestRegister_InlineVerificationCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendVerification(ctx, EmailInput{Email: studentEmail}))
	code := f.sender.code(studentEmail)

	in := registerInput(studentEmail)
	in.VerificationCode = wrongCode(code)
	_, err := f.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidCode)

	in.VerificationCode = code
	user, err := f.svc.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, studentEmail, user.Email)

	_, ok := f.vstore.Get(studentEmail)
	assert.False(t, ok)
}

func TestRegister_InlineCodeAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendVerification(ctx, EmailInput{Email: studentEmail}))
	in := registerInput(studentEmail)
	in.VerificationCode = f.sender.code(studentEmail)
	f.clock.Advance(time.Hour + time.Second)

	_, err := f.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestRegister_PasswordOverBcryptLimit(t *testing.T) {
	cases := map[string]string{
		"ascii":     strings.Repeat("a", 80),
		"multibyte": strings.Repeat("é", 40),
	}

	for name, pw := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.verify(t, studentEmail)

			in := registerInput(studentEmail)
			in.Password = pw
			_, err := f.svc.Register(ctx, in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, "password")

			_, ok := f.vstore.Get(studentEmail)
			assert.True(t, ok, "a rejected password leaves the verification usable")

			in.Password = strings.Repeat("é", 36)
			_, err = f.svc.Register(ctx, in)
			assert.NoError(t, err)
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		mutate func(*RegisterInput)
		field  string
	}{
		"foreign domain":   {func(in *RegisterInput) { in.Email = "jdoe@gmail.com" }, "email"},
		"malformed email":  {func(in *RegisterInput) { in.Email = "not-an-email" }, "email"},
		"short password":   {func(in *RegisterInput) { in.Password = "short" }, "password"},
		"short first name": {func(in *RegisterInput) { in.FirstName = " J " }, "firstName"},
		"missing last":     {func(in *RegisterInput) { in.LastName = "" }, "lastName"},
		"short student id": {func(in *RegisterInput) { in.StudentID = "S1" }, "studentId"},
		"long student id":  {func(in *RegisterInput) { in.StudentID = "S12345678901234567890" }, "studentId"},
		"bad code shape":   {func(in *RegisterInput) { in.VerificationCode = "12ab56" }, "verificationCode"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := registerInput(studentEmail)
			tc.mutate(&in)

			_, err := f.svc.Register(context.Background(), in)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Contains(t, validationErr.Fields, tc.field)
		})
	}
}

func TestVerifyCode_Outcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendVerification(ctx, EmailInput{Email: studentEmail}))
	code := f.sender.code(studentEmail)
	bad := wrongCode(code)

	assert.ErrorIs(t, f.svc.VerifyCode(ctx, VerifyCodeInput{Email: studentEmail, Code: bad}), ErrInvalidCode)
	assert.ErrorIs(t, f.svc.VerifyCode(ctx, VerifyCodeInput{Email: studentEmail, Code: bad}), ErrInvalidCode)
	assert.ErrorIs(t, f.svc.VerifyCode(ctx, VerifyCodeInput{Email: studentEmail, Code: bad}), ErrAttemptsExhausted)
	assert.ErrorIs(t, f.svc.VerifyCode(ctx, VerifyCodeInput{Email: studentEmail, Code: code}), ErrInvalidCode)

	require.NoError(t, f.svc.SendVerification(ctx, EmailInput{Email: studentEmail}))
	f.clock.Advance(time.Hour + time.Second)
	assert.ErrorIs(t, f.svc.VerifyCode(ctx, VerifyCodeInput{Email: studentEmail, Code: f.sender.code(studentEmail)}), ErrCodeExpired)
}

func TestSendVerification_DeliveryFailureKeepsCode(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errSendFailed

	require.NoError(t, f.svc.SendVerification(context.Background(), EmailInput{Email: studentEmail}))

	rec, ok := f.vstore.Get(studentEmail)
	require.True(t, ok)
	assert.Equal(t, f.sender.code(studentEmail), rec.Code)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, studentEmail)

	result, err := f.svc.Login(ctx, LoginInput{Email: " JDOE@students.bowiestate.edu ", Password: password})
	require.NoError(t, err)
	assert.Equal(t, registered.ID, result.User.ID)
	require.NotNil(t, result.User.LastLoginAt)
	assert.Equal(t, f.clock.Now(), *result.User.LastLoginAt)

	subject, err := f.tokens.VerifyAccess(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, subject)

	stored, err := f.users.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshTokenHash)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, studentEmail)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: "wrong-password"})
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}

	_, err := f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: password})
	var locked ErrAccountLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), locked.Until)

	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: password})
	assert.NoError(t, err)
}

func TestLogin_SuccessClearsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, studentEmail)

	for round := 0; round < 2; round++ {
		for i := 0; i < 4; i++ {
			_, err := f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: "wrong-password"})
			require.ErrorIs(t, err, ErrInvalidCredentials)
		}
		_, err := f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: password})
		require.NoError(t, err, "round %d", round)
	}
}

func TestLogin_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ghost := "ghost@bowiestate.edu"

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: ghost, Password: password})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, LoginInput{Email: ghost, Password: password})
	var locked ErrAccountLocked
	assert.ErrorAs(t, err, &locked)
}

func TestRefresh_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, studentEmail)

	login, err := f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: password})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Refresh(ctx, login.RefreshToken); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = f.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, studentEmail)

	login, err := f.svc.Login(ctx, LoginInput{Email: studentEmail, Password: password})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Logout(ctx, login.AccessToken), ErrInvalidRefreshToken)
	require.NoError(t, f.svc.Logout(ctx, login.RefreshToken))

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.ErrorIs(t, f.svc.Logout(ctx, login.RefreshToken), ErrInvalidRefreshToken)
}

func TestProfileAndAssessment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, studentEmail)

	got, err := f.svc.Profile(ctx, user.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	_, err = f.svc.Profile(ctx, "someone-else", user.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.SetAssessmentLevel(ctx, user.ID, "Intermediate"))
	got, err = f.svc.Profile(ctx, user.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "intermediate", got.AssessmentLevel)
	assert.Equal(t, []int{1}, got.Progress.Unlocked, "assessment never unlocks phases")

	var validationErr *ValidationError
	assert.ErrorAs(t, f.svc.SetAssessmentLevel(ctx, user.ID, "expert"), &validationErr)
	assert.ErrorIs(t, f.svc.SetAssessmentLevel(ctx, "missing", "beginner"), ErrNotFound)
}
