package auth

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"eic-pathway/internal/users"
)

var DefaultAllowedDomains = []string{"bowiestate.edu", "students.bowiestate.edu"}

var AssessmentLevels = []string{"beginner", "intermediate", "advanced"}

type EmailInput struct {
	Email string `json:"email"`
}

type VerifyCodeInput struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type RegisterInput struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	StudentID        string `json:"studentId"`
	VerificationCode string `json:"verificationCode"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *EmailInput) normalize() {
	in.Email = normalizeEmail(in.Email)
}

func (in *VerifyCodeInput) normalize() {
	in.Email = normalizeEmail(in.Email)
	in.Code = strings.TrimSpace(in.Code)
}

func (in *RegisterInput) normalize() {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.VerificationCode = strings.TrimSpace(in.VerificationCode)
}

func (in *LoginInput) normalize() {
	in.Email = normalizeEmail(in.Email)
}

func (in EmailInput) Validate(domains []string) error {
	return validation.ValidateStruct(&in,
		emailField(&in.Email, domains),
	)
}

func (in VerifyCodeInput) Validate(domains []string) error {
	return validation.ValidateStruct(&in,
		emailField(&in.Email, domains),
		validation.Field(&in.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

// Validate checks the shape of a registration. The verification code is
// optional here since registration relies on the verified flag, not the code.
func (in RegisterInput) Validate(domains []string) error {
	return validation.ValidateStruct(&in,
		emailField(&in.Email, domains),
		validation.Field(&in.Password, validation.Required, validation.Length(8, 0), validation.By(maxBytes(users.MaxPasswordBytes))),
		validation.Field(&in.FirstName, validation.Required, validation.Length(2, 100)),
		validation.Field(&in.LastName, validation.Required, validation.Length(2, 100)),
		validation.Field(&in.StudentID, validation.Required, validation.Length(3, 20)),
		validation.Field(&in.VerificationCode, validation.Length(6, 6), is.Digit),
	)
}

func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required),
	)
}

func emailField(email *string, domains []string) *validation.FieldRules {
	return validation.Field(email,
		validation.Required,
		validation.Length(6, 254),
		is.Email,
		validation.By(allowedDomain(domains)),
	)
}

func allowedDomain(domains []string) validation.RuleFunc {
	return func(value interface{}) error {
		email, _ := value.(string)
		at := strings.LastIndex(email, "@")
		if at < 0 {
			return nil
		}
		domain := email[at+1:]
		for _, allowed := range domains {
			if strings.EqualFold(domain, allowed) {
				return nil
			}
		}
		return errors.New("must be an address on an allowed institutional domain (" + strings.Join(domains, ", ") + ")")
	}
}

// maxBytes bounds the encoded length. Length counts runes, which lets
// multibyte input past bcrypt's byte limit.
func maxBytes(limit int) validation.RuleFunc {
	return func(value interface{}) error {
		text, _ := value.(string)
		if len(text) > limit {
			return fmt.Errorf("must be at most %d bytes long", limit)
		}
		return nil
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
