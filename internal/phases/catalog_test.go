package phases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Shape(t *testing.T) {
	catalog := DefaultCatalog()
	require.Len(t, catalog, 5)

	wantXP := map[int]int{1: 580, 2: 680, 3: 830, 4: 700, 5: 870}
	seen := map[string]bool{}
	for i, p := range catalog {
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, wantXP[p.Number], p.TotalXP(), p.Slug)
		assert.LessOrEqual(t, len(p.Tasks), 7)
		for j, task := range p.Tasks {
			assert.Equal(t, j+1, task.Order, task.ID)
			assert.False(t, seen[task.ID], "duplicate task id %s", task.ID)
			seen[task.ID] = true
		}
	}

	_, ok := catalog.Lookup(9)
	assert.False(t, ok)
}

func TestDefaultCatalog_QuizTasksCarryPassingScore(t *testing.T) {
	quizzes := 0
	for _, phase := range DefaultCatalog() {
		for _, task := range phase.Tasks {
			isQuiz := task.Kind == KindQuiz
			assert.Equal(t, isQuiz, task.PassingScore > 0, task.ID)
			assert.Equal(t, isQuiz, task.Evidence == EvidenceQuiz, task.ID)
			if isQuiz {
				quizzes++
			}
		}
	}
	assert.Equal(t, 2, quizzes)
}

func TestPhaseDefinition_RequirementsAndXP(t *testing.T) {
	phase, ok := DefaultCatalog().Lookup(1)
	require.True(t, ok)

	statuses := map[string]TaskStatus{}
	for _, task := range phase.Tasks {
		statuses[task.ID] = TaskStatus{Completed: true}
	}
	statuses["p1-t6-concepts-quiz"] = TaskStatus{Completed: true, Score: 60}

	assert.False(t, phase.RequirementsMet(statuses), "quiz below passing score")
	assert.Equal(t, phase.TotalXP()-50, phase.EarnedXP(statuses))

	statuses["p1-t6-concepts-quiz"] = TaskStatus{Completed: true, Score: 70}
	assert.True(t, phase.RequirementsMet(statuses))
	assert.Equal(t, phase.TotalXP(), phase.EarnedXP(statuses))

	delete(statuses, "p1-t7-onepager")
	assert.False(t, phase.RequirementsMet(statuses))
	assert.Equal(t, 0, phase.EarnedXP(nil))
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("EIC", 1, "EIC-1"))
	assert.True(t, ValidCode("EIC", 1, "  eic-1 "))
	assert.True(t, ValidCode("EIC", 3, "Eic-3"))
	assert.False(t, ValidCode("EIC", 1, "EIC-2"))
	assert.False(t, ValidCode("EIC", 1, "EIC1"))
	assert.False(t, ValidCode("EIC", 1, "EIC-9"))
	assert.False(t, ValidCode("EIC", 1, ""))
	assert.True(t, ValidCode("BSU", 2, "bsu-2"))
}
