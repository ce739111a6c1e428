package task

import (
	"testing"

	"alex/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestValidateDraftTitleBoundaries(t *testing.T) {
	base := Draft{Repository: "svc-auth"}

	base.Title = "ab" // 2 chars
	err := ValidateDraft(base)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	base.Title = "abc" // 3 chars
	assert.NoError(t, ValidateDraft(base))

	base.Title = make3(500)
	assert.NoError(t, ValidateDraft(base))

	base.Title = make3(501)
	err = ValidateDraft(base)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func make3(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestValidateDraftRepositoryRequired(t *testing.T) {
	d := Draft{Title: "valid title"}
	err := ValidateDraft(d)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestStatusRank(t *testing.T) {
	assert.Less(t, StatusBlocked.StatusRank(), StatusInProgress.StatusRank())
	assert.Less(t, StatusInProgress.StatusRank(), StatusPending.StatusRank())
	assert.Less(t, StatusPending.StatusRank(), StatusCompleted.StatusRank())
	assert.Less(t, StatusCompleted.StatusRank(), StatusCancelled.StatusRank())
	assert.Less(t, StatusCancelled.StatusRank(), StatusFailed.StatusRank())
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityCritical.PriorityRank(), PriorityHigh.PriorityRank())
	assert.Less(t, PriorityHigh.PriorityRank(), PriorityMedium.PriorityRank())
	assert.Less(t, PriorityMedium.PriorityRank(), PriorityLow.PriorityRank())
}

func TestHasAllTagsVsHasAnyTag(t *testing.T) {
	tk := &Task{Tags: []string{"bug", "urgent"}}
	assert.True(t, tk.HasAllTags([]string{"bug"}))
	assert.False(t, tk.HasAllTags([]string{"bug", "feature"}))
	assert.True(t, tk.HasAnyTag([]string{"feature", "urgent"}))
	assert.False(t, tk.HasAnyTag([]string{"feature"}))
}

func TestDependencyTypeCycleSemantics(t *testing.T) {
	assert.True(t, DependencyBlocks.HasCycleSemantics())
	assert.True(t, DependencyRequires.HasCycleSemantics())
	assert.False(t, DependencyRelated.HasCycleSemantics())
}
