package projection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"alex/internal/task"
)

func TestSearchRanksTitleMatchAboveDescriptionOnly(t *testing.T) {
	tasks := []*task.Task{
		{ID: "1", Title: "database migration", Description: "unrelated work"},
		{ID: "2", Title: "unrelated work", Description: "run the database migration script"},
	}
	results := Search(tasks, "database migration", 0, 10)
	require.Len(t, results, 2)
	require.Equal(t, "1", results[0].Task.ID)
}

func TestSearchAppliesMinScoreGate(t *testing.T) {
	tasks := []*task.Task{
		{ID: "1", Title: "database migration"},
		{ID: "2", Title: "completely different topic"},
	}
	results := Search(tasks, "database migration", 0.5, 10)
	require.Len(t, results, 1)
	require.Equal(t, "1", results[0].Task.ID)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	tasks := []*task.Task{
		{ID: "1", Title: "alpha task"},
		{ID: "2", Title: "alpha work"},
		{ID: "3", Title: "alpha item"},
	}
	results := Search(tasks, "alpha", 0, 2)
	require.Len(t, results, 2)
}

func TestSnippetWrapsMatchesWithMarker(t *testing.T) {
	s := snippet("the quick brown fox", []string{"quick"})
	require.Contains(t, s, "**quick**")
}

func TestSnippetWindowIsBounded(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "filler "
	}
	s := snippet(long+"needle", []string{"needle"})
	require.LessOrEqual(t, len(s), snippetWindow+2*len(snippetMarker))
}
