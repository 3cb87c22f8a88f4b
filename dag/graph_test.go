package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	oao "github.com/yashsham/open-agent-orchestrator"
)

type stubAdapter struct{ name string }

func (a *stubAdapter) Name() string    { return a.name }
func (a *stubAdapter) Version() string { return "1.0" }
func (a *stubAdapter) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	return &oao.StepResult{Output: a.name, Tokens: 1, Done: true}, nil
}

func buildGraph(t *testing.T, edges map[string][]string) *TaskGraph {
	t.Helper()
	graph := NewTaskGraph()
	for id, deps := range edges {
		require.NoError(t, graph.Add(&TaskNode{
			ID:           id,
			Adapter:      &stubAdapter{name: id},
			Task:         "task-" + id,
			Dependencies: deps,
		}))
	}
	return graph
}

func TestTaskGraphAdd(t *testing.T) {
	graph := NewTaskGraph()
	node := &TaskNode{ID: "a", Adapter: &stubAdapter{name: "a"}, Task: "t"}
	require.NoError(t, graph.Add(node))

	require.Error(t, graph.Add(node), "duplicate id")
	require.Error(t, graph.Add(&TaskNode{ID: "", Adapter: &stubAdapter{}}))
	require.Error(t, graph.Add(&TaskNode{ID: "b"}), "missing adapter")
}

func TestTaskGraphValidate(t *testing.T) {
	t.Run("valid diamond", func(t *testing.T) {
		graph := buildGraph(t, map[string][]string{
			"a": nil,
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		})
		require.NoError(t, graph.Validate())
	})

	t.Run("missing dependency", func(t *testing.T) {
		graph := buildGraph(t, map[string][]string{
			"a": {"ghost"},
		})
		require.ErrorContains(t, graph.Validate(), "does not exist")
	})

	t.Run("cycle", func(t *testing.T) {
		graph := buildGraph(t, map[string][]string{
			"a": {"c"},
			"b": {"a"},
			"c": {"b"},
		})
		require.ErrorContains(t, graph.Validate(), "cycle")
	})

	t.Run("self cycle", func(t *testing.T) {
		graph := buildGraph(t, map[string][]string{
			"a": {"a"},
		})
		require.ErrorContains(t, graph.Validate(), "cycle")
	})
}

func TestTaskGraphLevels(t *testing.T) {
	graph := buildGraph(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})

	levels, err := graph.Levels()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"a"},
		{"b", "c"},
		{"d"},
	}, levels)
}

func TestTaskGraphLevelsRejectsCycle(t *testing.T) {
	graph := buildGraph(t, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	_, err := graph.Levels()
	require.ErrorContains(t, err, "cycle")
}
