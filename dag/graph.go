// Package dag executes multiple agent executions as a directed acyclic
// graph: nodes run once all their dependencies have completed, independent
// nodes run concurrently, and each node's execution is a full event-sourced
// engine run that can be recovered individually.
package dag

import (
	"fmt"
	"sort"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// TaskNode is a single task in a workflow graph: an agent, its task input,
// and the ids of the nodes that must complete before it starts.
type TaskNode struct {
	ID           string
	Adapter      oao.AgentAdapter
	Task         string
	Dependencies []string
}

// TaskGraph is a container for a DAG of task nodes. Acyclicity is checked at
// validation, so an executor never sees a cyclic graph.
type TaskGraph struct {
	nodes map[string]*TaskNode
}

// NewTaskGraph creates an empty task graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{nodes: make(map[string]*TaskNode)}
}

// Add registers a node. Node ids must be unique.
func (g *TaskGraph) Add(node *TaskNode) error {
	if node == nil {
		return fmt.Errorf("node cannot be nil")
	}
	if node.ID == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	if node.Adapter == nil {
		return fmt.Errorf("node %q has no adapter", node.ID)
	}
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("duplicate node id: %s", node.ID)
	}
	g.nodes[node.ID] = node
	return nil
}

// Get returns a node by id.
func (g *TaskGraph) Get(id string) (*TaskNode, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Len returns the number of nodes.
func (g *TaskGraph) Len() int {
	return len(g.nodes)
}

// Validate checks for missing dependencies and cycles.
func (g *TaskGraph) Validate() error {
	for id, node := range g.nodes {
		for _, dep := range node.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("node %q depends on %q, which does not exist", id, dep)
			}
		}
	}

	// Cycle detection via DFS with a recursion stack.
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onStack[id] = true
		for _, dep := range g.nodes[id].Dependencies {
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				return fmt.Errorf("graph contains a cycle involving %q", dep)
			}
		}
		onStack[id] = false
		return nil
	}

	for id := range g.nodes {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Levels returns the topological execution order as levels produced by
// Kahn's algorithm: nodes within one level have no dependencies on each
// other and may run concurrently. Levels are sorted by id so the schedule is
// deterministic.
func (g *TaskGraph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for id, node := range g.nodes {
		inDegree[id] = len(node.Dependencies)
		for _, dep := range node.Dependencies {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var frontier []string
	for id, degree := range inDegree {
		if degree == 0 {
			frontier = append(frontier, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(frontier) > 0 {
		sort.Strings(frontier)
		level := frontier
		frontier = nil
		for _, id := range level {
			processed++
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					frontier = append(frontier, dependent)
				}
			}
		}
		levels = append(levels, level)
	}

	if processed != len(g.nodes) {
		return nil, fmt.Errorf("graph contains a cycle")
	}
	return levels, nil
}
