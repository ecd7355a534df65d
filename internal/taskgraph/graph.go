package taskgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// WorkerKind is the closed set of worker categories a node may target.
type WorkerKind int

const (
	Unknown WorkerKind = iota
	Casual
	Coder
	File
	Search
	Browser
)

var kindNames = map[WorkerKind]string{
	Casual:  "casual",
	Coder:   "coder",
	File:    "file",
	Search:  "search",
	Browser: "browser",
}

var kindsByName = map[string]WorkerKind{
	"casual":  Casual,
	"coder":   Coder,
	"file":    File,
	"search":  Search,
	"browser": Browser,
}

// AllKinds lists every known kind in declaration order.
func AllKinds() []WorkerKind {
	return []WorkerKind{Casual, Coder, File, Search, Browser}
}

func (k WorkerKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseWorkerKind maps a case-insensitive worker name to its kind.
func ParseWorkerKind(name string) (WorkerKind, bool) {
	k, ok := kindsByName[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// Node is a single task in a plan.
type Node struct {
	ID    string     `json:"id"`
	Agent string     `json:"agent"`
	Kind  WorkerKind `json:"-"`
	Need  []string   `json:"need"`
	Task  string     `json:"task"`
}

// Graph is the ordered set of nodes produced by one planning call.
type Graph struct {
	Nodes []Node `json:"plan"`
}

// NewNode builds a node, lower-casing the agent name and resolving its kind.
func NewNode(id, agent string, need []string, task string) Node {
	agent = strings.ToLower(strings.TrimSpace(agent))
	kind, _ := ParseWorkerKind(agent)
	if need == nil {
		need = []string{}
	}
	return Node{ID: id, Agent: agent, Kind: kind, Need: need, Task: task}
}

// Len returns the number of nodes.
func (g Graph) Len() int { return len(g.Nodes) }

// Index returns the declaration position of id, or -1.
func (g Graph) Index(id string) int {
	for i, n := range g.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (Node, bool) {
	if i := g.Index(id); i >= 0 {
		return g.Nodes[i], true
	}
	return Node{}, false
}

// IDs returns node ids in declaration order.
func (g Graph) IDs() []string {
	out := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.ID
	}
	return out
}

var (
	ErrEmptyGraph         = errors.New("plan contains no tasks")
	ErrEmptyID            = errors.New("task id is empty")
	ErrDuplicateID        = errors.New("duplicate task id")
	ErrDanglingDependency = errors.New("unknown dependency")
	ErrUnknownWorker      = errors.New("unknown worker")
	ErrCycle              = errors.New("cycle detected")
)

// ValidateOptions tunes Validate.
type ValidateOptions struct {
	// RequireKnownWorkers rejects nodes whose agent is not a known WorkerKind.
	RequireKnownWorkers bool
}

// Validate checks id uniqueness, dependency resolution, worker names and
// acyclicity, in that order. Forward references are allowed.
func Validate(g Graph, opts ValidateOptions) error {
	if len(g.Nodes) == 0 {
		return ErrEmptyGraph
	}
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return ErrEmptyID
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, n := range g.Nodes {
		for _, dep := range n.Need {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("%w: %s -> %s", ErrDanglingDependency, n.ID, dep)
			}
		}
	}
	if opts.RequireKnownWorkers {
		for _, n := range g.Nodes {
			if n.Kind == Unknown {
				return fmt.Errorf("%w: task %s targets %q", ErrUnknownWorker, n.ID, n.Agent)
			}
		}
	}
	return checkCycles(g)
}

func checkCycles(g Graph) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.Nodes))
	var path []string
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		path = append(path, id)
		n, _ := g.Node(id)
		for _, dep := range n.Need {
			switch color[dep] {
			case grey:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), dep)
				return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}
	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalWaves groups node indexes into layers whose dependencies all
// live in earlier layers. Inside a layer nodes keep declaration order.
func TopologicalWaves(g Graph) ([][]int, error) {
	indegree := make([]int, len(g.Nodes))
	dependents := make(map[string][]int, len(g.Nodes))
	for i, n := range g.Nodes {
		for _, dep := range n.Need {
			if g.Index(dep) < 0 {
				return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingDependency, n.ID, dep)
			}
			dependents[dep] = append(dependents[dep], i)
			indegree[i]++
		}
	}
	var waves [][]int
	var current []int
	for i := range g.Nodes {
		if indegree[i] == 0 {
			current = append(current, i)
		}
	}
	placed := 0
	for len(current) > 0 {
		waves = append(waves, current)
		placed += len(current)
		var next []int
		for _, i := range current {
			for _, j := range dependents[g.Nodes[i].ID] {
				indegree[j]--
				if indegree[j] == 0 {
					next = append(next, j)
				}
			}
		}
		sort.Ints(next)
		current = next
	}
	if placed != len(g.Nodes) {
		return nil, ErrCycle
	}
	return waves, nil
}
