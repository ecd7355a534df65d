package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/agentrouter/internal/helpers"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"go.uber.org/zap"
)

// Actor is the run log bucket the planner writes to.
const Actor = "planner"

// DefaultCapabilities lists every worker with what it can and cannot do.
const DefaultCapabilities = `- Browser: Can navigate websites, fill forms, click elements, extract information, take screenshots
  (Cannot: download files, handle popups, execute JavaScript)
- Coder: Can write, debug, and explain code in multiple languages
  (Cannot: execute code, run tests, or interact with running programs)
- File: Can read, write, list, and organize files on the system
  (Cannot: move/copy files, create directories, search file contents)
- Search: Can search the web for current information
  (Cannot: access specific APIs, scrape websites, get real-time feeds)
- Casual: Can have conversations, answer questions, and summarize findings
  (No tools - purely conversational)`

const promptTemplate = "You are an advanced project manager that divides complex tasks into smaller sub-tasks.\n\n" +
	"Available agents and their capabilities:\n%s\n\n" +
	"Given a complex task, create a detailed execution plan.\n\n" +
	"Output format MUST be valid JSON:\n" +
	"```json\n" +
	`{
  "plan": [
    {
      "agent": "Search",
      "id": "1",
      "need": [],
      "task": "Search the web for the top 5 Python web frameworks"
    },
    {
      "agent": "Coder",
      "id": "2",
      "need": ["1"],
      "task": "Create a comparison table of the frameworks found"
    },
    {
      "agent": "File",
      "id": "3",
      "need": ["2"],
      "task": "Save the comparison table to frameworks_comparison.md"
    }
  ]
}` + "\n```\n\n" +
	`Rules:
- Each task should have a unique ID (1, 2, 3, etc.)
- Use 'need' to specify dependencies (which task IDs must complete first)
- Be specific about what each agent should do
- Break complex tasks into simple, atomic operations
- One agent per task
- The plan should be complete and executable
- If a task requires capabilities we don't have, note what tools would be needed

Task: %s

Create a comprehensive plan:`

// ErrNoPayload means the generation contained no JSON object.
var ErrNoPayload = errors.New("no JSON plan found in response")

// PlanParseError reports why a generation could not become a graph.
type PlanParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *PlanParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PlanParseError) Unwrap() error { return e.Err }

// Planner turns a complex request into a validated task graph with a single
// generation.
type Planner struct {
	gen           provider.Generator
	log           *runlog.Log
	logger        *zap.Logger
	capabilities  string
	strictWorkers bool
}

type Option func(*Planner)

// WithCapabilities replaces the agent listing shown to the model.
func WithCapabilities(text string) Option {
	return func(p *Planner) {
		if text != "" {
			p.capabilities = text
		}
	}
}

// WithStrictWorkers controls whether unknown agent names fail planning.
func WithStrictWorkers(strict bool) Option {
	return func(p *Planner) { p.strictWorkers = strict }
}

// New builds a planner. log and logger may be nil.
func New(gen provider.Generator, log *runlog.Log, logger *zap.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		gen:           gen,
		log:           log,
		logger:        logger.Named("planner"),
		capabilities:  DefaultCapabilities,
		strictWorkers: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithLog returns a copy of p writing to log.
func (p *Planner) WithLog(log *runlog.Log) *Planner {
	cp := *p
	cp.log = log
	return &cp
}

// Prompt renders the planning prompt for query.
func (p *Planner) Prompt(query string) string {
	return fmt.Sprintf(promptTemplate, p.capabilities, query)
}

// Plan asks the model for a plan and validates it. The raw generation is
// returned whenever one was produced, including on parse failure.
func (p *Planner) Plan(ctx context.Context, query string) (taskgraph.Graph, string, error) {
	p.logf("Analyzing complex query", runlog.LevelThink)
	if p.gen == nil {
		return taskgraph.Graph{}, "", p.fail(&PlanParseError{Reason: "planner has no generator", Err: provider.ErrProviderUnavailable})
	}
	raw, err := p.gen.Generate(ctx, p.Prompt(query))
	if err != nil {
		return taskgraph.Graph{}, "", p.fail(&PlanParseError{Reason: "plan generation failed", Err: err})
	}
	p.logf("Parsing execution plan", runlog.LevelAction)

	g, err := p.Parse(raw)
	if err != nil {
		return taskgraph.Graph{}, raw, p.fail(err)
	}
	p.logf(fmt.Sprintf("Plan created with %d tasks", g.Len()), runlog.LevelSuccess)
	p.logger.Debug("plan created", zap.Int("tasks", g.Len()), zap.Strings("ids", g.IDs()))
	return g, raw, nil
}

// Parse extracts, validates and converts a generation into a graph.
func (p *Planner) Parse(raw string) (taskgraph.Graph, error) {
	payload, err := ExtractPayload(raw)
	if err != nil {
		return taskgraph.Graph{}, &PlanParseError{Reason: "no plan payload", Raw: raw, Err: err}
	}
	if err := ValidatePlanDocument([]byte(payload)); err != nil {
		return taskgraph.Graph{}, &PlanParseError{Reason: "invalid plan", Raw: raw, Err: err}
	}
	var doc PlanDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return taskgraph.Graph{}, &PlanParseError{Reason: "invalid plan", Raw: raw, Err: err}
	}
	g := doc.Graph()
	if err := taskgraph.Validate(g, taskgraph.ValidateOptions{RequireKnownWorkers: p.strictWorkers}); err != nil {
		return taskgraph.Graph{}, &PlanParseError{Reason: "invalid plan", Raw: raw, Err: err}
	}
	return g, nil
}

// Graph converts the document into task graph nodes in declaration order.
func (d PlanDocument) Graph() taskgraph.Graph {
	nodes := make([]taskgraph.Node, 0, len(d.Plan))
	for _, t := range d.Plan {
		need := make([]string, 0, len(t.Need))
		for _, n := range t.Need {
			need = append(need, string(n))
		}
		nodes = append(nodes, taskgraph.NewNode(string(t.ID), t.Agent, need, t.Task))
	}
	return taskgraph.Graph{Nodes: nodes}
}

// ExtractPayload returns the plan object embedded in a generation. Every
// candidate span is tried, fenced blocks first, and the first JSON object
// carrying a "plan" key wins. Failing that, the first candidate is returned
// so validation can report what is wrong with it.
func ExtractPayload(text string) (string, error) {
	obj, ok := helpers.ExtractJSONObjectWhere(text, func(o map[string]json.RawMessage) bool {
		_, has := o["plan"]
		return has
	})
	if !ok && obj == "" {
		return "", ErrNoPayload
	}
	return obj, nil
}

func (p *Planner) fail(err error) error {
	p.logf(fmt.Sprintf("Error creating plan: %v", err), runlog.LevelError)
	p.logger.Warn("planning failed", zap.Error(err))
	return err
}

func (p *Planner) logf(message, level string) {
	if p.log != nil {
		p.log.LogTo(Actor, message, level)
	}
}
