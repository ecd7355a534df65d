package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider"
)

const casualSystemPrompt = `You are a Conversational Agent without any tools. You excel at:
- Having natural conversations
- Answering questions from your knowledge
- Summarizing information
- Providing explanations

If asked to perform any action that would require tools (like searching the web, reading files, or interacting with external systems), politely explain that you don't have access to those tools and suggest which agent might be better suited for the task.`

const coderPromptTemplate = `Write complete, working code for the following request:

%s

Provide the full code implementation with detailed comments explaining each section.`

// Casual answers conversationally with no tools.
type Casual struct {
	gen provider.Generator
}

// NewCasual returns the conversational worker.
func NewCasual(gen provider.Generator) *Casual { return &Casual{gen: gen} }

func (c *Casual) Kind() taskgraph.WorkerKind { return taskgraph.Casual }

func (c *Casual) Description() string {
	return "Can have conversations, answer questions, and summarize findings (no tools, purely conversational)"
}

func (c *Casual) Execute(ctx context.Context, instruction string) (string, error) {
	if c.gen == nil {
		return "", Unavailable(taskgraph.Casual, "no text generator configured")
	}
	out, err := c.gen.Generate(ctx, casualSystemPrompt+"\n\nUser request:\n"+instruction)
	if err != nil {
		return "", ExecutionFailed(taskgraph.Casual, err)
	}
	return strings.TrimSpace(out), nil
}

// Coder generates code from a request. It never runs what it writes.
type Coder struct {
	gen provider.Generator
}

// NewCoder returns the code generation worker.
func NewCoder(gen provider.Generator) *Coder { return &Coder{gen: gen} }

func (c *Coder) Kind() taskgraph.WorkerKind { return taskgraph.Coder }

func (c *Coder) Description() string {
	return "Can write, debug, and explain code in multiple languages (cannot execute code, run tests, or interact with running programs)"
}

func (c *Coder) Execute(ctx context.Context, instruction string) (string, error) {
	if c.gen == nil {
		return "", Unavailable(taskgraph.Coder, "no text generator configured")
	}
	out, err := c.gen.Generate(ctx, CoderPrompt(instruction))
	if err != nil {
		return "", ExecutionFailed(taskgraph.Coder, err)
	}
	return out, nil
}

// CoderPrompt wraps a request in the code generation instructions.
func CoderPrompt(request string) string {
	return fmt.Sprintf(coderPromptTemplate, request)
}
