// Package mcp serves the orchestrator and its web tools as a Model Context
// Protocol server over newline-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/internal/history"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/internal/router"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
	"github.com/mohammad-safakhou/agentrouter/tools/web_fetch"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search"
)

const (
	protocolVersion    = "2024-11-05"
	defaultCallTimeout = 5 * time.Minute
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcReq struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResp struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDesc describes a single MCP tool, including input schema.
type ToolDesc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Runner answers and routes requests.
type Runner interface {
	Run(ctx context.Context, query string) (*orchestrator.RunResult, error)
	Route(ctx context.Context, query string) (router.Decision, []runlog.Entry, error)
	Registry() *worker.Registry
}

// Searcher searches past runs.
type Searcher interface {
	Search(q string, limit int) ([]history.Hit, error)
}

// Deps are the components exposed as tools. Only Runner is required; tools
// backed by a nil dependency are not advertised.
type Deps struct {
	Runner      Runner
	WebSearch   web_search.WebSearcher
	WebFetch    web_fetch.WebFetcher
	History     Searcher
	CallTimeout time.Duration
	Logger      *zap.Logger
	Version     string
}

type handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Server holds shared deps (the only state).
type Server struct {
	deps     Deps
	logger   *zap.Logger
	tools    []ToolDesc
	handlers map[string]handler
	writeMu  sync.Mutex
}

// NewServer registers the tools deps can serve.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = defaultCallTimeout
	}
	s := &Server{deps: deps, logger: logger.Named("mcp"), handlers: map[string]handler{}}
	s.initTools()
	return s
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var queryProp = map[string]interface{}{"type": "string", "minLength": 1}

func (s *Server) add(d ToolDesc, h handler) {
	s.tools = append(s.tools, d)
	s.handlers[d.Name] = h
}

func (s *Server) initTools() {
	s.add(ToolDesc{
		Name:        "agentrouter.run",
		Description: "Route a request to a worker, or plan and execute it across several, and return the answer.",
		InputSchema: objectSchema(map[string]interface{}{"query": queryProp}, "query"),
	}, s.tRun)
	s.add(ToolDesc{
		Name:        "agentrouter.route",
		Description: "Explain where a request would be routed without running it.",
		InputSchema: objectSchema(map[string]interface{}{"query": queryProp}, "query"),
	}, s.tRoute)
	s.add(ToolDesc{
		Name:        "agentrouter.workers",
		Description: "List provisioned workers and their capabilities.",
		InputSchema: objectSchema(map[string]interface{}{}),
	}, s.tWorkers)
	if s.deps.WebSearch != nil {
		s.add(ToolDesc{
			Name:        "web.search",
			Description: "Search the web with the configured provider.",
			InputSchema: objectSchema(map[string]interface{}{
				"query": queryProp,
				"k":     map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 25},
			}, "query"),
		}, s.tWebSearch)
	}
	if s.deps.WebFetch != nil {
		s.add(ToolDesc{
			Name:        "web.fetch",
			Description: "Fetch a page and extract its readable text.",
			InputSchema: objectSchema(map[string]interface{}{"url": map[string]interface{}{"type": "string"}}, "url"),
		}, s.tWebFetch)
	}
	if s.deps.History != nil {
		s.add(ToolDesc{
			Name:        "history.search",
			Description: "Full-text search over past runs.",
			InputSchema: objectSchema(map[string]interface{}{
				"q": queryProp,
				"k": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 50},
			}, "q"),
		}, s.tHistory)
	}
}

// Tools returns the advertised tool list.
func (s *Server) Tools() []ToolDesc { return s.tools }

// Call dispatches a tool by name.
func (s *Server) Call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	h, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.deps.CallTimeout)
	defer cancel()
	return h(ctx, args)
}

// ---------- tool handlers ----------

func (s *Server) tRun(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := str(args["query"])
	if q == "" {
		return nil, errors.New("query is required")
	}
	res, err := s.deps.Runner.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) tRoute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := str(args["query"])
	if q == "" {
		return nil, errors.New("query is required")
	}
	d, entries, err := s.deps.Runner.Route(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"decision": d, "log": entries}, nil
}

func (s *Server) tWorkers(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	reg := s.deps.Runner.Registry()
	out := make([]map[string]string, 0)
	for _, k := range reg.Kinds() {
		w, _ := reg.Get(k)
		out = append(out, map[string]string{"name": k.String(), "description": w.Description()})
	}
	return map[string]interface{}{"workers": out}, nil
}

func (s *Server) tWebSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := str(args["query"])
	if q == "" {
		return nil, errors.New("query is required")
	}
	k := clampInt(asInt(args["k"]), 1, 25)
	results, err := s.deps.WebSearch.Discover(ctx, q, k)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results}, nil
}

func (s *Server) tWebFetch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := str(args["url"])
	if url == "" {
		return nil, errors.New("url is required")
	}
	return s.deps.WebFetch.Exec(ctx, url)
}

func (s *Server) tHistory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := str(args["q"])
	if q == "" {
		return nil, errors.New("q is required")
	}
	k := asInt(args["k"])
	if k < 1 || k > 50 {
		k = history.DefaultLimit
	}
	hits, err := s.deps.History.Search(q, k)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"hits": hits}, nil
}

// ---------- stdio loop ----------

// Serve reads one request per line until in is exhausted or ctx ends.
// Requests are answered in order; notifications get no response.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcReq
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(out, rpcResp{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: err.Error()}})
			continue
		}
		resp, reply := s.handle(ctx, req)
		if reply {
			s.write(out, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req rpcReq) (rpcResp, bool) {
	resp := rpcResp{JSONRPC: "2.0", ID: req.ID}
	notification := len(req.ID) == 0
	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      map[string]interface{}{"name": "agentrouter", "version": s.deps.Version},
		}
	case "ping":
		resp.Result = map[string]interface{}{}
	case "tools/list":
		resp.Result = map[string]interface{}{"tools": s.tools}
	case "tools/call":
		var params struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
			break
		}
		if _, ok := s.handlers[params.Name]; !ok {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: "unknown tool: " + params.Name}
			break
		}
		result, err := s.Call(ctx, params.Name, params.Arguments)
		resp.Result = toolResult(result, err)
		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", params.Name), zap.Error(err))
		}
	default:
		if notification {
			return resp, false
		}
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}
	}
	return resp, !notification
}

// toolResult wraps a handler result in the MCP content envelope.
func toolResult(v interface{}, err error) map[string]interface{} {
	if err != nil {
		return map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": err.Error()}},
			"isError": true,
		}
	}
	b, mErr := json.Marshal(v)
	if mErr != nil {
		return toolResult(nil, mErr)
	}
	return map[string]interface{}{
		"content":           []map[string]string{{"type": "text", "text": string(b)}},
		"structuredContent": json.RawMessage(b),
		"isError":           false,
	}
}

func (s *Server) write(w io.Writer, resp rpcResp) {
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

// ---------- helpers ----------

func str(v interface{}) string { s, _ := v.(string); return s }

func asInt(v interface{}) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
