package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/agentrouter/internal/history"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/internal/router"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search/models"
)

type stubWorker struct{ kind taskgraph.WorkerKind }

func (w stubWorker) Kind() taskgraph.WorkerKind { return w.kind }
func (w stubWorker) Description() string        { return "stub " + w.kind.String() }
func (w stubWorker) Execute(ctx context.Context, instruction string) (string, error) {
	return instruction, nil
}

type stubRunner struct {
	reg *worker.Registry
	err error
}

func (r *stubRunner) Run(ctx context.Context, q string) (*orchestrator.RunResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &orchestrator.RunResult{ID: "run-1", Query: q, Output: "answer", Status: orchestrator.StatusSucceeded}, nil
}

func (r *stubRunner) Route(ctx context.Context, q string) (router.Decision, []runlog.Entry, error) {
	return router.Decision{Target: "casual", Complexity: "LOW", Reason: "keyword"}, nil, nil
}

func (r *stubRunner) Registry() *worker.Registry { return r.reg }

type stubSearcher struct{ k int }

func (s *stubSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	s.k = k
	return []models.Result{{Title: q, URL: "https://example.com"}}, nil
}

type stubHistory struct{}

func (stubHistory) Search(q string, limit int) ([]history.Hit, error) {
	return []history.Hit{{RunID: "run-1", Query: q}}, nil
}

func newServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	reg, err := worker.NewRegistry([]worker.Worker{stubWorker{taskgraph.Casual}, stubWorker{taskgraph.Coder}})
	if err != nil {
		t.Fatal(err)
	}
	if deps.Runner == nil {
		deps.Runner = &stubRunner{reg: reg}
	}
	return NewServer(deps)
}

func serve(t *testing.T, s *Server, lines ...string) []rpcResp {
	t.Helper()
	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var resps []rpcResp
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r rpcResp
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

func resultMap(t *testing.T, r rpcResp) map[string]interface{} {
	t.Helper()
	m, ok := r.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T", r.Result)
	}
	return m
}

func TestToolsListOnlyAdvertisesConfiguredTools(t *testing.T) {
	s := newServer(t, Deps{})
	names := map[string]bool{}
	for _, d := range s.Tools() {
		names[d.Name] = true
	}
	if !names["agentrouter.run"] || !names["agentrouter.route"] || !names["agentrouter.workers"] {
		t.Fatalf("core tools missing: %v", names)
	}
	if names["web.search"] || names["web.fetch"] || names["history.search"] {
		t.Fatalf("unconfigured tools advertised: %v", names)
	}

	s = newServer(t, Deps{WebSearch: &stubSearcher{}, History: stubHistory{}})
	if len(s.Tools()) != 5 {
		t.Fatalf("tools = %d, want 5", len(s.Tools()))
	}
}

func TestServeInitializeAndList(t *testing.T) {
	s := newServer(t, Deps{Version: "1.2.3"})
	resps := serve(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	if len(resps) != 2 {
		t.Fatalf("responses = %d, want 2 (notification must not be answered)", len(resps))
	}
	info := resultMap(t, resps[0])["serverInfo"].(map[string]interface{})
	if info["version"] != "1.2.3" {
		t.Fatalf("serverInfo = %v", info)
	}
	tools := resultMap(t, resps[1])["tools"].([]interface{})
	if len(tools) != 3 {
		t.Fatalf("tools = %d", len(tools))
	}
	if string(resps[1].ID) != "2" {
		t.Fatalf("id = %s", resps[1].ID)
	}
}

func TestServeCallRun(t *testing.T) {
	s := newServer(t, Deps{})
	resps := serve(t, s, `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"agentrouter.run","arguments":{"query":"hello"}}}`)
	res := resultMap(t, resps[0])
	if res["isError"] != false {
		t.Fatalf("isError = %v", res["isError"])
	}
	structured := res["structuredContent"].(map[string]interface{})
	if structured["output"] != "answer" || structured["query"] != "hello" {
		t.Fatalf("structured = %v", structured)
	}
}

func TestServeCallToolErrorIsReportedInResult(t *testing.T) {
	reg, _ := worker.NewRegistry([]worker.Worker{stubWorker{taskgraph.Casual}})
	s := newServer(t, Deps{Runner: &stubRunner{reg: reg, err: errors.New("boom")}})
	resps := serve(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"agentrouter.run","arguments":{"query":"x"}}}`)
	if resps[0].Error != nil {
		t.Fatalf("unexpected rpc error %+v", resps[0].Error)
	}
	res := resultMap(t, resps[0])
	if res["isError"] != true {
		t.Fatalf("isError = %v", res["isError"])
	}
	text := res["content"].([]interface{})[0].(map[string]interface{})["text"]
	if text != "boom" {
		t.Fatalf("text = %v", text)
	}
}

func TestServeProtocolErrors(t *testing.T) {
	s := newServer(t, Deps{})
	resps := serve(t, s,
		`not json`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`,
	)
	if len(resps) != 3 {
		t.Fatalf("responses = %d", len(resps))
	}
	want := []int{codeParseError, codeMethodNotFound, codeInvalidParams}
	for i, code := range want {
		if resps[i].Error == nil || resps[i].Error.Code != code {
			t.Fatalf("response %d error = %+v, want code %d", i, resps[i].Error, code)
		}
	}
}

func TestCallWorkersAndSearchClamp(t *testing.T) {
	searcher := &stubSearcher{}
	s := newServer(t, Deps{WebSearch: searcher})

	out, err := s.Call(context.Background(), "agentrouter.workers", nil)
	if err != nil {
		t.Fatal(err)
	}
	workers := out.(map[string]interface{})["workers"].([]map[string]string)
	if len(workers) != 2 || workers[0]["name"] != "casual" {
		t.Fatalf("workers = %v", workers)
	}

	if _, err := s.Call(context.Background(), "web.search", map[string]interface{}{"query": "go", "k": float64(100)}); err != nil {
		t.Fatal(err)
	}
	if searcher.k != 25 {
		t.Fatalf("k = %d, want clamped 25", searcher.k)
	}
	if _, err := s.Call(context.Background(), "web.search", map[string]interface{}{}); err == nil {
		t.Fatal("expected missing query error")
	}
}
