package runlog

import (
	"sort"
	"sync"
	"time"
)

// Levels used across the router, planner and executor buckets.
const (
	LevelStart    = "start"
	LevelAnalyze  = "analyze"
	LevelResult   = "result"
	LevelWarning  = "warning"
	LevelInfo     = "info"
	LevelDecision = "decision"
	LevelStatus   = "status"
	LevelThink    = "think"
	LevelAction   = "action"
	LevelSuccess  = "success"
	LevelError    = "error"
)

// RouterActor is the bucket the router writes to.
const RouterActor = "router"

// SummaryActor is the bucket the executor writes its aggregation step to.
const SummaryActor = "summary"

const timestampLayout = "15:04:05"

// Entry is a single log line. Seq orders entries across buckets.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Timestamp string    `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Time      time.Time `json:"-"`
}

// Export is the shape consumed by observers.
type Export struct {
	Router []Entry            `json:"router"`
	Agents map[string][]Entry `json:"agents"`
}

// Sink receives a copy of every appended entry.
type Sink func(actor string, e Entry)

// Option configures a Log.
type Option func(*Log)

// WithSink mirrors appended entries to fn.
func WithSink(fn Sink) Option {
	return func(l *Log) { l.sink = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is a per-run, per-actor record of decisions. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	buckets map[string][]Entry
	order   []string
	current string
	seq     uint64
	sink    Sink
	now     func() time.Time
}

// New returns an empty Log.
func New(opts ...Option) *Log {
	l := &Log{buckets: make(map[string][]Entry), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartActor makes name the write target, creating its bucket if needed.
func (l *Log) StartActor(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = name
	l.ensure(name)
}

// Current returns the actor Log appends to, or "".
func (l *Log) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Log appends to the current actor. Without a current actor it does nothing.
func (l *Log) Log(message, level string) {
	l.mu.Lock()
	actor := l.current
	if actor == "" {
		l.mu.Unlock()
		return
	}
	e := l.appendLocked(actor, message, level)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(actor, e)
	}
}

// LogTo appends to actor without touching the current-actor pointer.
// Concurrent writers (parallel execution) use this instead of StartActor+Log.
func (l *Log) LogTo(actor, message, level string) {
	if actor == "" {
		return
	}
	l.mu.Lock()
	l.ensure(actor)
	e := l.appendLocked(actor, message, level)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(actor, e)
	}
}

func (l *Log) ensure(name string) {
	if _, ok := l.buckets[name]; !ok {
		l.buckets[name] = []Entry{}
		l.order = append(l.order, name)
	}
}

func (l *Log) appendLocked(actor, message, level string) Entry {
	if level == "" {
		level = LevelInfo
	}
	l.seq++
	now := l.now()
	e := Entry{Seq: l.seq, Timestamp: now.Format(timestampLayout), Level: level, Message: message, Time: now}
	l.buckets[actor] = append(l.buckets[actor], e)
	return e
}

// GetLogs returns a copy of every bucket.
func (l *Log) GetLogs() map[string][]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]Entry, len(l.buckets))
	for k, v := range l.buckets {
		out[k] = append([]Entry(nil), v...)
	}
	return out
}

// Entries returns a copy of one bucket.
func (l *Log) Entries(actor string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.buckets[actor]...)
}

// Actors returns bucket names in creation order.
func (l *Log) Actors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Clear drops every bucket and the current actor. The sequence counter keeps
// increasing so entries from consecutive runs never compare equal.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string][]Entry)
	l.order = nil
	l.current = ""
}

// ClearActor empties a single bucket.
func (l *Log) ClearActor(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets[name]; ok {
		l.buckets[name] = []Entry{}
	}
	if l.current == name {
		l.current = ""
	}
}

// Export splits the router bucket from the rest.
func (l *Log) Export() Export {
	logs := l.GetLogs()
	out := Export{Router: logs[RouterActor], Agents: make(map[string][]Entry, len(logs))}
	if out.Router == nil {
		out.Router = []Entry{}
	}
	for actor, entries := range logs {
		if actor == RouterActor {
			continue
		}
		out.Agents[actor] = entries
	}
	return out
}

// TimelineEntry is an entry tagged with its actor.
type TimelineEntry struct {
	Actor string `json:"actor"`
	Entry
}

// Timeline merges every bucket ordered by sequence number.
func (l *Log) Timeline() []TimelineEntry {
	var out []TimelineEntry
	for actor, entries := range l.GetLogs() {
		for _, e := range entries {
			out = append(out, TimelineEntry{Actor: actor, Entry: e})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
