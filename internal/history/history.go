// Package history keeps a full-text index of finished runs.
package history

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/agentrouter/utils"
)

// DefaultLimit caps Search when no limit is given.
const DefaultLimit = 10

const snippetChars = 240

// Document is the indexed view of a run.
type Document struct {
	RunID     string `json:"run_id"`
	Query     string `json:"query"`
	Route     string `json:"route"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	Agents    string `json:"agents"`
	StartedAt string `json:"started_at"`
}

// Hit is one search result.
type Hit struct {
	RunID     string  `json:"run_id"`
	Query     string  `json:"query"`
	Route     string  `json:"route"`
	Status    string  `json:"status"`
	Snippet   string  `json:"snippet"`
	StartedAt string  `json:"started_at"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// Index wraps a bleve index.
type Index struct {
	bleve bleve.Index
}

// Open returns an in-memory index when path is empty, otherwise opens or
// creates the index at path.
func Open(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &Index{bleve: idx}, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open history index: %w", err)
		}
		return &Index{bleve: idx}, nil
	}
	idx, err := bleve.New(path, bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create history index: %w", err)
	}
	return &Index{bleve: idx}, nil
}

// NewDocument builds a document with the time formatted the way it is stored.
func NewDocument(runID, query, route, status, output string, agents []string, started time.Time) Document {
	return Document{
		RunID:     runID,
		Query:     query,
		Route:     route,
		Status:    status,
		Output:    output,
		Agents:    strings.Join(agents, " "),
		StartedAt: started.UTC().Format(time.RFC3339),
	}
}

// Index adds or replaces the document for doc.RunID.
func (i *Index) Index(doc Document) error {
	if doc.RunID == "" {
		return errors.New("history: run id required")
	}
	return i.bleve.Index(doc.RunID, doc)
}

// Search runs a bleve query string over queries, outputs and agents.
func (i *Index) Search(q string, limit int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, errors.New("history: empty query")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Fields = []string{"*"}
	res, err := i.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res.Hits))
	for n, h := range res.Hits {
		out = append(out, Hit{
			RunID:     h.ID,
			Query:     field(h.Fields, "query"),
			Route:     field(h.Fields, "route"),
			Status:    field(h.Fields, "status"),
			Snippet:   utils.Truncate(field(h.Fields, "output"), snippetChars),
			StartedAt: field(h.Fields, "started_at"),
			Score:     h.Score,
			Rank:      n + 1,
		})
	}
	return out, nil
}

// Count returns the number of indexed runs.
func (i *Index) Count() (uint64, error) { return i.bleve.DocCount() }

// Close releases the index.
func (i *Index) Close() error { return i.bleve.Close() }

func field(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}
