package hashembed

import (
	"context"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbedIsDeterministicAndNormalised(t *testing.T) {
	e := New(128)
	a, err := e.Embed(context.Background(), "Search the web for Python tutorials")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, _ := e.Embed(context.Background(), "search the WEB for python tutorials!")
	if math.Abs(dot(a, b)-1) > 1e-6 {
		t.Fatalf("expected identical vectors, cosine=%f", dot(a, b))
	}
	if math.Abs(dot(a, a)-1) > 1e-6 {
		t.Fatalf("vector not normalised")
	}
}

func TestEmbedEmptyTextIsZero(t *testing.T) {
	v, err := New(16).Embed(context.Background(), "  ?! ")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector")
		}
	}
}

func TestEmbedHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(0).Embed(ctx, "hi"); err == nil {
		t.Fatalf("expected context error")
	}
}
