package server

import (
	"github.com/mohammad-safakhou/agentrouter/internal/router"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// QueryRequest carries a user request.
type QueryRequest struct {
	Query string `json:"query"`
}

// TokenRequest exchanges an API key for a bearer token.
type TokenRequest struct {
	APIKey  string `json:"api_key"`
	Subject string `json:"subject,omitempty"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// RouteResponse is the routing explanation for a query.
type RouteResponse struct {
	Decision router.Decision `json:"decision"`
	Log      []runlog.Entry  `json:"log"`
}

// WorkerInfo describes one provisioned worker.
type WorkerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
