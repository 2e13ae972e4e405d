// Package backend defines the capability interface every text-generation
// provider implements, plus the concrete provider adapters.
package backend

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Budget bounds a single generation call.
type Budget struct {
	MaxOutputTokens int
}

// Backend is one text-generation service. Implementations must honour ctx
// cancellation and be safe for concurrent use.
type Backend interface {
	Name() string
	Execute(ctx context.Context, query, systemPrompt string, budget Budget) (string, error)
}

// Func adapts an ordinary function to the Backend interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, query, systemPrompt string, budget Budget) (string, error)
}

// Name returns the backend id.
func (f Func) Name() string { return f.ID }

// Execute calls Fn.
func (f Func) Execute(ctx context.Context, query, systemPrompt string, budget Budget) (string, error) {
	return f.Fn(ctx, query, systemPrompt, budget)
}

// sharedTransport is the pooled transport handed to every SDK client and
// the raw HTTP backend. Request deadlines come from the caller's context,
// so the clients built on it carry no timeout of their own.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: sharedTransport}
}
