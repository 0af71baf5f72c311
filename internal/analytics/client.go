// Package analytics projects remittance activity into a graph database so
// corridor flows and rate history can be explored with graph tooling. The
// projection is a convenience view; the transaction event log remains the
// sole audit record.
package analytics

import (
	"context"
	"errors"
)

// Client is the minimal contract the mirror needs from the graph engine.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) error
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")
