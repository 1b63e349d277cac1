package internal

import "github.com/tbafbrt/Billedhenter/internal/catalog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	catalog catalog.Client
	mcp     bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithCatalogClient overrides the default ICRT catalog client.
func WithCatalogClient(c catalog.Client) Option {
	return func(a *application) {
		a.catalog = c
	}
}

// WithMCP switches the application to MCP stdio mode instead of the HTTP
// server.
func WithMCP(enabled bool) Option {
	return func(a *application) {
		a.mcp = enabled
	}
}
