// Package mcp provides an MCP (Model Context Protocol) server exposing
// cablex expansion, inspection and the run ledger as tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cablex/internal/config"
	"github.com/nvandessel/cablex/internal/logging"
	"github.com/nvandessel/cablex/internal/pipeline"
	"github.com/nvandessel/cablex/internal/ratelimit"
	"github.com/nvandessel/cablex/internal/store"
)

// Server wraps the MCP SDK server with the cablex tools.
type Server struct {
	server       *sdk.Server
	ledger       store.Ledger
	runner       *pipeline.Runner
	defaults     *config.CablexConfig
	root         string
	logger       *slog.Logger
	audit        *AuditLogger
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "cablex")
	Version string // Server version
	Root    string // Workspace root; tool paths must stay inside it or ~/.cablex

	// Defaults supplies the expansion plan and parameters tools fall back
	// to. Nil uses config.Default().
	Defaults *config.CablexConfig
	// Ledger records runs. Nil opens the SQLite ledger under Root, or an
	// in-memory one when Defaults.Store.Enabled is false.
	Ledger store.Ledger

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
}

// NewServer creates a new MCP server with the cablex tools.
func NewServer(cfg *Config) (*Server, error) {
	defaults := cfg.Defaults
	if defaults == nil {
		defaults = config.Default()
	}

	ledger := cfg.Ledger
	if ledger == nil {
		var err error
		if ledger, err = openLedger(cfg.Root, defaults.Store); err != nil {
			return nil, err
		}
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	runner := pipeline.NewRunner(ledger)
	runner.SetLogger(cfg.Logger, cfg.Decisions)

	homeDir, _ := os.UserHomeDir()
	s := &Server{
		server:       mcpServer,
		ledger:       ledger,
		runner:       runner,
		defaults:     defaults,
		root:         cfg.Root,
		logger:       cfg.Logger,
		audit:        NewAuditLogger(cfg.Root, homeDir),
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

func openLedger(root string, sc config.StoreConfig) (store.Ledger, error) {
	if !sc.Enabled {
		return store.NewMemoryLedger(), nil
	}
	path := sc.Path
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(root); err != nil {
			return nil, err
		}
	}
	ledger, err := store.OpenSQLite(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	return ledger, nil
}

// Run serves over stdio until the client disconnects, the context is
// cancelled or the process is interrupted.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); cerr != nil && s.logger != nil {
		s.logger.Warn("failed to close server", "error", cerr)
	}
	return err
}

// Close closes the ledger and audit log.
func (s *Server) Close() error {
	var firstErr error
	if err := s.ledger.Close(); err != nil {
		firstErr = err
	}
	if err := s.audit.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
