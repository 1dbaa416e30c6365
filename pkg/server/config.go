package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/copilot/pkg/agent"
	"github.com/malbeclabs/copilot/pkg/batch"
)

const (
	defaultListenAddr        = ":8080"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

type Config struct {
	Logger *slog.Logger

	Answerer batch.Answerer
	// Searcher and Schema are optional; their tools are only registered
	// when set.
	Searcher agent.Searcher
	Schema   agent.SchemaAccessor

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for the MCP endpoint
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Answerer == nil {
		return fmt.Errorf("answerer is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	return nil
}
