package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/copilot/pkg/agent"
)

type SchemaInput struct{}

type SchemaOutput struct {
	Tables  []string `json:"tables"`
	Summary string   `json:"summary"`
}

func RegisterSchemaTool(log *slog.Logger, server *mcp.Server, accessor agent.SchemaAccessor, name string) error {
	if accessor == nil {
		return errors.New("schema accessor is required")
	}
	req, err := jsonschema.For[SchemaInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema input schema: %w", err)
	}
	res, err := jsonschema.For[SchemaOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  `Describe the database: every table and view with its columns and types.`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ SchemaInput) (*mcp.CallToolResult, SchemaOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling schema")

		summary, tables, err := agent.SchemaSummary(ctx, accessor)
		observeTool(name, startTime, err)
		if err != nil {
			return nil, SchemaOutput{}, err
		}
		return nil, SchemaOutput{Tables: tables, Summary: summary}, nil
	})
	return nil
}
