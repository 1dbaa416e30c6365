package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/copilot/pkg/agent"
	"github.com/malbeclabs/copilot/pkg/batch"
	"github.com/malbeclabs/copilot/pkg/server/metrics"
)

type AskInput struct {
	Question   string `json:"question" jsonschema:"the natural-language question to answer"`
	FormatHint string `json:"format_hint,omitempty" jsonschema:"optional answer shape such as int, float, list[str] or list[{product:str, revenue:float}]"`
	ID         string `json:"id,omitempty" jsonschema:"optional caller-chosen question id echoed in the response"`
}

func RegisterAskTool(log *slog.Logger, server *mcp.Server, answerer batch.Answerer, name string, description string) error {
	if answerer == nil {
		return errors.New("answerer is required")
	}
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}
	res, err := jsonschema.For[batch.Record](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, batch.Record, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling ask", "question", req.Question, "format_hint", req.FormatHint)

		rec, err := handleAsk(ctx, log, answerer, req)
		observeTool(name, startTime, err)
		if err != nil {
			return nil, batch.Record{}, err
		}
		return nil, rec, nil
	})
	return nil
}

func handleAsk(ctx context.Context, log *slog.Logger, answerer batch.Answerer, req AskInput) (batch.Record, error) {
	text := strings.TrimSpace(req.Question)
	if text == "" {
		return batch.Record{}, errors.New("question is required")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	hint, err := agent.ParseFormatHint(req.FormatHint)
	if err != nil {
		log.Warn("mcp/tool: ignoring unrecognized format hint", "format_hint", req.FormatHint, "error", err)
	}

	res := answerer.Answer(ctx, agent.Question{ID: id, Text: text, FormatHint: hint})
	return batch.NewRecord(res), nil
}

func observeTool(name string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
