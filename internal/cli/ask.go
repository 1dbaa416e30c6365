package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/copilot/pkg/agent"
	"github.com/malbeclabs/copilot/pkg/batch"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a single question and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatHint, err := cmd.Flags().GetString("format-hint")
			if err != nil {
				return fmt.Errorf("failed to get format-hint flag: %w", err)
			}
			id, err := cmd.Flags().GetString("id")
			if err != nil {
				return fmt.Errorf("failed to get id flag: %w", err)
			}
			showTrace, err := cmd.Flags().GetBool("trace")
			if err != nil {
				return fmt.Errorf("failed to get trace flag: %w", err)
			}

			hint, err := agent.ParseFormatHint(formatHint)
			if err != nil {
				return fmt.Errorf("invalid format hint: %w", err)
			}
			if id == "" {
				id = uuid.NewString()
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			orch, err := rt.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			res := orch.Answer(cmd.Context(), agent.Question{
				ID:         id,
				Text:       strings.Join(args, " "),
				FormatHint: hint,
			})

			var out any = batch.NewRecord(res)
			if showTrace {
				out = struct {
					batch.Record
					Trace agent.Trace `json:"trace"`
				}{batch.NewRecord(res), res.Trace}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringP("format-hint", "f", "", "answer shape: int, float, str, bool, list[str], list[{field:type,...}] or {field:type,...}")
	cmd.Flags().String("id", "", "question id (default random)")
	cmd.Flags().Bool("trace", false, "include the audit trace in the output")
	return cmd
}
