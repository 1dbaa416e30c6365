package cli

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const searchPreviewLen = 80

type SearchCmd struct{}

func NewSearchCmd() *SearchCmd {
	return &SearchCmd{}
}

func (c *SearchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Rank corpus chunks for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := cmd.Flags().GetInt("k")
			if err != nil {
				return fmt.Errorf("failed to get k flag: %w", err)
			}
			if k <= 0 {
				return fmt.Errorf("k must be positive")
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			c, err := rt.loadCorpus(ctx)
			if err != nil {
				return err
			}
			chunks, err := c.Searcher.Search(ctx, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("failed to search corpus: %w", err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
			table.SetAutoFormatHeaders(false)
			table.SetHeader([]string{"#", "Chunk", "Score", "Text"})
			for i, chunk := range chunks {
				table.Append([]string{
					fmt.Sprintf("%d", i+1),
					chunk.ID(),
					fmt.Sprintf("%.4f", chunk.Score),
					preview(chunk.Text, searchPreviewLen),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntP("k", "k", 5, "number of chunks to return")
	return cmd
}

// preview flattens whitespace and shortens s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
