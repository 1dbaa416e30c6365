package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/copilot/pkg/server"
)

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ask, search and schema tools over MCP streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return fmt.Errorf("failed to get listen-addr flag: %w", err)
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			if listenAddr == "" {
				listenAddr = rt.cfg.Server.ListenAddr
			}
			orch, err := rt.orchestrator(ctx)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Config{
				Logger:        rt.log,
				Answerer:      orch,
				Searcher:      rt.corpus.Searcher,
				Schema:        rt.querier,
				Version:       Version,
				ListenAddr:    listenAddr,
				AllowedTokens: rt.cfg.Server.AllowedTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("listen-addr", "", "HTTP listen address (default from config)")
	return cmd
}
