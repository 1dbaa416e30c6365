package cli

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/copilot/pkg/batch"
)

type BatchCmd struct{}

func NewBatchCmd() *BatchCmd {
	return &BatchCmd{}
}

func (c *BatchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer every question in a JSONL file",
		Long: `Answer every question in a JSONL file and write one JSON line per question to the
output file: {id, final_answer, sql, confidence, explanation, citations}.

Paths ending in .gz are read and written gzip-compressed; "-" means stdin or stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			questionsPath, err := cmd.Flags().GetString("batch")
			if err != nil {
				return fmt.Errorf("failed to get batch flag: %w", err)
			}
			outPath, err := cmd.Flags().GetString("out")
			if err != nil {
				return fmt.Errorf("failed to get out flag: %w", err)
			}
			tracePath, err := cmd.Flags().GetString("trace")
			if err != nil {
				return fmt.Errorf("failed to get trace flag: %w", err)
			}
			workers, err := cmd.Flags().GetInt("workers")
			if err != nil {
				return fmt.Errorf("failed to get workers flag: %w", err)
			}
			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return fmt.Errorf("failed to get metrics-addr flag: %w", err)
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			log := rt.log
			ctx := cmd.Context()

			if workers == 0 {
				workers = rt.cfg.Batch.Workers
			}
			if metricsAddr == "" {
				metricsAddr = rt.cfg.MetricsAddr
			}
			if metricsAddr != "" {
				if err := serveMetrics(rt, metricsAddr); err != nil {
					return err
				}
			}

			questions, err := batch.LoadQuestions(log, questionsPath)
			if err != nil {
				return err
			}
			log.Info("cli: loaded questions", "count", len(questions), "path", questionsPath)

			orch, err := rt.orchestrator(ctx)
			if err != nil {
				return err
			}

			out, err := batch.CreateSink(outPath)
			if err != nil {
				return err
			}
			var trace *batch.Sink
			if tracePath != "" {
				trace, err = batch.CreateSink(tracePath)
				if err != nil {
					_ = out.Close()
					return err
				}
			}

			runner, err := batch.NewRunner(batch.RunnerConfig{
				Logger:   log,
				Answerer: orch,
				Output:   out,
				Trace:    trace,
				Workers:  workers,
			})
			if err != nil {
				return err
			}
			summary, runErr := runner.Run(ctx, questions)

			closeErr := out.Close()
			if trace != nil {
				closeErr = errors.Join(closeErr, trace.Close())
			}
			if runErr != nil {
				return runErr
			}
			if closeErr != nil {
				return fmt.Errorf("failed to close output: %w", closeErr)
			}

			log.Info("cli: results written",
				"path", outPath,
				"questions", summary.Questions,
				"degraded", summary.Degraded,
				"rag", summary.ByRoute["rag"],
				"sql", summary.ByRoute["sql"],
				"hybrid", summary.ByRoute["hybrid"],
				"duration", summary.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringP("batch", "b", "", "input JSONL file with questions")
	cmd.Flags().StringP("out", "o", "", "output JSONL file")
	cmd.Flags().String("trace", "", "optional JSONL file for per-question audit traces")
	cmd.Flags().IntP("workers", "w", 0, "number of questions answered concurrently (default from config)")
	cmd.Flags().String("metrics-addr", "", "address to serve prometheus metrics on while the batch runs")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

// serveMetrics exposes /metrics for the lifetime of the process.
func serveMetrics(rt *runtime, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	rt.log.Info("cli: prometheus metrics server listening", "address", ln.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			rt.log.Error("cli: metrics server stopped", "error", err)
		}
	}()
	return nil
}
