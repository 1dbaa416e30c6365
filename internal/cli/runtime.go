package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/malbeclabs/copilot/pkg/agent"
	"github.com/malbeclabs/copilot/pkg/agent/metrics"
	"github.com/malbeclabs/copilot/pkg/config"
	"github.com/malbeclabs/copilot/pkg/corpus"
	"github.com/malbeclabs/copilot/pkg/llm"
	"github.com/malbeclabs/copilot/pkg/logger"
	"github.com/malbeclabs/copilot/pkg/querier"
)

// runtime holds the collaborators a command needs. Each is opened on first
// use and released by Close.
type runtime struct {
	log *slog.Logger
	cfg *config.Config

	querier *querier.Querier
	corpus  *corpus.Corpus
	llm     agent.LLMClient
}

// globalOptions are the root command's persistent flags.
type globalOptions struct {
	verbose    bool
	configPath string
	envFiles   []string
}

func readGlobalOptions(fs *pflag.FlagSet) (globalOptions, error) {
	var opts globalOptions
	var err error
	if opts.verbose, err = fs.GetBool("verbose"); err != nil {
		return opts, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	if opts.configPath, err = fs.GetString("config"); err != nil {
		return opts, fmt.Errorf("failed to get config flag: %w", err)
	}
	if opts.envFiles, err = fs.GetStringSlice("env-file"); err != nil {
		return opts, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	return opts, nil
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	opts, err := readGlobalOptions(cmd.Root().PersistentFlags())
	if err != nil {
		return nil, err
	}

	log := logger.New(opts.verbose)
	if err := config.LoadEnvFiles(log, opts.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	metrics.BuildInfo.WithLabelValues(Version, Commit, Date).Set(1)
	return &runtime{log: log, cfg: cfg}, nil
}

func (r *runtime) openQuerier(ctx context.Context) (*querier.Querier, error) {
	if r.querier != nil {
		return r.querier, nil
	}
	q, err := querier.Open(ctx, r.cfg.QuerierConfig(r.log))
	if err != nil {
		if errors.Is(err, querier.ErrDatabaseNotFound) {
			return nil, fmt.Errorf("%w (set database.dsn or COPILOT_DB_DSN)", err)
		}
		return nil, err
	}
	r.querier = q
	return q, nil
}

func (r *runtime) loadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	if r.corpus != nil {
		return r.corpus, nil
	}
	src, err := corpus.OpenSource(ctx, r.cfg.Corpus.Source)
	if err != nil {
		return nil, err
	}
	c, err := corpus.Load(ctx, r.log, src, r.cfg.Corpus.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus %s: %w", r.cfg.Corpus.Source, err)
	}
	r.corpus = c
	return c, nil
}

func (r *runtime) llmClient() (agent.LLMClient, error) {
	if r.llm != nil {
		return r.llm, nil
	}
	client, err := llm.New(r.log, r.cfg.LLMClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	r.llm = client
	return client, nil
}

func (r *runtime) orchestrator(ctx context.Context) (*agent.Orchestrator, error) {
	q, err := r.openQuerier(ctx)
	if err != nil {
		return nil, err
	}
	c, err := r.loadCorpus(ctx)
	if err != nil {
		return nil, err
	}
	client, err := r.llmClient()
	if err != nil {
		return nil, err
	}

	o, err := agent.New(agent.Config{
		Logger:     r.log,
		LLM:        client,
		Schema:     q,
		Engine:     q,
		Searcher:   c.Searcher,
		Timeouts:   r.cfg.AgentTimeouts(),
		TopK:       r.cfg.Corpus.TopK,
		MinScore:   r.cfg.Corpus.MinScore,
		MaxRepairs: r.cfg.MaxRepairs(),
		Planner:    r.cfg.PlannerConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	r.log.Debug("cli: orchestrator ready", "deadline", o.Deadline(), "max_repairs", r.cfg.MaxRepairs())
	return o, nil
}

func (r *runtime) Close() {
	if r.querier != nil {
		if err := r.querier.Close(); err != nil {
			r.log.Warn("cli: failed to close database", "error", err)
		}
	}
	if r.corpus != nil {
		if c, ok := r.corpus.Searcher.(io.Closer); ok {
			_ = c.Close()
		}
	}
	if c, ok := r.llm.(*llm.CachedClient); ok {
		c.Close()
	}
}
