package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vasu-devs/Socratis/internal/interview"
	"github.com/vasu-devs/Socratis/internal/llm"
	"github.com/vasu-devs/Socratis/internal/model"
	"github.com/vasu-devs/Socratis/internal/questions"
	"github.com/vasu-devs/Socratis/internal/store"
	"github.com/vasu-devs/Socratis/internal/worker"
)

func main() {
	// A missing .env is the normal case in production.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "socratis",
		Short:        "AI mock technical interview server",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, evaluateCmd(), exportCmd(), questionsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `socratis --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("store", "sqlite", "Durable session store (sqlite, mongo)")
	f.String("db", "socratis.db", "SQLite database path")
	f.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	f.String("mongo-db", "socratis", "MongoDB database name")
	f.String("redis-url", "", "Redis URL for the session cache and shared queue (empty disables)")
	f.Duration("cache-ttl", store.DefaultCacheTTL, "Session cache entry TTL")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-provider", "openai", "Reasoning provider (openai for any OpenAI-compatible API, gemini)")
	f.String("llm-url", llm.DefaultOpenAIBaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the reasoning provider (empty produces placeholder reports)")
	f.String("llm-model", "", "Model name (provider default when empty)")
	f.Duration("llm-timeout", llm.DefaultTimeout, "Timeout for one evaluation call")
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate SESSION_ID",
		Short: "Re-run evaluation for one completed session and store the report",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export sessions and their reports as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	f.String("status", "", "Only export sessions with this status (active, completed)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the question catalog",
		RunE:  runQuestions,
	}
	f := cmd.Flags()
	f.StringSliceP("questions", "q", nil, "Extra question catalog files, JSON or YAML (repeatable)")
	addLogFlags(f)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SOCRATIS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("socratis")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/socratis")
	v.AddConfigPath("/etc/socratis")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// backend is the opened storage stack shared by the commands.
type backend struct {
	durable  store.Durable
	sessions *store.Sessions
	redis    *redis.Client
}

func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if err := b.durable.Close(); err != nil {
		slog.Warn("close session store", "error", err)
	}
}

func openBackend(ctx context.Context, v *viper.Viper) (*backend, error) {
	var (
		durable store.Durable
		err     error
	)
	switch kind := strings.ToLower(v.GetString("store")); kind {
	case "sqlite":
		durable, err = store.NewSQLite(v.GetString("db"))
	case "mongo":
		durable, err = store.NewMongo(ctx, v.GetString("mongo-uri"), v.GetString("mongo-db"))
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	b := &backend{durable: durable}
	var cache store.Cache
	if url := v.GetString("redis-url"); url != "" {
		b.redis, err = store.NewRedisClient(url)
		if err != nil {
			durable.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		cache = store.NewRedisCache(b.redis, v.GetDuration("cache-ttl"))
		if err := cache.Ping(ctx); err != nil {
			slog.Warn("session cache unreachable, serving from durable store", "error", err)
		}
	}
	b.sessions = store.NewSessions(durable, cache)
	slog.Info("session store ready", "store", v.GetString("store"), "cache", cache != nil)
	return b, nil
}

// newEvaluator builds the evaluation engine. A missing credential yields
// the unconfigured engine, which produces placeholder reports.
func newEvaluator(ctx context.Context, v *viper.Viper) (*llm.Evaluator, error) {
	p, err := llm.NewProvider(ctx, llm.Config{
		Provider: strings.ToLower(v.GetString("llm-provider")),
		BaseURL:  v.GetString("llm-url"),
		APIKey:   v.GetString("llm-key"),
		Model:    v.GetString("llm-model"),
		Timeout:  v.GetDuration("llm-timeout"),
	})
	if errors.Is(err, llm.ErrNotConfigured) {
		slog.Warn("no llm key configured, evaluations will produce placeholder reports")
		return llm.Unconfigured(), nil
	}
	if err != nil {
		return nil, err
	}
	slog.Info("evaluation provider ready", "provider", p.Name(), "model", v.GetString("llm-model"))
	return llm.NewEvaluator(p, v.GetDuration("llm-timeout")), nil
}

func loadPool(paths []string) (*questions.Pool, error) {
	pool, err := questions.Default()
	if err != nil {
		return nil, fmt.Errorf("load default catalog: %w", err)
	}
	if err := pool.Load(paths...); err != nil {
		return nil, err
	}
	return pool, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.Close()

	ev, err := newEvaluator(ctx, v)
	if err != nil {
		return fmt.Errorf("create evaluator: %w", err)
	}

	svc := interview.New(b.sessions, questions.NewPool(), model.InterviewConfig{}, nil)
	id := args[0]
	sess, err := svc.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}
	if sess.Status != model.StatusCompleted {
		return fmt.Errorf("session %s is still active", id)
	}
	if err := worker.Process(ctx, svc, ev, model.EvaluationJob{SessionID: id, Force: true}); err != nil {
		return fmt.Errorf("evaluate session %s: %w", id, err)
	}

	rv, err := svc.Report(ctx, id)
	if err != nil {
		return err
	}
	return writeJSONTo(cmd.OutOrStdout(), rv)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.Close()

	export, err := store.ExportSessions(ctx, b.durable, model.SessionStatus(v.GetString("status")))
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := writeJSONTo(w, export); err != nil {
		return err
	}
	slog.Info("exported sessions", "count", export.Count, "output", outPath)
	return nil
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	pool, err := loadPool(v.GetStringSlice("questions"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tEXAMPLES")
	for i, q := range pool.All() {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, q.Title, len(q.Examples))
	}
	return tw.Flush()
}

func writeJSONTo(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
