package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/vasu-devs/Socratis/internal/handler"
	appI18n "github.com/vasu-devs/Socratis/internal/i18n"
	"github.com/vasu-devs/Socratis/internal/interview"
	"github.com/vasu-devs/Socratis/internal/metrics"
	"github.com/vasu-devs/Socratis/internal/model"
	"github.com/vasu-devs/Socratis/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the interview API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(f)
	f.StringSliceP("questions", "q", nil, "Extra question catalog files, JSON or YAML (repeatable)")
	f.IntP("num-questions", "n", 2, "Number of questions per interview")
	f.Bool("shuffle", true, "Randomize question selection")
	addLLMFlags(f)
	f.Int("eval-workers", 4, "Concurrent evaluation workers")
	f.String("eval-queue", "memory", "Evaluation queue (memory, redis)")
	f.Duration("sweep-interval", time.Minute, "How often to re-enqueue completed sessions without a report (0 disables)")
	f.Duration("sweep-grace", 5*time.Minute, "Minimum age of a completed session before it is re-enqueued")
	f.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "Origins allowed for CORS and the voice stream (* for any)")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	addLogFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.Close()

	pool, err := loadPool(v.GetStringSlice("questions"))
	if err != nil {
		return err
	}

	ev, err := newEvaluator(ctx, v)
	if err != nil {
		return fmt.Errorf("create evaluator: %w", err)
	}

	queue, err := newQueue(v, b)
	if err != nil {
		return err
	}

	cfg := model.InterviewConfig{
		NumQuestions: v.GetInt("num-questions"),
		Shuffle:      v.GetBool("shuffle"),
		Language:     model.DefaultLanguage,
	}
	svc := interview.New(b.sessions, pool, cfg, queue)

	g, gctx := errgroup.WithContext(ctx)
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	dispatcher := worker.NewDispatcher(queue, svc, ev, v.GetInt("eval-workers"))
	g.Go(func() error { return dispatcher.Run(workerCtx) })

	if interval := v.GetDuration("sweep-interval"); interval > 0 {
		sweeper := worker.NewSweeper(b.durable, queue, v.GetDuration("sweep-grace"))
		if err := sweeper.Start("@every " + interval.String()); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	origins := v.GetStringSlice("allowed-origins")
	checks := []handler.Check{{Name: "store", Ping: b.sessions.Ping}}
	if b.redis != nil {
		checks = append(checks, handler.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return b.redis.Ping(ctx).Err()
		}})
	}
	h := handler.New(svc, origins, checks...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", metrics.Handler())
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("starting server",
			"addr", addr,
			"num_questions", cfg.NumQuestions,
			"shuffle", cfg.Shuffle,
			"catalog_size", pool.Len(),
			"evaluator_configured", ev.Configured(),
			"eval_queue", v.GetString("eval-queue"),
			"lang", lang,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopWorkers()
		return err
	})

	return g.Wait()
}

func newQueue(v *viper.Viper, b *backend) (worker.Queue, error) {
	switch kind := strings.ToLower(v.GetString("eval-queue")); kind {
	case "memory":
		return worker.NewMemoryQueue(0), nil
	case "redis":
		if b.redis == nil {
			return nil, fmt.Errorf("eval-queue=redis requires --redis-url")
		}
		return worker.NewRedisQueue(b.redis), nil
	default:
		return nil, fmt.Errorf("unknown eval-queue %q", kind)
	}
}
