package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tge-sentinel/internal/health"
	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/pipeline"
	"github.com/sells-group/tge-sentinel/internal/textprep"
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves source health, stored alerts, ad-hoc classification and Prometheus metrics. With --watch the feed poll loop runs in the same process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mode := "serve"
		if serveWatch {
			mode = "watch"
		}
		env, err := initDetector(ctx, cfg, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		// Without a local poll loop the tracker is reloaded from the store
		// on each request so another process's progress is visible.
		sources := func(ctx context.Context) ([]sourceRow, error) {
			return loadSourceRows(ctx, env.Store, health.NewTracker(healthConfig(cfg.Health, nil)))
		}
		if serveWatch {
			sources = func(context.Context) ([]sourceRow, error) {
				return sourceRows(env.Tracker), nil
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env, sources, cfg.Server.CORSOrigins, cfg.Matcher.AlertThreshold),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if serveWatch {
			g.Go(func() error {
				fetcher := pipeline.NewJSONLFetcher(cfg.Pipeline.FeedsDir)
				return runWatch(gctx, env, env.newPipeline(cfg, fetcher, nil), fetcher, cycleInterval())
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also poll feeds in this process")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the API routes. sources reports source health.
func buildRouter(env *detectorEnv, sources func(context.Context) ([]sourceRow, error), origins []string, threshold int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		code := http.StatusOK
		if err := env.Store.Ping(r.Context()); err != nil {
			status["status"] = "unavailable"
			status["store"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if env.Checkpointer != nil && !env.Checkpointer.Healthy() {
			if code == http.StatusOK {
				status["status"] = "degraded"
			}
			status["checkpoint_failures"] = env.Checkpointer.ConsecutiveFailures()
		}
		writeJSON(w, code, status)
	})

	r.Get("/metrics", promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", func(w http.ResponseWriter, r *http.Request) {
			rows, err := sources(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, rows)
		})

		r.Get("/alerts", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					writeError(w, http.StatusBadRequest, eris.New("limit must be a non-negative integer"))
					return
				}
				limit = n
			}
			alerts, err := env.Store.ListAlerts(r.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, alerts)
		})

		r.Post("/classify", func(w http.ResponseWriter, r *http.Request) {
			var item model.CandidateItem
			if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
				writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
				return
			}
			res := env.Matcher.Classify(textprep.Prepare(item))
			writeJSON(w, http.StatusOK, classification{Alertable: res.Alertable(threshold), Result: res})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
