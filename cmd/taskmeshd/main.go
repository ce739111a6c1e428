// Command taskmeshd is the thin entrypoint wiring the cross-repository
// task orchestration engine's components together. Configuration loading
// and the full CLI front end are out of scope (spec.md §1); this binary
// only exposes the single `serve` command the corpus's own entrypoints
// always provide, reading connection and listener parameters from
// environment variables as a minimal bootstrapping convenience.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"alex/internal/blocker"
	"alex/internal/broadcaster"
	"alex/internal/config"
	"alex/internal/coordinator"
	"alex/internal/depgraph"
	"alex/internal/eventlog"
	"alex/internal/logging"
	"alex/internal/projection"
	"alex/internal/push"
	"alex/internal/store"
	"alex/internal/task"
	"alex/internal/taskstore"
	"alex/internal/webhook"
	"alex/internal/worktree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskmeshd",
		Short: "Cross-repository task orchestration engine",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		dsn      string
		pushAddr string
		authOn   bool
		jwtSecret string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine's database-backed core and push server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Database.DSN = dsn
			cfg.Push.Host = pushAddr
			cfg.Push.AuthDisabled = !authOn
			cfg.Push.JWTSecret = jwtSecret
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", os.Getenv("TASKMESH_DATABASE_URL"), "PostgreSQL connection string")
	cmd.Flags().StringVar(&pushAddr, "push-addr", envOr("TASKMESH_PUSH_ADDR", ":8443"), "PushServer listen address")
	cmd.Flags().BoolVar(&authOn, "auth", envOr("TASKMESH_AUTH", "") != "", "enable PushServer bearer-token authentication")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", os.Getenv("TASKMESH_JWT_SECRET"), "HMAC secret for PushServer bearer tokens")
	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewComponentLogger("taskmeshd")

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	events := eventlog.New(db, logger)
	tasks := taskstore.New(db, events, logger)
	graph := depgraph.New(tasks)
	tasks.SetGraph(graph)

	analyzer := blocker.New(graph)
	aggregator := projection.NewAggregator(tasks)
	coord := coordinator.New(tasks, graph, logger)

	registry := prometheus.NewRegistry()

	var auth push.Authenticator = push.NewAnonymousAuthenticator()
	if !cfg.Push.AuthDisabled {
		auth = push.NewJWTAuthenticator(cfg.Push.JWTSecret)
	}
	poolStatus := pools{} // no pool registry in this engine; always reports not-found
	pushServer := push.New(push.Config{
		Addr:            cfg.Push.Host,
		AuthEnabled:     !cfg.Push.AuthDisabled,
		RateLimitPerSec: cfg.Push.Rate,
		BurstSize:       cfg.Push.EffectiveBurst(),
		CleanupInterval: cfg.Push.CleanupInterval,
	}, auth, poolStatus, workflowStatus{aggregator}, push.NewMetrics(registry), logger)

	bcast := broadcaster.New(pushServer, logger)
	bcast.SetBuffering(cfg.Broadcaster.BufferEnabled, cfg.Broadcaster.BufferSize)

	var titlePattern *regexp.Regexp
	if cfg.Import.TitlePattern != "" {
		titlePattern, err = regexp.Compile(cfg.Import.TitlePattern)
		if err != nil {
			return fmt.Errorf("compile import title pattern: %w", err)
		}
	}
	importer := webhook.NewIssueImporter(tasks, webhook.ImportFilter{
		RepositoryAllowList: cfg.Import.RepoAllowList,
		LabelAllowList:      cfg.Import.LabelAllowList,
		SkipClosed:          cfg.Import.SkipClosed,
		TitlePattern:        titlePattern,
	})
	receiver, err := webhook.NewReceiver(cfg.Push.JWTSecret, cfg.Push.JWTSecret, importer, logger)
	if err != nil {
		return fmt.Errorf("construct webhook receiver: %w", err)
	}

	tracker := worktree.New(worktree.NoopRunner{}, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reconcileLoop(ctx, coord, tasks, logger)
	go serveAdmin(ctx, registry, analyzer, tracker, receiver, logger)

	logger.Info("taskmeshd serving")
	return pushServer.Start(ctx)
}

// pools answers PushServer's get_pool_status request. The engine does not
// maintain a worker pool registry of its own (spec.md scopes that to a
// collaborating system), so every lookup reports not-found.
type pools struct{}

func (pools) PoolStatus(string) (map[string]any, bool) { return nil, false }

// workflowStatus answers PushServer's get_workflow_status request. This
// engine has no separate workflow entity, only repository-scoped task sets,
// so workflowID is taken as a repository name and reported via the
// projection Aggregator's per-repo view.
type workflowStatus struct {
	aggregator *projection.Aggregator
}

func (w workflowStatus) WorkflowStatus(workflowID string) (map[string]any, bool) {
	byRepo, err := w.aggregator.AggregateByRepo(context.Background())
	if err != nil {
		return nil, false
	}
	tasks, ok := byRepo[workflowID]
	if !ok {
		return nil, false
	}
	counts := map[task.Status]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return map[string]any{"total": len(tasks), "by_status": counts}, true
}

// serveAdmin exposes Prometheus metrics, a webhook intake endpoint, and a
// worktree summary, the auxiliary HTTP surface alongside the PushServer's
// own listener.
func serveAdmin(ctx context.Context, registry *prometheus.Registry, analyzer *blocker.Analyzer, tracker *worktree.Tracker, receiver *webhook.Receiver, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/worktrees", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tracker.Summarize(time.Now()))
	})
	mux.HandleFunc("/blockers/critical", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(analyzer.CriticalBlockers(1))
	})
	mux.HandleFunc("/webhooks/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		var parsed map[string]any
		_ = json.Unmarshal(body, &parsed)
		source := webhook.SourceUpstreamA
		if r.Header.Get("X-Static-Token") != "" {
			source = webhook.SourceUpstreamB
		}
		result := receiver.Handle(webhook.Delivery{
			Source:          source,
			Body:            body,
			SignatureHeader: r.Header.Get("X-Hub-Signature-256"),
			TokenHeader:     r.Header.Get("X-Static-Token"),
			ObjectKind:      r.Header.Get("X-Event-Kind"),
			Action:          stringField(parsed, "action"),
			Repository:      stringField(parsed, "repository"),
			Sender:          stringField(parsed, "sender"),
			Parsed:          parsed,
		})
		_ = json.NewEncoder(w).Encode(result)
	})

	srv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("admin listener stopped: %v", err)
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// reconcileLoop periodically re-derives dependency edge statuses from
// current task state, a housekeeping pass against drift (e.g. a crash
// mid-plan), grounded on mahavishnu's sync_coordinator.py periodic tick.
func reconcileLoop(ctx context.Context, coord *coordinator.Coordinator, tasks *taskstore.Store, logger logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			all, err := tasks.List(ctx, task.Filter{Limit: 1000})
			if err != nil {
				logger.Warn("reconcile: list tasks failed: %v", err)
				continue
			}
			ids := make([]string, 0, len(all))
			statusByID := make(map[string]task.Status, len(all))
			for _, t := range all {
				ids = append(ids, t.ID)
				statusByID[t.ID] = t.Status
			}
			changed, err := coord.Reconcile(ctx, ids, func(id string) (task.Status, bool) {
				st, ok := statusByID[id]
				return st, ok
			})
			if err != nil {
				logger.Warn("reconcile failed: %v", err)
				continue
			}
			if changed > 0 {
				logger.Info("reconcile updated %d dependency edges", changed)
			}
		}
	}
}
