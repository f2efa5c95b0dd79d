// Command mergequeue runs the merge-queue bot: the event dispatcher, the
// CI/VCS/UI collaborator bindings, the admin/webhook HTTP surface, and the
// read-only cron reconciler, wired together from internal/config,
// grounded on the teacher's cmd/gateway and cmd/datafeed entry points'
// load-config -> build-dependencies -> start-servers -> wait-for-signal
// shape.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/r3e-network/mergequeue/internal/collaborators"
	"github.com/r3e-network/mergequeue/internal/collaborators/ci"
	"github.com/r3e-network/mergequeue/internal/collaborators/ui"
	"github.com/r3e-network/mergequeue/internal/collaborators/vcs"
	"github.com/r3e-network/mergequeue/internal/config"
	"github.com/r3e-network/mergequeue/internal/dispatcher"
	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/metrics"
	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/internal/platform/database"
	"github.com/r3e-network/mergequeue/internal/policy"
	"github.com/r3e-network/mergequeue/internal/ratelimit"
	"github.com/r3e-network/mergequeue/internal/reconcile"
	"github.com/r3e-network/mergequeue/internal/storage/memory"
	"github.com/r3e-network/mergequeue/internal/storage/postgres"
	"github.com/r3e-network/mergequeue/internal/storage/postgres/migrations"
	"github.com/r3e-network/mergequeue/internal/storage/redisstore"
	"github.com/r3e-network/mergequeue/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// version is stamped at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mergequeue:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New("mergequeue", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.WithFields(nil).WithField("env", cfg.Env).Info("starting mergequeue")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()

	m := metrics.New("mergequeue", version)

	renderer, err := buildPolicyRenderer(cfg)
	if err != nil {
		return fmt.Errorf("build policy renderer: %w", err)
	}

	ciClient, err := ci.NewClient(cfg.CIBaseURL, cfg.CIToken, http.DefaultClient, ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitPerSecond,
		Burst:             cfg.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("build CI client: %w", err)
	}

	vcsBinding := vcs.New(vcs.Config{
		Workdir: cfg.VCSWorkdir,
		Remote:  cfg.VCSRemoteName,
	}, logger.New("vcs", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	hub := ui.NewHub(logger.New("ui-hub", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))
	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	defer close(hubStop)
	notifier := ui.NewNotifier(hub)

	router := collaborators.NewRouter(ciClient, vcsBinding, notifier, m, log, collaborators.DefaultRouterConfig())
	defer router.Stop()

	disp := dispatcher.New(store, router, dispatcher.Config{QueueSize: cfg.DispatchQueueSize}, log)
	defer disp.Stop()

	remote := identity.Remote(cfg.VCSRemoteName)
	ui.BuildCancelEvent = func(id pipeline.PipelineId, owner, repo string, number int) (pipeline.Canceled, error) {
		return pipeline.Canceled{
			PipelineID: id,
			Pr:         identity.NewPr(owner, repo, number, remote),
		}, nil
	}

	var auth *ui.AdminAuth
	if cfg.AdminToken != "" {
		auth = ui.NewAdminAuth(cfg.AdminToken)
	}
	uiServer := ui.NewServer(hub, disp, store, auth, logger.New("ui-server", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	reconciler := buildReconciler(store, m, cfg)
	if err := reconciler.Start(ctx, cfg.ReconcileCron); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer reconciler.Stop()

	httpServer := buildHTTPServer(cfg, uiServer, disp, renderer, remote)
	go func() {
		log.WithFields(nil).WithField("addr", httpServer.Addr).Info("admin HTTP surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(nil).WithError(err).Error("admin HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.WithFields(nil).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg *config.Config) (pipeline.Store, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.New(), func() {}, nil

	case config.StoragePostgres:
		db, err := database.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		database.ConfigurePool(db, 25, 5, time.Hour)
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return postgres.New(db, nil), func() { _ = db.Close() }, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisstore.New(rdb, nil), func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func buildPolicyRenderer(cfg *config.Config) (*policy.Renderer, error) {
	if cfg.PolicyScriptPath == "" {
		return nil, nil
	}
	script, err := os.ReadFile(cfg.PolicyScriptPath)
	if err != nil {
		return nil, fmt.Errorf("read policy script: %w", err)
	}
	return policy.NewRenderer(string(script))
}

func buildReconciler(store pipeline.Store, m *metrics.Metrics, cfg *config.Config) *reconcile.Reconciler {
	ids := make([]pipeline.PipelineId, len(cfg.Pipelines))
	for i, n := range cfg.Pipelines {
		ids[i] = pipeline.PipelineId(n)
	}
	return reconcile.New(store, m, ids, logger.New("reconcile", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))
}

// sink adapts *dispatcher.Dispatcher to the small EventSink interfaces the
// webhook handlers need (ui.Server already accepts dispatcher.Dispatcher
// directly via its EventSink interface; ciWebhookHandler below uses the
// same Dispatch method).
type sink interface {
	Dispatch(ctx context.Context, event pipeline.Event) error
}

func buildHTTPServer(cfg *config.Config, uiServer *ui.Server, disp sink, renderer *policy.Renderer, remote identity.Remote) *http.Server {
	r := mux.NewRouter()

	// PR-event webhook (opened/synchronize/closed/labeled -> pipeline events).
	for _, id := range cfg.Pipelines {
		message := func(owner, repo string, number int, commit, title string) string {
			if renderer == nil {
				return policy.DefaultTemplate(policy.MessageContext{Owner: owner, Repo: repo, Number: number, Commit: commit, Title: title})
			}
			rendered, err := renderer.Render(policy.MessageContext{Owner: owner, Repo: repo, Number: number, Commit: commit, Title: title})
			if err != nil {
				return policy.DefaultTemplate(policy.MessageContext{Owner: owner, Repo: repo, Number: number, Commit: commit, Title: title})
			}
			return rendered
		}
		webhook := ui.NewWebhook(pipeline.PipelineId(id), remote, ui.WebhookMapping{
			ActionPath:      "action",
			OwnerPath:       cfg.UIWebhookOwnerPath,
			RepoPath:        cfg.UIWebhookRepoPath,
			NumberPath:      cfg.UIWebhookNumberPath,
			CommitPath:      cfg.UIWebhookCommitPath,
			TitlePath:       cfg.UIWebhookTitlePath,
			ApprovalLabel:   cfg.UIWebhookApprovalLabel,
			LabelsPathExpr:  cfg.UIWebhookLabelsPathExpr,
		}, message)
		r.Handle(fmt.Sprintf("/webhooks/pr/%d", id), webhook.HandleFunc(disp)).Methods(http.MethodPost)
		r.HandleFunc(fmt.Sprintf("/webhooks/ci/%d", id), ciWebhookHandler(pipeline.PipelineId(id), cfg, disp)).Methods(http.MethodPost)
	}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)

	// UI collaborator surface: dashboard websocket + admin API. Registered
	// last so it doesn't shadow the more specific routes above (gorilla/mux
	// matches in registration order and this one matches every path).
	r.PathPrefix("/").Handler(uiServer.Router())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: r,
	}
}

func ciWebhookHandler(id pipeline.PipelineId, cfg *config.Config, disp sink) http.HandlerFunc {
	mapping := ci.FieldMapping{
		CommitPath:    cfg.CIWebhookCommitPath,
		StatusPath:    cfg.CIWebhookStatusPath,
		URLPath:       cfg.CIWebhookURLPath,
		SuccessValues: []string{cfg.CIWebhookSuccessValue},
		FailureValues: []string{cfg.CIWebhookFailureValue},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		status, err := ci.Decode(body, mapping)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var event pipeline.Event
		switch status.Kind {
		case ci.BuildSucceeded:
			event = pipeline.BuildSucceeded{PipelineID: id, BuiltCommit: status.Commit, URL: status.URL}
		case ci.BuildFailed:
			event = pipeline.BuildFailed{PipelineID: id, BuiltCommit: status.Commit, URL: status.URL}
		default:
			event = pipeline.BuildStarted{PipelineID: id, BuiltCommit: status.Commit, URL: status.URL}
		}

		if err := disp.Dispatch(r.Context(), event); err != nil {
			http.Error(w, "dispatch failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	info, err := host.Info()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d,"mem_used_percent":%.2f}`, info.Uptime, vm.UsedPercent)
}
