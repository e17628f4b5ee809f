package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsylvester/paynless-framework-sub003/api"
	rest "github.com/tsylvester/paynless-framework-sub003/api/rest/v1"
	"github.com/tsylvester/paynless-framework-sub003/internal/blocker"
	"github.com/tsylvester/paynless-framework-sub003/internal/dag"
	"github.com/tsylvester/paynless-framework-sub003/internal/event"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/internal/model"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/orchestrator"
	"github.com/tsylvester/paynless-framework-sub003/internal/processor"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
	"github.com/tsylvester/paynless-framework-sub003/internal/retry"
	"github.com/tsylvester/paynless-framework-sub003/internal/storage"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/internal/worker"
	"github.com/tsylvester/paynless-framework-sub003/pkg/db"
	"github.com/tsylvester/paynless-framework-sub003/pkg/env"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	usage   = "start"
	short   = "Start a dialectic orchestration node"
	long    = "This command starts the API and a pool of workers that claim and run generation jobs"
	example = "dialectic start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dumpStacksOnSignal(ctx)

	vars := env.Variables()

	metrics.Register()

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	catalog, err := recipe.Load(vars.RecipePath)
	if err != nil {
		log.Fatal("recipe catalog failure", "path", vars.RecipePath, "error", err)
	}

	nodeID := vars.NodeID
	if nodeID == "" {
		if nodeID, err = os.Hostname(); err != nil {
			log.Fatal("node id unavailable", "error", err)
		}
	}

	var (
		conn     = db.Connection()
		jobs     = store.New(conn)
		bus      = event.New()
		resolver = blocker.New(jobs, catalog)
		notifier = buildNotifier(vars, conn, bus)
		files    = storage.NewFileManager(vars.StoragePath, conn)
	)

	deps := processor.Deps{
		Model:     model.NewHTTPCaller(vars.ModelEndpoint, vars.ModelTimeout, nil),
		Files:     files,
		Assembler: &processor.PassthroughAssembler{Files: files},
		Steps:     catalog,
		Blocker:   resolver,
		Jobs:      jobs,
		Retrier:   retry.New(jobs, notifier, retry.WithContinuationLimit(vars.ContinuationLimit)),
		Notifier:  notifier,
	}

	orch := orchestrator.New(jobs, notifier, nil, deps)
	claimer := worker.NewClaimer(nodeID, jobs, vars.WorkerLeaseTTL, worker.ParseJobTypes(vars.WorkerJobTypes)...)
	executor := worker.NewJobExecutor(orch, dag.New(jobs, notifier), jobs, vars.WorkerLeaseTTL, vars.ServiceToken)
	w := worker.NewWorker(claimer, worker.NewPool(vars.WorkerPoolSize), vars.WorkerPollInterval, executor)

	reclaimer, err := worker.NewReclaimer(vars.ReclaimSchedule, claimer)
	if err != nil {
		log.Fatal("reclaim schedule failure", "schedule", vars.ReclaimSchedule, "error", err)
	}

	server := api.New(rest.Deps{Jobs: jobs, Blocker: resolver, Bus: bus})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("spinning up api", "port", vars.Port)
		return api.Start(ctx, server, vars.Port)
	})

	g.Go(func() error {
		log.Info("launching workers", "node_id", nodeID, "pool_size", vars.WorkerPoolSize, "job_types", vars.WorkerJobTypes)
		return w.Run(ctx)
	})

	g.Go(func() error {
		log.Info("launching lease reclaimer", "schedule", vars.ReclaimSchedule)
		return reclaimer.Run(ctx)
	})

	err = g.Wait()
	log.Info("dialectic node stopped", "node_id", nodeID)
	return err
}

func buildNotifier(vars env.Environment, conn *gorm.DB, bus event.Bus) notify.Emitter {
	sinks := notify.Multi{notify.NewStore(conn), notify.NewBus(bus)}
	if vars.NotificationWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(notify.WebhookConfig{
			URL:       vars.NotificationWebhookURL,
			UserAgent: "dialectic-worker",
		}, nil))
	}
	return sinks
}

func dumpStacksOnSignal(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			log.Info("dumping stack traces due to SIGUSR1 signal")
			if profile := pprof.Lookup("goroutine"); profile != nil {
				if err := profile.WriteTo(os.Stdout, 1); err != nil {
					log.Error("write goroutine profile", "error", err)
				}
			}
		}
	}
}
