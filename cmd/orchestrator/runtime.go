package main

import (
	"context"
	"fmt"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/rs/zerolog"

	"github.com/Sugu-Inc/modern-onap-so/internal/application"
	"github.com/Sugu-Inc/modern-onap-so/internal/config"
	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/ansible"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/cloudsim"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/dbosworkflows"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/goworkflows"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/openstack"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/sqlite"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/syncworkflow"
	"github.com/Sugu-Inc/modern-onap-so/internal/logging"
	"github.com/Sugu-Inc/modern-onap-so/internal/metrics"
)

// runtime wires configuration, storage, backend clients, and a workflow
// engine into a ready DeploymentService. Every command builds one and
// closes it on the way out.
type runtime struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *metrics.Registry
	service *application.DeploymentService

	// launch is set by engines that finish initialization only after
	// workflows are registered (DBOS). Nil otherwise.
	launch func() error

	// closers run in reverse order on Close.
	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// newRuntime builds the full stack for one command invocation. The
// workflow worker is started here too: client verbs await their workflow
// in-process, so the same process must execute it.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	rt := &runtime{
		cfg:     cfg,
		log:     logging.WithComponent("orchestrator"),
		metrics: metrics.New(),
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	deployments := &sqlite.DeploymentRepo{DB: db}
	runs := &sqlite.ConfigurationRunRepo{DB: db}

	compute, network, configClient, err := buildClients(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	acts := &domain.Activities{
		Deployments: deployments,
		Runs:        runs,
		Compute:     compute,
		Network:     network,
		Config:      configClient,
		Retry: domain.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			OnRetry: func(op string, attempt int, err error) {
				rt.metrics.ActivityRetry(op)
			},
		},
		Timeouts: domain.Timeouts{
			Backend:      cfg.Timeouts.Backend,
			PollInterval: cfg.Timeouts.PollInterval,
			VMActive:     cfg.Timeouts.VMActive,
			VMGone:       cfg.Timeouts.VMGone,
			Playbook:     cfg.Timeouts.Playbook,
		},
		Log: logging.WithComponent("activities"),
	}

	engine, err := rt.buildEngine(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	runners, err := application.BuildRunners(engine, acts, application.Options{
		TransactionalUpdate: cfg.Engine.TransactionalUpdate,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build runners: %w", err)
	}

	if rt.launch != nil {
		if err := rt.launch(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("launch engine: %w", err)
		}
	}

	rt.service = &application.DeploymentService{
		Deployments: deployments,
		Runs:        runs,
		Runners:     runners,
		Activities:  acts,
		Log:         logging.WithComponent("service"),
		Metrics:     rt.metrics,
	}
	return rt, nil
}

// buildClients returns the compute, network, and configuration backends.
// With --simulate everything targets the in-memory cloud.
func buildClients(cfg config.Config) (domain.ComputeClient, domain.NetworkClient, domain.ConfigurationClient, error) {
	if simulate {
		cloud := cloudsim.New()
		return cloud, cloud, &cloudsim.PlaybookSim{}, nil
	}
	if cfg.OpenStack.AuthURL == "" {
		return nil, nil, nil, fmt.Errorf("openstack.auth_url is required (or pass --simulate)")
	}
	osClient := openstack.New(openstack.Options{
		AuthURL:     cfg.OpenStack.AuthURL,
		Username:    cfg.OpenStack.Username,
		Password:    cfg.OpenStack.Password,
		ProjectName: cfg.OpenStack.ProjectName,
		DomainName:  cfg.OpenStack.DomainName,
		Region:      cfg.OpenStack.Region,
	})
	playbooks := ansible.New(ansible.Options{
		Binary:      cfg.Ansible.Binary,
		PlaybookDir: cfg.Ansible.PlaybookDir,
		Verbosity:   cfg.Ansible.Verbosity,
	})
	return osClient, osClient, playbooks, nil
}

func (rt *runtime) buildEngine(ctx context.Context) (domain.WorkflowEngine, error) {
	switch rt.cfg.Engine.Kind {
	case config.EngineSync:
		return &syncworkflow.Engine{FanOut: rt.cfg.Engine.FanOut}, nil

	case config.EngineGoWorkflows:
		b := wfsqlite.NewSqliteBackend(rt.cfg.Engine.WorkflowDatabasePath)
		w := worker.New(b, nil)
		workerCtx, cancel := context.WithCancel(context.Background())
		if err := w.Start(workerCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("start workflow worker: %w", err)
		}
		rt.closers = append(rt.closers, func() {
			cancel()
			_ = w.WaitForCompletion()
		})
		return &goworkflows.Engine{
			Worker:  w,
			Client:  client.New(b),
			Timeout: rt.cfg.Engine.AwaitTimeout,
		}, nil

	case config.EngineDBOS:
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "orchestrator",
			DatabaseURL: rt.cfg.Engine.DatabaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("dbos context: %w", err)
		}
		// Workflows must be registered before Launch, so Launch is
		// deferred until BuildRunners has run.
		rt.launch = func() error { return dbos.Launch(dbosCtx) }
		rt.closers = append(rt.closers, func() { dbos.Shutdown(dbosCtx, 10*time.Second) })
		return &dbosworkflows.Engine{DBOSCtx: dbosCtx}, nil

	default:
		return nil, fmt.Errorf("unknown engine kind %q", rt.cfg.Engine.Kind)
	}
}
