// Package agent wires every collaborator — broadcaster adapter, request
// dispatcher, subprocess supervisor, timer scheduler, metric registry, and
// graphite side channel — into one running process.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/andante-project/yadtreceiver/pkg/bus"
	"github.com/andante-project/yadtreceiver/pkg/config"
	"github.com/andante-project/yadtreceiver/pkg/dispatcher"
	"github.com/andante-project/yadtreceiver/pkg/graphite"
	"github.com/andante-project/yadtreceiver/pkg/log"
	"github.com/andante-project/yadtreceiver/pkg/metrics"
	"github.com/andante-project/yadtreceiver/pkg/scheduler"
	"github.com/andante-project/yadtreceiver/pkg/supervisor"
)

// Agent owns one instance of every long-lived collaborator for the life of
// the process.
type Agent struct {
	cfg        config.Config
	store      *config.Store
	registry   *metrics.Registry
	sched      *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	supervisor *supervisor.Supervisor
	bus        *bus.Adapter
	httpSrv    *http.Server
}

// Options bundles the agent's startup configuration beyond Config itself.
type Options struct {
	ConfigPath string
	Version    string
	MetricsAddr string // e.g. "127.0.0.1:9090"; empty disables the HTTP server
	Exit        func(code int)
}

// New loads configuration and wires every collaborator. It does not start
// any goroutines or network connections; call Run for that.
func New(opts Options) (*Agent, error) {
	store, err := config.NewStore(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	cfg := store.Current()

	registry := metrics.NewRegistry(cfg.MetricsDir, cfg.MetricsFile)

	var notifier *graphite.Notifier
	if cfg.GraphiteHost != "" {
		notifier = graphite.New(cfg.GraphiteHost, cfg.GraphitePort)
	}

	sv := supervisor.New(supervisor.Config{
		Interpreter: cfg.PythonCommand,
		Script:      cfg.ScriptToExecute,
		TargetsDir:  cfg.TargetsDir,
		Metrics:     registry,
	})

	sched := scheduler.New(scheduler.Config{
		Flusher:  registry,
		Resetter: registry,
	})

	disp := dispatcher.New(dispatcher.Config{
		Metrics:         registry,
		Supervisor:      sv,
		Graphite:        notifier,
		Showdown:        sched,
		TargetsDir:      cfg.TargetsDir,
		ShowdownTimeout: cfg.ShowdownTimeout,
	})

	clientID := fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, cfg.Hostname)
	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}
	b := bus.New(bus.Config{
		Host:        cfg.BroadcasterHost,
		Port:        cfg.BroadcasterPort,
		ClientID:    clientID,
		Targets:     store,
		Dispatcher:  disp,
		OnNoTargets: func() { exit(1) },
	})

	// Wire the bus back into the dispatcher/supervisor/scheduler publisher
	// and connection-refresh interfaces now that it exists; this is the one
	// circular dependency in the graph (dispatcher needs to publish to the
	// bus, the bus needs to route into the dispatcher) and is resolved with
	// a setter instead of an interface cycle at construction time.
	disp.SetBus(b)
	sv.SetPublishers(b, b)
	sched.SetRefresher(b)

	metrics.SetVersion(opts.Version)
	metrics.SetBusState(false, "connecting")

	a := &Agent{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		sched:      sched,
		dispatcher: disp,
		supervisor: sv,
		bus:        b,
	}

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		a.httpSrv = &http.Server{Addr: opts.MetricsAddr, Handler: mux}
	}

	return a, nil
}

// Run connects to the broadcaster, starts the recurring timers, and serves
// the metrics/health HTTP endpoints (if configured) until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	logger := log.WithComponent("agent")

	if a.httpSrv != nil {
		go func() {
			if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics http server error")
			}
		}()
	}

	a.sched.Start()

	if err := a.bus.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broadcaster: %w", err)
	}
	metrics.SetBusState(true, "connected")

	<-ctx.Done()
	return nil
}

// Shutdown stops the scheduler and dispatcher, cancels pending showdown
// timers, flushes the metrics registry one last time, and closes the
// broadcaster session and HTTP server.
func (a *Agent) Shutdown(ctx context.Context) {
	logger := log.WithComponent("agent")

	a.dispatcher.Shutdown()
	a.sched.Stop()

	if _, err := a.registry.Flush(); err != nil {
		logger.Error().Err(err).Msg("final metrics flush failed")
	}

	if err := a.bus.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("error closing broadcaster session")
	}

	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("error shutting down metrics http server")
		}
	}
}
