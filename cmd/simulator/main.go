package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/lora-simulator/core"
	"github.com/signalsfoundry/lora-simulator/internal/config"
	"github.com/signalsfoundry/lora-simulator/internal/export"
	"github.com/signalsfoundry/lora-simulator/internal/logging"
	"github.com/signalsfoundry/lora-simulator/internal/observability"
	"github.com/signalsfoundry/lora-simulator/internal/simlog"
	"github.com/signalsfoundry/lora-simulator/timectrl"
)

type options struct {
	configPath  string
	ticks       int64
	mode        string
	policy      string
	metricsAddr string
	outDir      string
	resultsDB   string
	hold        bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to a scenario YAML file (built-in two-node scenario when empty)")
	fs.Int64Var(&o.ticks, "ticks", -1, "number of global ticks to run (overrides the scenario)")
	fs.StringVar(&o.mode, "mode", "", "accelerated or realtime (overrides the scenario)")
	fs.StringVar(&o.policy, "overlap-policy", "", "permissive or intersect (overrides the scenario)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics; disabled when empty")
	fs.StringVar(&o.outDir, "out", "out", "directory for simulation.log, results.csv and events.jsonl; disabled when empty")
	fs.StringVar(&o.resultsDB, "results-db", "", "SQLite database that accumulates run history; disabled when empty")
	fs.BoolVar(&o.hold, "hold", false, "keep serving metrics after the run until interrupted")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, base logging.Logger) error {
	ctx, log := logging.WithRunLogger(ctx, base)

	scenario, err := loadScenario(o)
	if err != nil {
		return err
	}
	mode, err := scenario.TimeMode()
	if err != nil {
		return err
	}

	runInfo := observability.RunInfo{
		ID:             logging.RunIDFromContext(ctx),
		TicksPerSecond: scenario.TicksPerSecond,
		Ticks:          scenario.Ticks,
		Mode:           mode.String(),
		OverlapPolicy:  scenario.OverlapPolicy,
		Nodes:          len(scenario.Nodes),
	}
	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.Run = runInfo
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	ctx, span := observability.StartRun(ctx, runInfo)
	defer span.End()

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(o.metricsAddr, collector, log)
	defer shutdownServer(metricsSrv, log)

	clock := timectrl.NewClock()
	rec := simlog.NewRecorder(clock, simlog.WithLogger(log))
	engine := core.NewSimulationEngine(nil,
		core.WithMetrics(collector),
		core.WithRecorder(rec),
		core.WithEngineLogger(log),
		core.WithSampleInterval(scenario.SampleInterval),
		core.WithTracing(ctx, observability.Tracer("core")),
	)
	if err := scenario.Populate(engine); err != nil {
		return fmt.Errorf("build scenario: %w", err)
	}

	tc := timectrl.NewTimeController(clock, scenario.TicksPerSecond, mode, timectrl.WithLogger(log))
	engine.Attach(tc)

	_ = rec.Addf(simlog.SeverityInfo, simlog.AreaSimulator, "starting %d nodes for %d ticks at %v ticks/s (%s, %s overlap)",
		len(engine.Nodes()), scenario.Ticks, scenario.TicksPerSecond, mode, scenario.OverlapPolicy)

	done, err := tc.RunFor(ctx, scenario.Ticks)
	if err != nil {
		return fmt.Errorf("start time controller: %w", err)
	}
	<-done

	stats := engine.Stats()
	_ = rec.Addf(simlog.SeverityInfo, simlog.AreaSimulator,
		"finished at tick %d: %d transmissions, %d cancellations, %d receptions, %d deaths",
		clock.Now(), stats.Transmissions, stats.Cancellations, stats.Receptions, stats.Deaths)
	log.Info(ctx, "simulation complete",
		logging.Int64("ticks", stats.Ticks),
		logging.Int64("transmissions", stats.Transmissions),
		logging.Int64("cancellations", stats.Cancellations),
		logging.Int64("receptions", stats.Receptions),
		logging.Int64("deaths", stats.Deaths),
	)

	if o.outDir != "" {
		if err := export.WriteRunArtifacts(o.outDir, rec, engine.Log); err != nil {
			return fmt.Errorf("export run: %w", err)
		}
		log.Info(ctx, "wrote run artifacts", logging.String("dir", o.outDir))
	}
	if o.resultsDB != "" {
		if err := saveRun(ctx, o.resultsDB, stats, rec, engine.Log); err != nil {
			return err
		}
		log.Info(ctx, "stored run history", logging.String("db", o.resultsDB))
	}

	if o.hold && metricsSrv != nil && ctx.Err() == nil {
		log.Info(ctx, "holding metrics endpoint open until interrupted")
		<-ctx.Done()
	}
	return nil
}

func saveRun(ctx context.Context, path string, stats core.EngineStats, rec *simlog.Recorder, events *core.EventLog) error {
	store, err := export.OpenResultStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	sum := export.RunSummary{
		RunID:         logging.RunIDFromContext(ctx),
		Ticks:         stats.Ticks,
		Transmissions: stats.Transmissions,
		Cancellations: stats.Cancellations,
		Receptions:    stats.Receptions,
		Deaths:        stats.Deaths,
	}
	if err := store.SaveRun(ctx, sum, rec.Entries(), rec.Data(), events.Events()); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

func loadScenario(o options) (*config.Scenario, error) {
	scenario := config.Default()
	if o.configPath != "" {
		var err error
		if scenario, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.ticks >= 0 {
		scenario.Ticks = o.ticks
	}
	if o.mode != "" {
		scenario.Mode = o.mode
	}
	if o.policy != "" {
		scenario.OverlapPolicy = o.policy
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return scenario, nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownServer(srv *http.Server, log logging.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn(ctx, "metrics server shutdown failed", logging.Err(err))
	}
}
