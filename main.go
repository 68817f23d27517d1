package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"kettle-autotune/internal/autotune"
	"kettle-autotune/internal/kettle"
)

var (
	// CLI flags
	configPath  = flag.String("config", "/config/config.yaml", "Path to configuration file")
	dryRun      = flag.Bool("dry-run", false, "Run in dry-run mode (log heater switching instead of driving GPIO)")
	simulate    = flag.Bool("simulate", false, "Tune a simulated kettle instead of hardware")
	ruleName    = flag.String("rule", "", "Override the tuning rule reported as the result")
	logLevelArg = flag.String("log-level", "", "Override log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := applyOverrides(config, *simulate, *ruleName, *logLevelArg); err != nil {
		log.Fatalf("Invalid command line override: %v", err)
	}
	setLogLevel(config.Server.LogLevel)

	log.Printf("Starting kettle auto-tuner (config: %s)", *configPath)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, config, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, *dryRun)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Println("Received shutdown signal, heater switched off")
			os.Exit(1)
		}
		log.Fatalf("Tuning failed: %v", err)
	}

	printResult(os.Stdout, result)
	if err := WriteResult(config.Output.ResultPath, result); err != nil {
		log.Fatalf("Failed to save result: %v", err)
	}
	log.Printf("Result written to %s", config.Output.ResultPath)

	if result.State != autotune.StateSucceeded {
		os.Exit(2)
	}
}

// applyOverrides applies command line overrides and validates the result
func applyOverrides(config *Config, simulate bool, rule, level string) error {
	if simulate {
		config.Sensor.Backend = backendSim
		config.Heater.Backend = backendSim
	}
	if rule != "" {
		config.Tuner.Rule = rule
	}
	if level != "" {
		config.Server.LogLevel = level
	}
	return config.Validate()
}

// run wires the sensor, heater and tuner together and runs one tuning session
// next to the metrics server. The heater is off and closed when run returns.
func run(ctx context.Context, config *Config, reg prometheus.Registerer, gatherer prometheus.Gatherer, dryRun bool) (*Result, error) {
	var (
		sim   *kettle.Simulator
		clock *virtualClock
		now   = time.Now
	)
	if config.Sensor.Backend == backendSim {
		sim = kettle.NewSimulator(config.SimParams())
		clock = newVirtualClock(time.Now())
		now = clock.Now
		log.Printf("Simulating a %.0fl kettle (%.0f cm, %.1f kW, sensor delay %v)",
			config.Simulation.VolumeL, config.Simulation.DiameterCm,
			config.Heater.PowerKW, config.Simulation.SensorDelay)
	}

	sensor, err := openSensor(config.Sensor, sim)
	if err != nil {
		return nil, err
	}
	defer sensor.Close()

	heater, err := openHeater(config.Heater, dryRun, sim, clock)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := heater.Close(); err != nil {
			log.Printf("Warning: failed to close heater: %v", err)
		}
	}()

	tuner, err := autotune.New(config.TunerParams(now, tunerLog))
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(reg)
	session := &Session{
		Config:  config,
		Tuner:   tuner,
		Sensor:  sensor,
		Heater:  heater,
		Metrics: metrics,
		Clock:   now,
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		return StartMetricsServer(serverCtx, config.Server.MetricsPort, gatherer, metrics)
	})

	var result *Result
	g.Go(func() error {
		// Stop serving metrics once the session is over
		defer stopServer()
		r, err := session.Run(gctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// printResult writes a human readable gains table
func printResult(w io.Writer, r *Result) {
	fmt.Fprintf(w, "Tuning run %s: %s after %d samples\n", r.ID, r.State, r.Samples)
	if r.State != autotune.StateSucceeded {
		return
	}
	fmt.Fprintf(w, "Ku=%.4f Pu=%.1fs\n", r.UltimateGain, r.UltimatePeriod)
	for _, rule := range autotune.Rules() {
		g := r.AllGains[rule]
		marker := " "
		if rule == r.Rule {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-16s Kp=%10.4f Ki=%10.5f Kd=%10.4f\n", marker, rule, g.Kp, g.Ki, g.Kd)
	}
}
