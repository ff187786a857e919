package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Naxetee/oficit-FactuLink/internal/funnel"
	"github.com/Naxetee/oficit-FactuLink/internal/orchestrator"
	"github.com/Naxetee/oficit-FactuLink/internal/sink"
	"github.com/Naxetee/oficit-FactuLink/internal/source"
	"github.com/Naxetee/oficit-FactuLink/pkg/config"
	"github.com/Naxetee/oficit-FactuLink/pkg/logger"
	"github.com/Naxetee/oficit-FactuLink/pkg/metrics"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "factulink",
		Short: "FactuLink - order listener for the accounting databases",
		Long: `FactuLink watches the orders table of every business database and hands
each new order to the invoicing controller as an event.`,
		SilenceUsage: true,
	}

	var configFile string
	root.PersistentFlags().StringVarP(&configFile, "config", "c", ".env", "Path to the .env or YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FactuLink v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Printf("Drivers: %v\n", source.DriverNames())
		},
	})

	var probe bool
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List the configured business sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return listSources(cmd.Context(), cfg, probe)
		},
	}
	sourcesCmd.Flags().BoolVar(&probe, "probe", false, "Query the highest order identifier of every polled source")
	root.AddCommand(sourcesCmd)

	var logLevel, metricsAddr string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the listeners",
		Long: `Start one listener per business, except the main business, and deliver
new orders to the configured sink until interrupted.

Example:
  factulink run --config /etc/factulink/.env --metrics-addr :9108`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			return runListeners(cfg)
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address, overrides METRICS_ADDR")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads a dotenv file into the environment when it exists, so
// its keys reach YAML substitution too, then reads the configuration.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil && !isYAML(path) {
		_ = godotenv.Load(path)
	}
	return config.Load(path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func runListeners(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	events := funnel.New(funnel.WithDepthObserver(collector.SetFunnelDepth))

	orch, err := orchestrator.New(cfg, events,
		orchestrator.WithLogger(logger.Named("orchestrator", "")),
		orchestrator.WithMetrics(collector))
	if err != nil {
		return err
	}

	out, err := sink.Open(cfg.Sink, logger.Named("sink", ""))
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger.Named("metrics", "")); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	delivery := sink.Start(events, out, collector, logger.Named("sink", ""))

	logger.Info("factulink started",
		zap.String("version", version),
		zap.String("main_business", cfg.MainBusiness),
		zap.Int("listeners", len(orch.Pollers())),
		zap.String("sink", out.Name()))

	orch.Run(ctx)

	// Queued events are still delivered, within the same shutdown budget
	// the listeners got. Nothing new arrives after Close.
	events.Close()
	if !delivery.Stop(shutdownTimeout(cfg)) {
		// The sink may still be inside Send; closing it under that call is
		// not safe, so it is left to process exit.
		logger.Warn("abandoning undelivered events", zap.Int("pending", events.Len()))
		return nil
	}

	if err := out.Close(); err != nil {
		logger.Warn("failed to close sink", zap.Error(err))
	}
	logger.Info("factulink stopped", zap.Int("delivered", delivery.Delivered()))
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}
	return orchestrator.DefaultShutdownTimeout
}

func listSources(ctx context.Context, cfg *config.Config, probe bool) error {
	factory := orchestrator.ConnectorFactory(cfg, zap.NewNop())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BUSINESS\tDRIVER\tSERIAL\tLOCATION\tSTATUS")
	for _, sc := range cfg.Sources {
		status := "polled"
		if sc.Name == cfg.MainBusiness {
			status = "main (not polled)"
		} else if probe {
			status = probeSource(ctx, factory, sc)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sc.Name, cfg.SourceDriver(sc), sc.Serial, sc.Path, status)
	}
	return w.Flush()
}

func probeSource(ctx context.Context, factory orchestrator.SourceFactory, sc config.SourceConfig) string {
	src, err := factory(sc)
	if err != nil {
		return "error: " + err.Error()
	}
	id, ok, err := src.MaxID(ctx)
	switch {
	case err != nil:
		return "error: " + err.Error()
	case !ok:
		return "empty"
	default:
		return fmt.Sprintf("last order %d", id)
	}
}
