package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/burrow-io/burrow/pkg/cluster"
	"github.com/burrow-io/burrow/pkg/config"
	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/metrics"
	"github.com/burrow-io/burrow/pkg/rpc"
	"github.com/burrow-io/burrow/pkg/runtime"
	"github.com/burrow-io/burrow/pkg/state"
	"github.com/burrow-io/burrow/pkg/trace"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig      string
	flagNodeID      string
	flagListen      string
	flagCoordinator string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow distributed agent runtime",
	Long:  "Burrow manages the lifecycle, placement, execution, and health of agents across a set of cooperating nodes.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("burrow %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run a coordinator node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cluster.RoleCoordinator)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cluster.RoleWorker)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to yaml config file")
	rootCmd.PersistentFlags().StringVar(&flagNodeID, "node-id", "", "Node id (generated if empty)")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "Inter-node listen address")
	workerCmd.Flags().StringVar(&flagCoordinator, "coordinator", "", "Coordinator endpoint")

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildStateProvider selects the configured state backend.
func buildStateProvider(cfg *config.Config) (state.Provider, error) {
	switch cfg.State.Provider {
	case "", "memory":
		return state.NewMemoryProvider(), nil
	case "file":
		return state.NewFileProvider(cfg.State.Dir), nil
	case "bolt":
		return state.NewBoltProvider(cfg.State.Dir), nil
	case "redis":
		return state.NewRedisProvider(cfg.State.Addr), nil
	default:
		return nil, fmt.Errorf("unknown state provider %q", cfg.State.Provider)
	}
}

// runNode runs a cluster node until SIGINT/SIGTERM.
func runNode(role cluster.Role) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagNodeID != "" {
		cfg.NodeID = flagNodeID
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagCoordinator != "" {
		cfg.Coordinator = flagCoordinator
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("main")

	provider, err := buildStateProvider(cfg)
	if err != nil {
		return err
	}

	// Metrics: flush the registry into the Prometheus bridge and serve it.
	bridge := metrics.NewPrometheusBridge()
	registry := metrics.Default()
	registry.AddExporter(bridge)
	registry.StartFlushLoop(cfg.MetricsFlushInterval)
	defer registry.Stop()

	tracer := trace.Default()
	tracer.AddExporter(trace.NewConsoleExporter())
	tracer.SetErrorHook(func() { metrics.RecordExporterError("trace") })
	tracer.StartExportLoop(cfg.MetricsFlushInterval)
	defer tracer.Stop()

	node, err := cluster.New(cluster.Config{
		Local: runtime.Config{
			MaxAgents:            cfg.MaxAgents,
			DefaultLimits:        cfg.DefaultLimits,
			HealthCheckInterval:  cfg.HealthCheckInterval,
			StateSaveInterval:    cfg.StateSaveInterval,
			WarningThreshold:     cfg.WarningThreshold,
			CriticalThreshold:    cfg.CriticalThreshold,
			ResponseTimeWarning:  cfg.ResponseTimeWarning,
			ResponseTimeCritical: cfg.ResponseTimeCritical,
			StateProvider:        provider,
			Tracer:               tracer,
		},
		NodeID:              cfg.NodeID,
		NodeName:            cfg.NodeName,
		Endpoint:            cfg.Listen,
		Role:                role,
		CoordinatorEndpoint: cfg.Coordinator,
		Transport:           rpc.NewHTTPTransport(),
		HeartbeatInterval:   cfg.HeartbeatInterval,
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		NodeCheckInterval:   cfg.NodeCheckInterval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsListen,
		Handler: bridge.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListen).Msg("Serving metrics")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		_ = metricsServer.Close()
		return node.Stop(context.Background())
	})

	return g.Wait()
}
