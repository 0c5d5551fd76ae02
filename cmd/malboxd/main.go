package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dualhorizon/malbox/pkg/config"
	"github.com/dualhorizon/malbox/pkg/coordinator"
	"github.com/dualhorizon/malbox/pkg/events"
	"github.com/dualhorizon/malbox/pkg/infra"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/metrics"
	"github.com/dualhorizon/malbox/pkg/plugin"
	"github.com/dualhorizon/malbox/pkg/reconciler"
	"github.com/dualhorizon/malbox/pkg/resource"
	"github.com/dualhorizon/malbox/pkg/store"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/dualhorizon/malbox/pkg/volume"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "malboxd",
	Short: "malbox - the malware-analysis sandbox task-lifecycle engine",
	Long: `malboxd drives analysis tasks from submission to completion: it owns
the priority task queue, the worker pool, the resource manager that
provisions guest VMs on demand, and the plugin manager that supervises
per-task analysis plugins over a shared-memory IPC channel.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"malboxd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/etc/malbox/config.yaml", "Path to the malbox config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(resourceCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task coordinator loop",
	Long: `serve loads the engine's configuration, recovers any pending tasks
from the durable store, and runs the task coordinator until interrupted:
the scheduler loop admits queued tasks into the worker pool, each worker
persists its task's outcome, the feedback loop logs and publishes those
outcomes, and the reconciler periodically releases
resources left allocated by a task that no longer exists or has already
reached a terminal state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		libvirtURI, _ := cmd.Flags().GetString("libvirt-uri")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		st, err := store.Open(cfg.Paths.DownloadDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		manifests, err := plugin.Discover(cfg.Paths.PluginsDir)
		if err != nil {
			return fmt.Errorf("discover plugins: %w", err)
		}
		fmt.Printf("✓ Discovered %d plugin manifests\n", len(manifests))

		plugins := plugin.New(manifests, "malbox", 10*time.Second)
		provider := infra.NewDefaultProvider(cfg.Paths.DownloadDir, libvirtURI)
		resources := resource.New(provider, resource.PolicyFirstAvailable)
		resources.SetLedger(st)

		storageDriver, err := volume.NewLocalStorageDriver(cfg.Paths.DownloadDir)
		if err != nil {
			return fmt.Errorf("init local storage driver: %w", err)
		}
		scratch, err := storageDriver.Provision(context.Background(), types.ResourceSpec{Kind: types.ResourceKindStorage})
		if err != nil {
			return fmt.Errorf("provision scratch storage resource: %w", err)
		}
		resources.Register(scratch)
		fmt.Printf("✓ Registered scratch storage resource %s at %s\n", scratch.ID, storageDriver.Path(scratch.ID))

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		coord := coordinator.New(st, resources, provider, plugins, nil, cfg.Analysis.MaxVMs)
		coord.SetBroker(broker)

		if err := coord.Start(context.Background()); err != nil {
			return fmt.Errorf("start coordinator: %w", err)
		}
		fmt.Println("✓ Task coordinator started")

		recon := reconciler.New(resources, st, 30*time.Second)
		recon.Start()
		fmt.Println("✓ Allocation reconciler started")

		collector := metrics.NewCollector(resources, plugins, coord.QueueDepth)
		collector.Start()
		fmt.Println("✓ Metrics collector started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "open")
		metrics.RegisterComponent("plugin-manager", true, fmt.Sprintf("%d manifests discovered", len(manifests)))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", metricsAddr)

		fmt.Println()
		fmt.Println("malboxd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		collector.Stop()
		recon.Stop()
		coord.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
	serveCmd.Flags().String("libvirt-uri", "", "libvirt connection URI (empty selects qemu:///system); ignored on darwin")
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Inspect installed analysis plugins",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugin manifests discovered on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		manifests, err := plugin.Discover(cfg.Paths.PluginsDir)
		if err != nil {
			return fmt.Errorf("discover plugins: %w", err)
		}
		if len(manifests) == 0 {
			fmt.Println("No plugins found")
			return nil
		}

		fmt.Printf("%-32s %-10s %-12s %-10s\n", "ID", "VERSION", "CONTEXT", "POLICY")
		for _, m := range manifests {
			fmt.Printf("%-32s %-10s %-12s %-10s\n",
				truncate(m.ID, 32), m.Version, m.ExecutionContext.String(), m.ExecutionPolicy.String())
		}
		return nil
	},
}

func init() {
	pluginCmd.AddCommand(pluginListCmd)
}

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Inspect analysis resource allocations",
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources currently allocated per the durable ledger",
	Long: `Resources themselves are a running coordinator's in-memory state,
not persisted beyond the allocation ledger. This command reads that ledger
directly, so it reflects allocations as of the last write rather than a
live coordinator's full resource pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		st, err := store.Open(cfg.Paths.DownloadDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		allocations, err := st.ListAllocations(ctx)
		if err != nil {
			return fmt.Errorf("list allocations: %w", err)
		}
		if len(allocations) == 0 {
			fmt.Println("No resources currently allocated")
			return nil
		}

		fmt.Printf("%-38s %-10s\n", "RESOURCE ID", "TASK ID")
		for _, a := range allocations {
			fmt.Printf("%-38s %-10d\n", a.ResourceID, a.TaskID)
		}
		return nil
	},
}

func init() {
	resourceCmd.AddCommand(resourceListCmd)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
