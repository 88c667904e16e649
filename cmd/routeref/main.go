package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jursonmo/routeref"
	"github.com/jursonmo/routeref/internal/config"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "routeref",
		Short:         "Reference-counted route installation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/routeref/routeref.toml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Install the configured routes and hold them until interrupted",
		RunE:  runApply,
	}
	applyCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Validate the configuration and print the routes",
			RunE:  runCheck,
		},
		applyCmd,
		&cobra.Command{
			Use:   "list",
			Short: "Print the routes installed with the configured table and protocol",
			RunE:  runList,
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Remove routes left behind by a previous run",
			RunE:  runCleanup,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state file: %s\n", cfg.StateFile)
	for _, o := range cfg.Owners {
		entries, _ := o.Entries() // validated by Load
		fmt.Fprintf(out, "%s (%d routes)\n", o.Name, len(entries))
		for _, e := range entries {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	backend, err := routeref.NewNetlinkBackend(cfg.NetlinkOptions()...)
	if err != nil {
		return err
	}
	defer backend.Close()

	installed, err := backend.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	recorded, err := routeref.FileStore{Path: cfg.StateFile}.Load()
	if err != nil {
		return fmt.Errorf("load installed routes: %w", err)
	}
	known := make(map[routeref.Entry]bool, len(recorded))
	for _, e := range recorded {
		known[e] = true
	}

	out := cmd.OutOrStdout()
	for _, e := range installed {
		if known[e] {
			fmt.Fprintf(out, "%s\n", e)
		} else {
			fmt.Fprintf(out, "%s (not recorded)\n", e)
		}
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	log := newLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	backend, err := routeref.NewNetlinkBackend(cfg.NetlinkOptions()...)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctrl := routeref.NewController(routeref.New(backend), routeref.FileStore{Path: cfg.StateFile}, routeref.WithLogger(log))
	n, err := ctrl.Recover(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale routes\n", n)
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	log := newLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	backend, err := routeref.NewNetlinkBackend(cfg.NetlinkOptions()...)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	manager := routeref.New(backend,
		routeref.WithLogger(log),
		routeref.WithMetrics(routeref.NewMetrics(reg)),
		routeref.WithTeardownTimeout(30*time.Second))
	ctrl := routeref.NewController(manager, routeref.FileStore{Path: cfg.StateFile}, routeref.WithLogger(log))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	if _, err := ctrl.Recover(ctx); err != nil {
		return err
	}
	defer ctrl.Close()

	var errs []error
	for _, o := range cfg.Owners {
		entries, _ := o.Entries() // validated by Load
		if _, err := ctrl.Reconcile(ctx, o.Name, entries); err != nil {
			errs = append(errs, fmt.Errorf("owner %s: %w", o.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("some routes could not be installed", slog.Any("error", err))
	}

	log.Info("holding routes", slog.Int("routes", len(ctrl.Routes())), slog.Any("owners", ctrl.Owners()))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
