package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"companion-agent/api"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "companion-agent",
		Short:         "Companion chat core with proactive messaging",
		Long:          "companion-agent stores conversations and memory, talks to an OpenAI-compatible or Gemini backend, and periodically decides whether to message the user first.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newProactiveOnceCommand(&configPath))
	root.AddCommand(newTestAPICommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the local API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := a.store.ReadSettings()
	if err != nil {
		return err
	}
	a.svc.Scheduler().Start(settings.Proactive)

	server := api.NewServer(a.config.Server.Address, a.config.Server.Port, a.svc, a.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("API shutdown: %v", err)
	}
	return <-errCh
}

func newProactiveOnceCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "proactive-once",
		Short: "Run one proactive check against the target conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.svc.ProactiveOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newTestAPICommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test-api",
		Short: "Send the diagnostic prompt with the stored API settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.svc.TestAPI(cmd.Context(), nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "companion-agent v%s\n", version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
