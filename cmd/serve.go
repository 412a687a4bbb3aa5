package cmd

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/koine/internal/executor"
	"github.com/zhubert/koine/internal/gateway"
	"github.com/zhubert/koine/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Start the HTTP gateway in the foreground.

server.auth_key (KOINE_SERVER_AUTH_KEY) is required. SIGINT or SIGTERM starts a
graceful shutdown; a second signal exits immediately.`,
	Example: `  KOINE_SERVER_AUTH_KEY=secret koine serve
  koine serve --host 127.0.0.1 --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Interface to listen on (default 0.0.0.0)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (default 3100)")
	serveCmd.Flags().String("worker-binary", "", "Path to the claude CLI (default claude)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"server.host":   "host",
		"server.port":   "port",
		"worker.binary": "worker-binary",
	})
	if err != nil {
		return err
	}
	if cfg.Server.AuthKey == "" {
		return errors.New("server.auth_key is required (set it in the config file or KOINE_SERVER_AUTH_KEY)")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if path, err := exec.LookPath(cfg.Worker.Binary); err != nil {
		log.Warn("worker binary not found on PATH, requests will fail to spawn", "binary", cfg.Worker.Binary)
	} else {
		log.Debug("worker binary resolved", "path", path)
	}

	builder, err := worker.NewBuilder(cfg.Worker, log, cfg.Server.AuthKey)
	if err != nil {
		return err
	}
	exe := executor.New(log,
		executor.WithKillGrace(cfg.Worker.KillGrace),
		executor.WithMaxOutputBytes(cfg.Worker.MaxOutputBytes),
	)
	srv, err := gateway.New(cfg, log, exe, builder)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down gracefully", "signal", sig)
		cancel()
		// On second signal, force exit
		sig = <-sigCh
		log.Warn("received second signal, force exiting", "signal", sig)
		os.Exit(1)
	}()

	log.Info("starting koine", "version", version, "addr", cfg.Server.Addr(),
		"structuredMode", cfg.Worker.StructuredMode,
		"streamingLimit", cfg.Concurrency.Streaming, "nonStreamingLimit", cfg.Concurrency.NonStreaming)
	return srv.Run(ctx)
}
