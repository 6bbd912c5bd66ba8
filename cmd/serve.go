package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeitw/freeitw/internal/api"
	"github.com/freeitw/freeitw/internal/bootstrap"
	"github.com/freeitw/freeitw/internal/catalog"
	"github.com/freeitw/freeitw/internal/config"
	"github.com/freeitw/freeitw/internal/imds"
	"github.com/freeitw/freeitw/internal/sandboxprovider"
)

var serveHTTPCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServeHTTP()
	},
}

func init() {
	rootCmd.AddCommand(serveHTTPCmd)
}

func runServeHTTP() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = &config.Config{}
	}

	if _, err := bootstrap.Run(cfg); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cat := catalog.New()

	var imdsServer *imds.Server
	if cfg.AWS.UsesIMDS() {
		imdsServer, err = imds.NewServer("127.0.0.1:0", cfg.AWS.IMDSProfile())
		if err != nil {
			return fmt.Errorf("create IMDS server: %w", err)
		}
		go func() {
			slog.Info("IMDS server listening", "endpoint", imdsServer.Endpoint())
			if err := imdsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("IMDS server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = imdsServer.Shutdown(shutdownCtx)
		}()
	}

	rebuildSandboxes(cat, cfg, imdsServer)

	go func() {
		err := config.Watch(ctx, func(newCfg *config.Config) {
			slog.Info("reloaded config", "sandboxes", len(newCfg.Sandboxes))
			rebuildSandboxes(cat, newCfg, imdsServer)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("config watcher failed", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.EffectiveListenAddr(),
		Handler: api.NewServer(cat, slog.Default()),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("serving", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// rebuildSandboxes replaces every sandbox in cat with one freshly built from
// cfg. The always-present Host sandbox is rebuilt too, since its work
// directory is derived from cfg.WorkDir.
func rebuildSandboxes(cat *catalog.Catalog, cfg *config.Config, imdsServer *imds.Server) {
	workDir := cfg.EffectiveWorkDir()
	cat.Sandboxs.Set("host", sandboxprovider.Host("host", bootstrap.SandboxWorkDir(workDir, "host")))

	for name, sc := range cfg.Sandboxes {
		var aws *sandboxprovider.AWSCredentials
		if sc.UseAWS && imdsServer != nil {
			aws = &sandboxprovider.AWSCredentials{Endpoint: imdsServer.Endpoint()}
		}
		cat.Sandboxs.Set(name, sandboxprovider.Namespaced(name, bootstrap.SandboxWorkDir(workDir, name), sc.IsolationFlags, aws))
	}
}
