package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nghyane/claude-relay/internal/api"
	"github.com/nghyane/claude-relay/internal/bootstrap"
	"github.com/nghyane/claude-relay/internal/config"
	"github.com/nghyane/claude-relay/internal/logging"
	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/metrics"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/resilience"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
	"github.com/nghyane/claude-relay/internal/usage"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the claude-relay HTTP server.

The config file is reloaded when it changes; provider, routing, retry and
API key changes apply to new requests without a restart.`,
	RunE: func(c *cobra.Command, args []string) error {
		return runServe(c.Context(), cfgFile, servePort)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port, overrides config and environment")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

func retryConfig(cfg *config.Config) resilience.RetryConfig {
	return resilience.RetryConfigFor(cfg.RequestRetry, time.Duration(cfg.MaxRetryInterval)*time.Second)
}

// idleTimeout parses stream-idle-timeout; "0" or a negative value disables it.
func idleTimeout(cfg *config.Config) time.Duration {
	if cfg.StreamIdleTimeout == "" {
		return executor.DefaultStreamIdleTimeout
	}
	d, err := time.ParseDuration(cfg.StreamIdleTimeout)
	if err != nil {
		log.Warnf("invalid stream-idle-timeout %q, using %s", cfg.StreamIdleTimeout, executor.DefaultStreamIdleTimeout)
		return executor.DefaultStreamIdleTimeout
	}
	if d <= 0 {
		return -1
	}
	return d
}

func logLevel(cfg *config.Config) string {
	if cfg.Debug {
		return "debug"
	}
	return "info"
}

func runServe(ctx context.Context, configPath string, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logging.SetupBaseLogger()

	result, err := bootstrap.Bootstrap(configPath)
	if err != nil {
		return err
	}
	cfg := result.Config
	if port != 0 {
		cfg.Port = port
	}
	logging.SetLogLevel(logLevel(cfg))
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		return fmt.Errorf("configure log output: %w", err)
	}
	if result.ConfigFileExists {
		log.Infof("using config %s", result.ConfigFilePath)
	} else {
		log.Warnf("config %s not found, running from defaults and environment", result.ConfigFilePath)
	}

	rec := metrics.New()
	log.AddHook(rec.Hook())

	plugin, err := usage.Initialize(usage.BackendConfigFrom(cfg.Usage))
	if err != nil {
		log.WithError(err).Warn("usage backend unavailable, keeping in-memory counters only")
		plugin = usage.NewLoggerPlugin(nil)
	}
	defer func() {
		if err := plugin.Stop(); err != nil {
			log.WithError(err).Warn("failed to flush usage records")
		}
	}()

	reg := registry.NewModelRegistry(cfg)
	if len(reg.Providers()) == 0 {
		log.Warn("no providers configured; every message request will fail until one is added")
	}

	obs := executor.Observers{plugin, rec}
	exec := executor.NewOpenAIExecutor(executor.Options{
		Retry:           retryConfig(cfg),
		IdleTimeout:     idleTimeout(cfg),
		Observer:        obs,
		OnBreakerChange: rec.BreakerStateChange,
	})
	batcher := executor.NewBatcher(exec, obs)
	srv := api.NewServer(cfg, reg, batcher, api.WithMetrics(rec), api.WithUsage(plugin))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if result.ConfigFileExists {
		watcher, err := config.NewWatcher(result.ConfigFilePath, func(next *config.Config) {
			bootstrap.ApplyEnvOverrides(next)
			if port != 0 {
				next.Port = port
			}
			next.Sanitize()
			if err := next.Validate(); err != nil {
				log.WithError(err).Warn("reloaded config rejected")
				return
			}
			reg.Update(next)
			exec.SetRetry(retryConfig(next))
			exec.SetIdleTimeout(idleTimeout(next))
			srv.UpdateConfig(next)
			logging.SetLogLevel(logLevel(next))
			log.Infof("config reloaded: %d providers", len(next.Providers))
		})
		if err != nil {
			log.WithError(err).Warn("config hot reload disabled")
		} else {
			g.Go(func() error {
				if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
	}

	return g.Wait()
}
