package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Venkie07/kyla-api/config"
	"github.com/Venkie07/kyla-api/pkg/logger"
	"github.com/Venkie07/kyla-api/pkg/memory"
	"github.com/Venkie07/kyla-api/pkg/upstream"
	"github.com/Venkie07/kyla-api/proxy"
	"github.com/Venkie07/kyla-api/relay"
)

const serveLongDesc string = `Start the relay server.

Configuration is read from built-in defaults, then the TOML file given
with --config, then the dotenv file, then the environment, then flags.
The upstream API key is read from HF_API_KEY (or the variable named by
upstream.api_key_env); the server refuses to start without it.

Examples:
  kyla serve
  kyla serve --listen :9000 --model meta-llama/Llama-3.1-8B-Instruct:novita
  kyla serve --config kyla.toml --watch`

const serveShortDesc string = "Start the relay server"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	configPath  string
	envFile     string
	listen      string
	upstreamURL string
	model       string
	maxMessages int
	maxSessions int
	debug       bool
	watch       bool
}

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&cmder.envFile, "env-file", ".env", "Dotenv file to load if present")
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (default :8080)")
	cmd.Flags().StringVar(&cmder.upstreamURL, "upstream", "", "Upstream chat completions base URL")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Upstream model name")
	cmd.Flags().IntVar(&cmder.maxMessages, "max-messages", 0, "Recent messages kept behind the system prompt")
	cmd.Flags().IntVar(&cmder.maxSessions, "max-sessions", 0, "Conversations kept in memory at once")
	cmd.Flags().BoolVarP(&cmder.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&cmder.watch, "watch", false, "Reload model settings when the config file changes")

	return cmd
}

// loadOptions describes where configuration comes from. Flags that were set
// are applied as overrides so they also win on every hot reload.
func (c *serveCommander) loadOptions(cmd *cobra.Command) config.LoadOptions {
	flags := cmd.Flags()
	return config.LoadOptions{
		ConfigPath: c.configPath,
		EnvFile:    c.envFile,
		Overrides: func(cfg *config.Config) {
			if flags.Changed("listen") {
				cfg.Server.ListenAddr = c.listen
			}
			if flags.Changed("upstream") {
				cfg.Upstream.BaseURL = c.upstreamURL
			}
			if flags.Changed("model") {
				cfg.Upstream.Model = c.model
			}
			if flags.Changed("max-messages") {
				cfg.Memory.MaxMessages = c.maxMessages
			}
			if flags.Changed("max-sessions") {
				cfg.Memory.MaxSessions = c.maxSessions
			}
			if flags.Changed("debug") {
				cfg.Log.Debug = c.debug
			}
		},
	}
}

// loadConfig resolves and validates the configuration.
func (c *serveCommander) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(c.loadOptions(cmd))
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.NewLoggerTo(cmd.OutOrStdout(), cfg.Log.Debug, cfg.Log.JSON)
	defer log.Sync()

	log.Info("kyla relay starting",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("model", cfg.Upstream.Model),
		zap.Int("max_messages", cfg.Memory.MaxMessages),
		zap.Int("max_sessions", cfg.Memory.MaxSessions),
		zap.Bool("debug", cfg.Log.Debug),
	)

	client := upstream.NewOpenAI(upstream.OpenAIConfig{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Upstream.Model,
		Options: cfg.GenerationOptions(),
	}, log)

	store := memory.NewStore(cfg.Memory.SystemPrompt, cfg.Memory.MaxMessages,
		memory.WithMaxSessions(cfg.Memory.MaxSessions))
	r := relay.New(store, client, relay.Config{UpstreamTimeout: cfg.Upstream.Timeout.Duration}, log)

	srv := proxy.New(proxy.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ServiceName:  cfg.Server.ServiceName,
		AllowOrigins: cfg.Server.AllowOrigins,
	}, r, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.watch && c.configPath != "" {
		go func() {
			err := config.Watch(ctx, c.loadOptions(cmd), log, func(next *config.Config) {
				client.UpdateSettings(upstream.Settings{
					Model:   next.Upstream.Model,
					Options: next.GenerationOptions(),
				})
			})
			if err != nil {
				log.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("could not shut down cleanly: %w", err)
		}
		return nil
	}
}
