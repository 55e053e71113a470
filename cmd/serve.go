package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/careerhub/internal/ai"
	"github.com/spigell/careerhub/internal/ai/gemini"
	"github.com/spigell/careerhub/internal/hub"
	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/persistence"
	"github.com/spigell/careerhub/internal/registry"
	"github.com/spigell/careerhub/internal/secrets"
	"github.com/spigell/careerhub/internal/server"
	"github.com/spigell/careerhub/internal/stats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the careerhub server",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "address to listen on (default :5000)")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

// serve runs the server until SIGINT or SIGTERM.
func serve(cmd *cobra.Command) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if err := normalizeConfig(config); err != nil {
		logger.Fatal("validating the config", zap.Error(err))
	}

	logger.Info("starting the careerhub", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Fatal("careerhub stopped with error", zap.Error(err))
	}
	logger.Info("careerhub stopped")
}

func run(ctx context.Context, config *Config, logger *zap.Logger) error {
	users, err := persistence.NewBoltStore(config.Storage.Path, config.Storage.ActivityLimit)
	if err != nil {
		return err
	}
	defer func() {
		if err := users.Close(); err != nil {
			logger.Warn("closing user store", zap.Error(err))
		}
	}()

	writer := persistence.NewWriter(users, persistence.WriterConfig{
		Workers:   config.Storage.Workers,
		QueueSize: config.Storage.QueueSize,
		Timeout:   config.Storage.Timeout,
	}, logger)
	writer.Start(ctx)
	defer writer.Stop()

	reg := registry.New(config.Hub.OutboxSize, logger)
	defer reg.Close()

	store := stats.NewStore(config.Hub.ActivityCapacity, config.Hub.UserActivityCapacity)
	h := hub.New(store, reg, writer, config.Hub.QueueSize, logger)
	h.SetLoader(users)

	analyzer, err := newAnalyzer(ctx, config.AI, logger)
	if err != nil {
		logger.Warn("resume analysis disabled", zap.Error(err))
		analyzer = ai.Disabled{}
	}

	srv := server.New(server.Config{
		Addr:           config.Server.Addr,
		MaxUploadBytes: config.Server.MaxUploadBytes,
		AllowedOrigins: config.Server.AllowedOrigins,
	}, h, reg, users, analyzer, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	return g.Wait()
}

func newAnalyzer(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.Analyzer, error) {
	if cfg == nil || !cfg.Enabled {
		return ai.Disabled{}, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		Env:  "GEMINI_API_KEY",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	genLogger := logger.With(zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries))

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewAnalyzer(generator, generator.Logger(), cfg.Gemini.MaxLogLength), nil
}

// normalizeConfig fills sections missing from a partial config file.
func normalizeConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is empty")
	}
	if config.Server == nil {
		config.Server = &ServerConfig{}
	}
	if config.Hub == nil {
		config.Hub = &HubConfig{}
	}
	if config.Storage == nil {
		config.Storage = &StorageConfig{}
	}
	if strings.TrimSpace(config.Storage.Path) == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if config.AI != nil && config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	return nil
}
