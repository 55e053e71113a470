package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "careerhub"
)

type Config struct {
	Server  *ServerConfig  `mapstructure:"server"`
	Hub     *HubConfig     `mapstructure:"hub"`
	Storage *StorageConfig `mapstructure:"storage"`
	AI      *AIConfig      `mapstructure:"ai"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	MaxUploadBytes int64    `mapstructure:"max-upload-bytes"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`
}

type HubConfig struct {
	QueueSize            int `mapstructure:"queue-size"`
	ActivityCapacity     int `mapstructure:"activity-capacity"`
	UserActivityCapacity int `mapstructure:"user-activity-capacity"`
	OutboxSize           int `mapstructure:"outbox-size"`
}

type StorageConfig struct {
	Path          string        `mapstructure:"path"`
	ActivityLimit int           `mapstructure:"activity-limit"`
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue-size"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "careerhub keeps live dashboards of career activity in sync and analyzes resumes",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	setDefaults()
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is careerhub.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("server.addr", ":5000")
	viper.SetDefault("server.max-upload-bytes", 10<<20)
	viper.SetDefault("hub.queue-size", 256)
	viper.SetDefault("hub.activity-capacity", 20)
	viper.SetDefault("hub.user-activity-capacity", 200)
	viper.SetDefault("hub.outbox-size", 64)
	viper.SetDefault("storage.path", app+".db")
	viper.SetDefault("storage.activity-limit", 200)
	viper.SetDefault("storage.workers", 4)
	viper.SetDefault("storage.queue-size", 256)
	viper.SetDefault("storage.timeout", 5*time.Second)
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.max-log-length", 200)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// A missing default config file is fine, every key has a default.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
