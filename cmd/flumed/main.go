// Command flumed is the flume gateway daemon.
//
// Configuration is read from flumed.yaml (working directory or /etc/flume),
// overridable with FLUME_* environment variables. Provider API keys come
// from ANTHROPIC_API_KEY or GEMINI_API_KEY.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/anthropic"
	"github.com/flumechat/flume/gemini"
	"github.com/flumechat/flume/pipeline"
	"github.com/flumechat/flume/server"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type config struct {
	Addr          string
	Provider      string
	WebSearch     bool   `mapstructure:"web_search"`
	SystemPrompt  string `mapstructure:"system_prompt"`
	FallbackModel string `mapstructure:"fallback_model"`
	LogLevel      string `mapstructure:"log_level"`
	Quota         int
	Tokens        map[string]string // bearer token -> user ID
	Models        modelsConfig
	Timeouts      timeoutsConfig
}

type modelsConfig struct {
	Default string
	Vision  string
	Table   []modelEntry
}

type modelEntry struct {
	ID          string
	Vision      bool
	Temperature bool
	Agent       bool
}

type timeoutsConfig struct {
	Default time.Duration
	Stages  map[string]time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flumed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := buildProvider(ctx, cfg,
		os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		return err
	}

	catalog, err := buildCatalog(cfg.Models)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Provider: provider,
		Auth:     authFunc(cfg.Tokens),
		Catalog:  catalog,
	}
	if cfg.Quota > 0 {
		deps.RateLimiter = newQuotaLimiter(cfg.Quota)
	}

	srv := server.New(server.Config{
		Addr:          cfg.Addr,
		SystemPrompt:  cfg.SystemPrompt,
		FallbackModel: cfg.FallbackModel,
		Timeouts: pipeline.Timeouts{
			Default: cfg.Timeouts.Default,
			Stages:  cfg.Timeouts.Stages,
		},
	}, deps)

	return srv.Run(ctx)
}

func loadConfig(path string) (config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetEnvPrefix("FLUME")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flumed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/flume")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default config file is fine; defaults and env apply.
		if path != "" || !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// buildProvider constructs the upstream provider. Env var values are passed
// in as parameters — env is only read in run().
func buildProvider(ctx context.Context, cfg config, anthropicKey, geminiKey string) (flume.Provider, error) {
	name := cfg.Provider
	if name == "" {
		switch {
		case anthropicKey != "" && geminiKey != "":
			return nil, errors.New("both ANTHROPIC_API_KEY and GEMINI_API_KEY are set: set provider in the config")
		case anthropicKey != "":
			name = "anthropic"
		case geminiKey != "":
			name = "gemini"
		default:
			return nil, errors.New("no API key found: set ANTHROPIC_API_KEY or GEMINI_API_KEY")
		}
	}

	switch name {
	case "anthropic":
		if anthropicKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY not set")
		}
		var opts []anthropic.Option
		if cfg.WebSearch {
			opts = append(opts, anthropic.WithWebSearch())
		}
		return anthropic.New(anthropicKey, opts...), nil
	case "gemini":
		if geminiKey == "" {
			return nil, errors.New("GEMINI_API_KEY not set")
		}
		var opts []gemini.Option
		if cfg.WebSearch {
			opts = append(opts, gemini.WithSearchGrounding())
		}
		client, err := gemini.New(ctx, geminiKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider %q: must be \"anthropic\" or \"gemini\"", name)
	}
}

// buildCatalog converts the model table into a flume.Catalog.
func buildCatalog(mc modelsConfig) (flume.Catalog, error) {
	if len(mc.Table) == 0 {
		return flume.Catalog{}, errors.New("no models configured")
	}
	models := make(map[string]flume.ModelConfig, len(mc.Table))
	for _, e := range mc.Table {
		if e.ID == "" {
			return flume.Catalog{}, errors.New("model entry without an id")
		}
		models[e.ID] = flume.ModelConfig{
			ID:                  e.ID,
			SupportsVision:      e.Vision,
			SupportsTemperature: e.Temperature,
			IsAgent:             e.Agent,
		}
	}
	def := mc.Default
	if def == "" {
		def = mc.Table[0].ID
	}
	if _, ok := models[def]; !ok {
		return flume.Catalog{}, fmt.Errorf("default model %q not in the table", def)
	}
	if mc.Vision != "" {
		if _, ok := models[mc.Vision]; !ok {
			return flume.Catalog{}, fmt.Errorf("vision model %q not in the table", mc.Vision)
		}
	}
	return flume.Catalog{Models: models, Default: def, Vision: mc.Vision}, nil
}

// authFunc resolves bearer tokens against the configured token table. With
// no table configured every non-empty token maps to a single local user,
// which keeps single-user deployments free of token bookkeeping.
func authFunc(tokens map[string]string) server.AuthFunc {
	return func(_ context.Context, token string) (flume.Identity, error) {
		if token == "" {
			return flume.Identity{}, flume.ErrUnauthenticated
		}
		if len(tokens) == 0 {
			return flume.Identity{ID: "local"}, nil
		}
		user, ok := tokens[token]
		if !ok {
			return flume.Identity{}, flume.ErrUnauthenticated
		}
		return flume.Identity{ID: user}, nil
	}
}
