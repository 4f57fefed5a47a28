package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/normalizer"
	"github.com/bookhealth/bookhealth/internal/scoring"
	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/redis/go-redis/v9"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.LevelInfo
	if cfg != nil {
		level = logging.ParseLevel(cfg.Server.LogLevel)
	}
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithOutput(os.Stderr), logging.WithLevel(level), logging.WithService("bookhealth"))
}

// loadOptionalConfig loads the config file when it exists. Offline
// commands fall back to the storage and assessment defaults otherwise.
func loadOptionalConfig() (*config.Config, error) {
	path := config.ResolvePath(globalFlags.Config)
	if _, err := os.Stat(path); stderrors.Is(err, fs.ErrNotExist) {
		cfg := &config.Config{}
		cfg.Server.LogLevel = "info"
		if err := cfg.Storage.Validate(); err != nil {
			return nil, err
		}
		if err := cfg.Assessment.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.NewLoader(path).Load()
}

// dbPath prefers an explicit --db over the configured path.
func dbPath(cfg *config.Config) string {
	if RootCmd.PersistentFlags().Changed("db") || cfg == nil || cfg.Storage.Path == "" {
		return globalFlags.DBPath
	}
	return cfg.Storage.Path
}

// openStore opens the token store and, when configured, moves OAuth
// states to Redis.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	var base store.Store
	switch cfg.Storage.Driver {
	case "memory":
		base = store.NewMemoryStore()
	default:
		path := dbPath(cfg)
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		s.SetLogger(logger.With("component", "store"))
		logger.Debug("database opened", "path", path)
		base = s
	}

	if cfg.Storage.StateBackend != "redis" {
		return base, nil
	}
	rc := cfg.Storage.Redis
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    rc.Addrs,
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	})
	states := store.NewRedisStateStore(client, rc.KeyPrefix)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := states.Ping(pingCtx); err != nil {
		_ = states.Close()
		_ = base.Close()
		return nil, fmt.Errorf("redis state backend: %w", err)
	}
	logger.Info("oauth states stored in redis", "addrs", rc.Addrs)
	return store.WithStateStore(base, states), nil
}

// buildPipeline turns the assessment section into a normalizer and an
// engine.
func buildPipeline(ac config.AssessmentConfig, logger *logging.Logger) (*normalizer.Normalizer, *scoring.Engine, error) {
	opts := []normalizer.Option{normalizer.WithLogger(logger)}
	if ac.DuplicateNormalization != "" {
		mode, err := normalizer.ParseMode(ac.DuplicateNormalization)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, normalizer.WithMode(mode))
	}
	sc, err := scoring.FromAssessmentConfig(ac)
	if err != nil {
		return nil, nil, err
	}
	engine, err := scoring.NewEngine(sc)
	if err != nil {
		return nil, nil, err
	}
	return normalizer.New(opts...), engine, nil
}
