package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/graph/model/anthropic"
	"github.com/dshills/convograph/graph/model/google"
	"github.com/dshills/convograph/graph/model/openai"
	"github.com/dshills/convograph/graph/store"
	"github.com/dshills/convograph/internal/agent"
	"github.com/dshills/convograph/internal/config"
)

// NewLogger returns a production (JSON) logger in production and a
// development (console) logger otherwise, at the given level.
func NewLogger(environment, level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// OpenStore opens the configured checkpoint store. The returned closer is nil
// for stores without resources to release.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store[agent.State], func(context.Context) error, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemStore[agent.State](), nil, nil

	case "sqlite":
		st, err := store.NewSQLiteStore[agent.State](cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, ignoreContext(st.Close), nil

	case "mysql":
		st, err := store.NewMySQLStore[agent.State](cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, ignoreContext(st.Close), nil

	case "redis":
		var opts []store.RedisOption
		if cfg.Redis.Prefix != "" {
			opts = append(opts, store.WithRedisPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, store.WithRedisTTL(cfg.Redis.TTL))
		}
		st := store.NewRedisStore[agent.State](cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		return st, ignoreContext(st.Close), nil

	case "dynamodb":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		return store.NewDynamoStore[agent.State](dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB.Table), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewProvider creates the configured completion provider. topics seed the
// offline "mock" provider.
func NewProvider(cfg config.ModelConfig, topics []string) (model.ChatModel, func(context.Context) error, error) {
	switch cfg.Provider {
	case "", "mock":
		return agent.NewOffline(topics), nil, nil
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Name), nil, nil
	case "openai":
		return openai.NewChatModel(cfg.APIKey, cfg.Name), nil, nil
	case "google":
		m := google.NewChatModel(cfg.APIKey, cfg.Name)
		return m, ignoreContext(m.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// Guard wraps m with retry, a circuit breaker and cost accounting.
func Guard(m model.ChatModel, cfg config.ModelConfig, costs *model.CostTracker, logger *zap.Logger) (*model.Guarded, error) {
	name := cfg.Name
	if named, ok := m.(interface{ Name() string }); ok && name == "" {
		name = named.Name()
	}
	if name == "" {
		name = cfg.Provider
	}

	retry := model.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.BaseDelay = cfg.Retry.BaseDelay
	retry.MaxDelay = cfg.Retry.MaxDelay

	return model.NewGuarded(m,
		model.WithModelName(name),
		model.WithRetry(retry),
		model.WithBreaker(model.BreakerSettings{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			MinRequests:      cfg.Breaker.MinRequests,
		}),
		model.WithCostTracker(costs),
		model.WithLogger(logger),
	)
}

func ignoreContext(close func() error) func(context.Context) error {
	return func(context.Context) error { return close() }
}
