package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds settlement watcher configuration loaded from flags,
// env, or config file.
type Config struct {
	RPCURL            string
	RPCRateLimit      float64
	ConditionalTokens string
	Stablecoin        string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	PollInterval      time.Duration

	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	PGDSN             string
	RedisAddr         string
	HTTPAddr          string

	DirectoryURL       string
	DirectoryRefresh   time.Duration
	DirectoryRateLimit float64

	StreamURL           string
	MarketsAPIURL       string
	MarketsRateLimit    float64
	PriceFreshness      time.Duration
	PollCacheTTL        time.Duration
	MaxSubscriptions    int
	SubscriptionRefresh time.Duration

	BackfillLookback time.Duration
	BlockTime        time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	LogLevel        string
}

// Load merges config file, environment variables, and flags for the
// run command.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("directory-refresh", time.Minute)
	v.SetDefault("directory-rate-limit", 2.0)
	v.SetDefault("markets-rate-limit", 5.0)
	v.SetDefault("price-freshness", 5*time.Minute)
	v.SetDefault("poll-cache-ttl", 5*time.Minute)
	v.SetDefault("max-subscriptions", 500)
	v.SetDefault("subscription-refresh", 60*time.Second)
	v.SetDefault("backfill-lookback", 2*time.Hour)
	v.SetDefault("block-time", 2*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-retry-backoff", 30*time.Second)
	v.SetDefault("log-level", "info")

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		RPCRateLimit:      v.GetFloat64("rpc-rate-limit"),
		ConditionalTokens: v.GetString("conditional-tokens"),
		Stablecoin:        v.GetString("stablecoin"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		PollInterval:      v.GetDuration("poll-interval"),

		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		PGDSN:             v.GetString("pg-dsn"),
		RedisAddr:         v.GetString("redis-addr"),
		HTTPAddr:          v.GetString("http-addr"),

		DirectoryURL:       v.GetString("directory-url"),
		DirectoryRefresh:   v.GetDuration("directory-refresh"),
		DirectoryRateLimit: v.GetFloat64("directory-rate-limit"),

		StreamURL:           v.GetString("stream-url"),
		MarketsAPIURL:       v.GetString("markets-api-url"),
		MarketsRateLimit:    v.GetFloat64("markets-rate-limit"),
		PriceFreshness:      v.GetDuration("price-freshness"),
		PollCacheTTL:        v.GetDuration("poll-cache-ttl"),
		MaxSubscriptions:    v.GetInt("max-subscriptions"),
		SubscriptionRefresh: v.GetDuration("subscription-refresh"),

		BackfillLookback: v.GetDuration("backfill-lookback"),
		BlockTime:        v.GetDuration("block-time"),

		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		MaxRetryBackoff: v.GetDuration("max-retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

// BackfillConfig holds configuration for the one-shot backfill
// command.
type BackfillConfig struct {
	RPCURL            string
	RPCRateLimit      float64
	ConditionalTokens string
	Stablecoin        string
	Addresses         []string
	Lookback          time.Duration
	BlockTime         time.Duration
	BatchSize         uint64

	Out   string
	PGDSN string

	DirectoryURL string

	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	LogLevel        string
}

// LoadBackfill merges config sources for the backfill command.
func LoadBackfill(cfgFile string, flags *pflag.FlagSet) (BackfillConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return BackfillConfig{}, err
	}

	v.SetDefault("lookback", 2*time.Hour)
	v.SetDefault("block-time", 2*time.Second)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-retry-backoff", 30*time.Second)
	v.SetDefault("log-level", "info")

	cfg := BackfillConfig{
		RPCURL:            v.GetString("rpc"),
		RPCRateLimit:      v.GetFloat64("rpc-rate-limit"),
		ConditionalTokens: v.GetString("conditional-tokens"),
		Stablecoin:        v.GetString("stablecoin"),
		Addresses:         getStringSlice(v, "address"),
		Lookback:          v.GetDuration("lookback"),
		BlockTime:         v.GetDuration("block-time"),
		BatchSize:         v.GetUint64("batch-size"),

		Out:   v.GetString("out"),
		PGDSN: v.GetString("pg-dsn"),

		DirectoryURL: v.GetString("directory-url"),

		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		MaxRetryBackoff: v.GetDuration("max-retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("WATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
