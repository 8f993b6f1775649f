package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ReleaseVersion = "1.0.0"

type Config struct {
	Bind            string
	Port            int
	CORSOrigins     []string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CacheTTL        time.Duration
	DeezerURL       string
	ProviderTimeout time.Duration
	SessionSecret   string
	PublicURL       string
	LogLevel        string
	LogFormat       string
	Version         bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format (must be console or json): %q", c.LogFormat)
	}
	if c.CacheTTL < 0 {
		return errors.New("--cache-ttl cannot be negative")
	}
	if c.ProviderTimeout <= 0 {
		return errors.New("--provider-timeout must be positive")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("invalid redis db: %d", c.RedisDB)
	}
	if err := checkURL("--deezer-url", c.DeezerURL); err != nil {
		return err
	}
	if c.PublicURL != "" {
		if err := checkURL("--public-url", c.PublicURL); err != nil {
			return err
		}
	}
	return nil
}

func checkURL(flag, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: %q", flag, raw)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(c *Config) *redis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
}

// NewCommand builds the root command. Every flag can also be set through
// a BLINDTEST_* environment variable.
func NewCommand(cfg *Config, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BLINDTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "blindtest",
		Short:         "Real-time multiplayer music blind test server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       ReleaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: BLINDTEST_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 3001, "port to listen on (env: BLINDTEST_PORT)")
	fs.StringSliceVar(&cfg.CORSOrigins, "cors-origin", []string{"http://localhost:5173"}, "allowed CORS origins, comma separated (env: BLINDTEST_CORS_ORIGIN)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the catalog cache, empty disables it (env: BLINDTEST_REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password (env: BLINDTEST_REDIS_PASSWORD)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number (env: BLINDTEST_REDIS_DB)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", time.Hour, "lifetime of cached catalog responses (env: BLINDTEST_CACHE_TTL)")
	fs.StringVar(&cfg.DeezerURL, "deezer-url", "https://api.deezer.com", "base URL of the Deezer API (env: BLINDTEST_DEEZER_URL)")
	fs.DurationVar(&cfg.ProviderTimeout, "provider-timeout", 20*time.Second, "time allowed to assemble a playlist (env: BLINDTEST_PROVIDER_TIMEOUT)")
	fs.StringVar(&cfg.SessionSecret, "session-secret", "", "HMAC key for rejoin tokens, random when empty (env: BLINDTEST_SESSION_SECRET)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "client URL used in room invites (env: BLINDTEST_PUBLIC_URL)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "trace, debug, info, warn or error (env: BLINDTEST_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "console", "console or json (env: BLINDTEST_LOG_FORMAT)")
	fs.BoolVarP(&cfg.Version, "version", "V", false, "display version and exit (env: BLINDTEST_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("blindtest v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
