// Package config loads and validates server configuration, the way
// Seednode-partybox binds viper to environment variables and
// command-line flags, combined with RoseWrightdev-Video-Conferencing's
// habit of collecting every validation failure into one wrapped error
// instead of failing on the first.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully validated server configuration (§6).
type Config struct {
	Server struct {
		Host     string
		HTTPPort int
		WSPort   int
	}
	Game struct {
		MinPlayers         int
		MaxPlayers         int
		DescribeTimeLimit  time.Duration
		VoteTimeLimit      time.Duration
		RoundDelay         time.Duration
	}
	Room struct {
		HeartbeatInterval time.Duration
		MaxIdleTime       time.Duration
	}
	Security struct {
		RateLimitDescribe string
		RateLimitVote     string
		RateLimitDefault  string
		SensitiveWords    []string
		Replacement       string
	}
	WordBank struct {
		FilePath           string
		MinSimilarity      float64
		MaxWordsPerCategory int
	}
	Auth struct {
		Domain    string
		Audience  string
		JWTSecret string
	}
	CORS struct {
		AllowAllOrigins bool
		AllowedOrigins  []string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Environment string
	LogLevel    string
}

// Load reads configuration from (in increasing precedence) a .env file,
// the process environment, and command-line flags, then validates it.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("UNDERCOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.ws_port", 8080)
	v.SetDefault("game.min_players", 3)
	v.SetDefault("game.max_players", 12)
	v.SetDefault("game.describe_time_limit", 60)
	v.SetDefault("game.vote_time_limit", 30)
	v.SetDefault("game.round_delay", 8)
	v.SetDefault("room.heartbeat_interval", 15)
	v.SetDefault("room.max_idle_time", 300)
	v.SetDefault("security.rate_limits.describe", "1-30s")
	v.SetDefault("security.rate_limits.vote", "1-10s")
	v.SetDefault("security.rate_limits.default", "10-1s")
	v.SetDefault("security.word_filter.replacement", "****")
	v.SetDefault("word_bank.file_path", "wordbank.json")
	v.SetDefault("word_bank.min_similarity", 0.0)
	v.SetDefault("word_bank.max_words_per_category", 500)
	v.SetDefault("cors.allow_all_origins", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("environment", "production")
	v.SetDefault("log_level", "info")

	fs := pflag.NewFlagSet("undercover", pflag.ContinueOnError)
	httpPort := fs.Int("http-port", 0, "HTTP port (overrides UNDERCOVER_SERVER_HTTP_PORT)")
	devMode := fs.Bool("dev", false, "development mode (console logging)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if *httpPort != 0 {
		v.Set("server.http_port", *httpPort)
	}
	if *devMode {
		v.Set("environment", "development")
	}

	var errs []string
	cfg := &Config{}
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.HTTPPort = v.GetInt("server.http_port")
	cfg.Server.WSPort = v.GetInt("server.ws_port")
	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.http_port out of range: %d", cfg.Server.HTTPPort))
	}

	cfg.Game.MinPlayers = v.GetInt("game.min_players")
	cfg.Game.MaxPlayers = v.GetInt("game.max_players")
	if cfg.Game.MinPlayers < 3 {
		errs = append(errs, "game.min_players must be >= 3")
	}
	if cfg.Game.MaxPlayers < cfg.Game.MinPlayers {
		errs = append(errs, "game.max_players must be >= game.min_players")
	}
	cfg.Game.DescribeTimeLimit = time.Duration(v.GetInt("game.describe_time_limit")) * time.Second
	cfg.Game.VoteTimeLimit = time.Duration(v.GetInt("game.vote_time_limit")) * time.Second
	cfg.Game.RoundDelay = time.Duration(v.GetInt("game.round_delay")) * time.Second

	cfg.Room.HeartbeatInterval = time.Duration(v.GetInt("room.heartbeat_interval")) * time.Second
	cfg.Room.MaxIdleTime = time.Duration(v.GetInt("room.max_idle_time")) * time.Second

	cfg.Security.RateLimitDescribe = v.GetString("security.rate_limits.describe")
	cfg.Security.RateLimitVote = v.GetString("security.rate_limits.vote")
	cfg.Security.RateLimitDefault = v.GetString("security.rate_limits.default")
	cfg.Security.SensitiveWords = v.GetStringSlice("security.word_filter.sensitive_words")
	cfg.Security.Replacement = v.GetString("security.word_filter.replacement")

	cfg.WordBank.FilePath = v.GetString("word_bank.file_path")
	cfg.WordBank.MinSimilarity = v.GetFloat64("word_bank.min_similarity")
	cfg.WordBank.MaxWordsPerCategory = v.GetInt("word_bank.max_words_per_category")

	cfg.Auth.Domain = v.GetString("auth.domain")
	cfg.Auth.Audience = v.GetString("auth.audience")
	cfg.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "development-only-session-signing-key-not-for-prod"
	}

	cfg.CORS.AllowAllOrigins = v.GetBool("cors.allow_all_origins")
	cfg.CORS.AllowedOrigins = v.GetStringSlice("cors.allowed_origins")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")

	cfg.Environment = v.GetString("environment")
	cfg.LogLevel = v.GetString("log_level")

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

// IsDevelopment reports whether the environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
