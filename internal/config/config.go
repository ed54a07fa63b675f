/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, then normalizes the values the engines depend on.
 *
 * @dependencies
 * - github.com/spf13/viper: application configuration.
 * - pkg/money: whole-unit to minor-unit conversion.
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/circlepot/rosca-service/pkg/money"
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix   string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RateLimitPerMinute     int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	EventsExchange         string `mapstructure:"EVENTS_EXCHANGE"`
	JWTSecret              string `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins     string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	OwnerAddress           string `mapstructure:"OWNER_ADDRESS"`
	TreasuryAddress        string `mapstructure:"TREASURY_ADDRESS"`
	KeeperAddress          string `mapstructure:"KEEPER_ADDRESS"`
	CircleEngineAddress    string `mapstructure:"CIRCLE_ENGINE_ADDRESS"`
	GoalEngineAddress      string `mapstructure:"GOAL_ENGINE_ADDRESS"`
	CircleCustodyAddress   string `mapstructure:"CIRCLE_CUSTODY_ADDRESS"`
	GoalCustodyAddress     string `mapstructure:"GOAL_CUSTODY_ADDRESS"`
	CurrencyDecimals       int32  `mapstructure:"CURRENCY_DECIMALS"`
	MinContribution        string `mapstructure:"MIN_CONTRIBUTION"`
	MinMembers             int    `mapstructure:"MIN_MEMBERS"`
	MaxMembers             int    `mapstructure:"MAX_MEMBERS"`
	CollateralMultiplier   int64  `mapstructure:"COLLATERAL_MULTIPLIER_BPS"`
	ForfeitPenaltyBps      int64  `mapstructure:"FORFEIT_PENALTY_BPS"`
	VotingDelayHours       int    `mapstructure:"VOTING_DELAY_HOURS"`
	EnrollmentTimeoutHours int    `mapstructure:"ENROLLMENT_TIMEOUT_HOURS"`
	OverdueJobSchedule     string `mapstructure:"OVERDUE_JOB_SCHEDULE"`
	AbandonedJobSchedule   string `mapstructure:"ABANDONED_JOB_SCHEDULE"`
	KeeperEnabled          bool   `mapstructure:"KEEPER_ENABLED"`
	DevDepositsEnabled     bool   `mapstructure:"DEV_DEPOSITS_ENABLED"`

	// MinContributionMinor is MinContribution in minor units.
	MinContributionMinor int64 `mapstructure:"-"`
}

// VotingDelay is the wait between circle creation and the first early-start vote.
func (c Config) VotingDelay() time.Duration {
	return time.Duration(c.VotingDelayHours) * time.Hour
}

// EnrollmentTimeout is how long a circle may stay in enrollment before anyone may cancel it.
func (c Config) EnrollmentTimeout() time.Duration {
	return time.Duration(c.EnrollmentTimeoutHours) * time.Hour
}

// LoadConfig reads configuration from environment variables and an optional .env file
// in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DATABASE_URL", "file:rosca.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "rosca:rate_limit")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("EVENTS_EXCHANGE", "rosca.events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("OWNER_ADDRESS", "owner")
	viper.SetDefault("TREASURY_ADDRESS", "treasury")
	viper.SetDefault("KEEPER_ADDRESS", "keeper")
	viper.SetDefault("CIRCLE_ENGINE_ADDRESS", "circle-engine")
	viper.SetDefault("GOAL_ENGINE_ADDRESS", "goal-engine")
	viper.SetDefault("CIRCLE_CUSTODY_ADDRESS", "circle-custody")
	viper.SetDefault("GOAL_CUSTODY_ADDRESS", "goal-custody")
	viper.SetDefault("CURRENCY_DECIMALS", 2)
	viper.SetDefault("MIN_CONTRIBUTION", "1.0")
	viper.SetDefault("MIN_MEMBERS", 4)
	viper.SetDefault("MAX_MEMBERS", 100)
	viper.SetDefault("COLLATERAL_MULTIPLIER_BPS", 20000)
	viper.SetDefault("FORFEIT_PENALTY_BPS", 100)
	viper.SetDefault("VOTING_DELAY_HOURS", 72)
	viper.SetDefault("ENROLLMENT_TIMEOUT_HOURS", 720)
	viper.SetDefault("OVERDUE_JOB_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("ABANDONED_JOB_SCHEDULE", "0 * * * *")
	viper.SetDefault("KEEPER_ENABLED", true)
	viper.SetDefault("DEV_DEPOSITS_ENABLED", false)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "ROSCA_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("OWNER_ADDRESS")
	_ = viper.BindEnv("TREASURY_ADDRESS")
	_ = viper.BindEnv("KEEPER_ADDRESS")
	_ = viper.BindEnv("CIRCLE_ENGINE_ADDRESS")
	_ = viper.BindEnv("GOAL_ENGINE_ADDRESS")
	_ = viper.BindEnv("CIRCLE_CUSTODY_ADDRESS")
	_ = viper.BindEnv("GOAL_CUSTODY_ADDRESS")
	_ = viper.BindEnv("CURRENCY_DECIMALS")
	_ = viper.BindEnv("MIN_CONTRIBUTION")
	_ = viper.BindEnv("MIN_MEMBERS")
	_ = viper.BindEnv("MAX_MEMBERS")
	_ = viper.BindEnv("COLLATERAL_MULTIPLIER_BPS")
	_ = viper.BindEnv("FORFEIT_PENALTY_BPS")
	_ = viper.BindEnv("VOTING_DELAY_HOURS")
	_ = viper.BindEnv("ENROLLMENT_TIMEOUT_HOURS")
	_ = viper.BindEnv("OVERDUE_JOB_SCHEDULE")
	_ = viper.BindEnv("ABANDONED_JOB_SCHEDULE")
	_ = viper.BindEnv("KEEPER_ENABLED")
	_ = viper.BindEnv("DEV_DEPOSITS_ENABLED")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "error", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if err = normalize(&config); err != nil {
		return
	}
	return config, nil
}

func normalize(config *Config) error {
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "rosca:rate_limit"
	}
	if config.RateLimitPerMinute < 0 {
		config.RateLimitPerMinute = 0
	}
	if config.CurrencyDecimals < 0 || config.CurrencyDecimals > 8 {
		config.CurrencyDecimals = 2
	}
	if config.MinMembers < 2 {
		config.MinMembers = 4
	}
	if config.MaxMembers < config.MinMembers {
		config.MaxMembers = 100
	}
	if config.CollateralMultiplier <= 0 {
		config.CollateralMultiplier = 20000
	}
	if config.ForfeitPenaltyBps < 0 {
		config.ForfeitPenaltyBps = 100
	}
	if config.VotingDelayHours < 0 {
		config.VotingDelayHours = 72
	}
	if config.EnrollmentTimeoutHours <= 0 {
		config.EnrollmentTimeoutHours = 720
	}

	minor, err := money.ToMinor(config.MinContribution, config.CurrencyDecimals)
	if err != nil || minor <= 0 {
		return fmt.Errorf("MIN_CONTRIBUTION must be a positive amount with at most %d decimals, got %q", config.CurrencyDecimals, config.MinContribution)
	}
	config.MinContributionMinor = minor

	if config.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
