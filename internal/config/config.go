package config

import (
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port   uint16 `env:"PORT"    envDefault:"8080" validate:"min=1"`
	AppEnv string `env:"APP_ENV" envDefault:"development" validate:"oneof=development production test"`

	RoomTTL           time.Duration `env:"ROOM_TTL"            envDefault:"2h"`
	RoomSweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"15s" validate:"gt=0"`

	WsPingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"   validate:"gt=0"`
	WsReadLimit    int64         `env:"WS_READ_LIMIT"    envDefault:"16384" validate:"min=512"`
	WsSendBuffer   int           `env:"WS_SEND_BUFFER"   envDefault:"64"    validate:"min=1"`
	// Empty means any origin.
	WsAllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`

	RoomsAPIEnabled bool `env:"ROOMS_API_ENABLED" envDefault:"false"`
	EventQueueSize  int  `env:"EVENT_QUEUE_SIZE"  envDefault:"1024" validate:"min=1"`

	RedisEventsEnabled bool   `env:"REDIS_EVENTS_ENABLED" envDefault:"false"`
	RedisHost          string `env:"REDIS_HOST"           envDefault:"localhost"`
	RedisPort          uint16 `env:"REDIS_PORT"           envDefault:"6379" validate:"min=1"`
	RedisEventsStream  string `env:"REDIS_EVENTS_STREAM"  envDefault:"syncstart:events" validate:"required"`
	RedisEventsMaxLen  int64  `env:"REDIS_EVENTS_MAXLEN"  envDefault:"10000" validate:"min=0"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"syncstart.room-events"`

	ArchiveEnabled   bool   `env:"ARCHIVE_ENABLED"   envDefault:"false"`
	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"syncstart"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"syncstart"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"syncstart"`
}

func (c *Config) Production() bool { return c.AppEnv == "production" }

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + strconv.Itoa(int(c.RedisPort))
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
