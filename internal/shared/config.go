package shared

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"mane_reservas/internal/domain"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string

	APIBase    string
	APITimeout time.Duration
	APIRPS     int

	SnapshotBackend string // memory | redis | mysql
	SnapshotTTL     time.Duration
	CatalogTTL      time.Duration
	RedisAddr       string
	RedisDB         int
	RedisPass       string
	MySQLDSN        string
	AMQPURL         string

	PolicyFile   string
	ProbeDelay   time.Duration
	ProbeDays    int
	ProbeWorkers int
	ProbeParty   int
	ProbeTime    string // "" tries the policy's probe times
	Location     *time.Location

	Policy domain.Policy
}

// Load reads the environment (optionally seeded from .env) and the policy file.
func Load() (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:          env("APP_ENV", "prod"),
		HTTPAddr:        env("HTTP_ADDR", ":8080"),
		MetricsAddr:     env("METRICS_ADDR", ":9100"),
		APIBase:         env("API_BASE_URL", "http://localhost:3001"),
		APITimeout:      time.Duration(atoi("API_TIMEOUT_SECONDS", 20)) * time.Second,
		APIRPS:          atoi("API_RPS", 10),
		SnapshotBackend: env("SNAPSHOT_BACKEND", "memory"),
		SnapshotTTL:     time.Duration(atoi("SNAPSHOT_TTL_SECONDS", 7*24*3600)) * time.Second,
		CatalogTTL:      time.Duration(atoi("CATALOG_TTL_SECONDS", 300)) * time.Second,
		RedisAddr:       env("REDIS_ADDR", "localhost:6379"),
		RedisDB:         atoi("REDIS_DB", 0),
		RedisPass:       env("REDIS_PASSWORD", ""),
		MySQLDSN:        env("MYSQL_DSN", "root:root@tcp(localhost:3306)/reservas?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		AMQPURL:         env("AMQP_URL", ""),
		PolicyFile:      env("POLICY_FILE", ""),
		ProbeDays:       atoi("PROBE_DAYS", 14),
		ProbeWorkers:    atoi("PROBE_WORKERS", 4),
		ProbeParty:      atoi("PROBE_PARTY", 2),
		ProbeTime:       env("PROBE_TIME", ""),
	}

	loc, err := time.LoadLocation(env("LOCATION", "America/Sao_Paulo"))
	if err != nil {
		return Config{}, fmt.Errorf("location: %w", err)
	}
	c.Location = loc

	switch c.SnapshotBackend {
	case "memory", "redis", "mysql":
	default:
		return Config{}, fmt.Errorf("SNAPSHOT_BACKEND %q: want memory, redis or mysql", c.SnapshotBackend)
	}

	c.Policy = domain.DefaultPolicy()
	if c.PolicyFile != "" {
		if c.Policy, err = LoadPolicy(c.PolicyFile); err != nil {
			return Config{}, err
		}
	}
	if ms := atoi("PROBE_DELAY_MS", -1); ms >= 0 {
		c.Policy.ProbeDelay = time.Duration(ms) * time.Millisecond
	}
	c.ProbeDelay = c.Policy.ProbeDelay

	if c.AMQPURL == "" {
		log.Warn().Msg("AMQP_URL is empty; reservation events will not be published")
	}
	return c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadPolicy overlays a YAML policy file on the default policy and validates it.
func LoadPolicy(path string) (domain.Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(b)
}

func ParsePolicy(b []byte) (domain.Policy, error) {
	p := domain.DefaultPolicy()
	if err := yaml.Unmarshal(b, &p); err != nil {
		return domain.Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return domain.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
