// Package config loads service settings from the environment, optionally
// backed by a YAML file of the same keys.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverTables = "aztables"
	DriverSQLite = "sqlite"
	DriverNeo4j  = "neo4j"
)

// Config holds everything the service needs at start-up.
type Config struct {
	Debug bool

	StorageDriver    string
	ConnectionString string
	TasksTable       string
	StatsTable       string
	AwardQueue       string
	SQLitePath       string
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string

	RedisConnection string
	CacheTTL        time.Duration
	DeduperTTL      time.Duration
	ProgressChannel string

	Auth0Domain   string
	Auth0Audience string
	AuthTestMode  bool
	TestJWTSecret string

	GeminiAPIKey string
	GeminiModel  string

	AwardWorkers        int
	AwardBuffer         int
	AwardTimeout        time.Duration
	AwardHandoffTimeout time.Duration

	ListenAddr string
}

// source resolves keys from the environment first and the overlay file second.
type source struct {
	file map[string]string
	env  func(string) (string, bool)
}

func (s source) get(key string) string {
	if v, ok := s.env(key); ok && v != "" {
		return v
	}
	return s.file[key]
}

// Load reads the configuration from the process environment. When
// TASKMASTER_CONFIG names a YAML file its keys fill in unset variables.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(env func(string) (string, bool)) (Config, error) {
	src := source{file: map[string]string{}, env: env}
	if path, ok := env("TASKMASTER_CONFIG"); ok && path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	var errs []error
	cfg := Config{
		StorageDriver:    strings.ToLower(orDefault(src.get("STORAGE_DRIVER"), DriverTables)),
		ConnectionString: src.get("STORAGE_CONNECTION_STRING"),
		TasksTable:       orDefault(src.get("TASKS_TABLE"), "tasks"),
		StatsTable:       orDefault(src.get("STATS_TABLE"), "userstats"),
		AwardQueue:       src.get("AWARD_QUEUE"),
		SQLitePath:       orDefault(src.get("SQLITE_PATH"), "data/taskmaster.db"),
		Neo4jURI:         src.get("NEO4J_URI"),
		Neo4jUser:        orDefault(src.get("NEO4J_USER"), "neo4j"),
		Neo4jPassword:    src.get("NEO4J_PASSWORD"),
		RedisConnection:  src.get("REDIS_CONNECTION_STRING"),
		ProgressChannel:  orDefault(src.get("PROGRESS_CHANNEL"), "progress-updates"),
		Auth0Domain:      src.get("AUTH0_DOMAIN"),
		Auth0Audience:    src.get("AUTH0_AUDIENCE"),
		AuthTestMode:     src.get("AUTH0_TEST_MODE") == "1",
		TestJWTSecret:    src.get("TEST_JWT_SECRET"),
		GeminiAPIKey:     src.get("GEMINI_API_KEY"),
		GeminiModel:      orDefault(src.get("GEMINI_MODEL"), "gemini-1.5-flash"),
		ListenAddr:       ":8080",
	}
	if dbg, err := strconv.ParseBool(src.get("DEBUG")); err == nil {
		cfg.Debug = dbg
	}

	cfg.CacheTTL = envDur(src, "CACHE_TTL", 5*time.Minute, true, &errs)
	cfg.DeduperTTL = envDur(src, "DEDUPER_TTL", 24*time.Hour, false, &errs)
	cfg.AwardWorkers = envInt(src, "AWARD_WORKERS", 8, &errs)
	cfg.AwardBuffer = envInt(src, "AWARD_BUFFER", 1024, &errs)
	cfg.AwardTimeout = envDur(src, "AWARD_TIMEOUT", 30*time.Second, false, &errs)
	cfg.AwardHandoffTimeout = envDur(src, "AWARD_HANDOFF_TIMEOUT", 15*time.Millisecond, true, &errs)

	if v := src.get("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := src.get("FUNCTIONS_CUSTOMHANDLER_PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}

	switch cfg.StorageDriver {
	case DriverTables:
		if cfg.ConnectionString == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING"))
		}
	case DriverSQLite:
	case DriverNeo4j:
		if cfg.Neo4jURI == "" {
			errs = append(errs, errors.New("missing neo4j config: NEO4J_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver))
	}
	if cfg.AwardQueue != "" && cfg.ConnectionString == "" {
		errs = append(errs, errors.New("AWARD_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if cfg.AuthTestMode {
		if cfg.TestJWTSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config"))
	}

	return cfg, errors.Join(errs...)
}

// StatsOnTables reports whether progression stats live in Azure Tables.
// Other drivers keep stats in SQLite.
func (c Config) StatsOnTables() bool {
	return c.ConnectionString != "" && (c.StorageDriver == DriverTables || c.StorageDriver == DriverNeo4j)
}

// RedisOptions parses RedisConnection as a URL or as an Azure style
// "host:port,password=...,ssl=True" string. It returns nil when Redis is not
// configured.
func (c Config) RedisOptions() *redis.Options {
	if c.RedisConnection == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(c.RedisConnection)
	if err == nil {
		return redisOpts
	}
	parts := strings.Split(c.RedisConnection, ",")
	redisOpts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			redisOpts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				redisOpts.TLSConfig = &tls.Config{}
			}
		}
	}
	return redisOpts
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func envInt(src source, key string, def int, errs *[]error) int {
	v := src.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: must be a positive integer", key))
		return def
	}
	return n
}

func envDur(src source, key string, def time.Duration, allowZero bool, errs *[]error) time.Duration {
	v := src.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}
