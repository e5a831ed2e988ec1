package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	AuditEnabled bool

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	KafkaBrokers  []string
	KafkaClientID string
	KafkaRetryMax int
	KafkaWriteMS  int
	ChatBridgeOn  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	FanoutScanSec     int
	FanoutBatchSize   int
	FanoutMaxAttempts int

	PushAPIURL    string
	PushAPIKey    string
	PushTimeoutMS int
	PushRetryMax  int
	PushBatchSize int
	PushEnabled   bool

	MailAPIURL         string
	MailAPIKey         string
	MailTimeoutMS      int
	MailTextTemplateID int
	MailEnabled        bool

	SweepFinishSpec   string
	SweepRemindSpec   string
	SweepBirthdaySpec string
	SweepLockTTLSec   int

	EventCacheTTLSec int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int
	InfluxEnabled   bool

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))

	cfg := Config{
		Env:              envRaw,
		ServiceName:      serviceNameDefault,
		HTTPPort:         httpPortDefault,
		LogLevel:         "info",
		ConfigPath:       strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS: 30000,

		JWKSTTLSeconds:  300,
		JWTClockSkewSec: 60,

		DBMaxConns:       10,
		DBMinConns:       1,
		DBConnMaxIdleSec: 300,
		DBConnMaxLifeSec: 1800,

		AuditEnabled: false,

		RateLimitRPS:   10,
		RateLimitBurst: 20,

		KafkaClientID: serviceNameDefault,
		KafkaRetryMax: 5,
		KafkaWriteMS:  5000,
		ChatBridgeOn:  false,

		AsynqQueue:       "default",
		AsynqConcurrency: 10,

		FanoutScanSec:     5,
		FanoutBatchSize:   50,
		FanoutMaxAttempts: 20,

		PushTimeoutMS: 5000,
		PushRetryMax:  2,
		PushBatchSize: 1000,
		PushEnabled:   false,

		MailTimeoutMS:      5000,
		MailTextTemplateID: 0,
		MailEnabled:        false,

		SweepFinishSpec:   "@every 1m",
		SweepRemindSpec:   "0 11 * * *",
		SweepBirthdaySpec: "0 10 * * *",
		SweepLockTTLSec:   50,

		EventCacheTTLSec: 60,

		InfluxTimeoutMS: 5000,
		InfluxEnabled:   false,

		OtelEnabled:     false,
		OtelInsecure:    true,
		OtelSampleRatio: 1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	// If issuer is set and no explicit JWKS URL is provided, default to issuer/.well-known/jwks.json.
	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.JWKSTTLSeconds <= 0 {
		problems = append(problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.KafkaRetryMax < 0 {
		problems = append(problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		problems = append(problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if cfg.RedisDB < 0 {
		problems = append(problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.AsynqRedisDB < 0 {
		problems = append(problems, Problem{Field: "ASYNQ_REDIS_DB", Message: "ASYNQ_REDIS_DB must be >= 0"})
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.FanoutScanSec <= 0 {
		problems = append(problems, Problem{Field: "FANOUT_SCAN_INTERVAL_SECONDS", Message: "FANOUT_SCAN_INTERVAL_SECONDS must be > 0"})
		cfg.FanoutScanSec = 5
	}
	if cfg.FanoutBatchSize <= 0 {
		problems = append(problems, Problem{Field: "FANOUT_BATCH_SIZE", Message: "FANOUT_BATCH_SIZE must be > 0"})
		cfg.FanoutBatchSize = 50
	}
	if cfg.FanoutMaxAttempts <= 0 {
		problems = append(problems, Problem{Field: "FANOUT_MAX_ATTEMPTS", Message: "FANOUT_MAX_ATTEMPTS must be > 0"})
		cfg.FanoutMaxAttempts = 20
	}
	if cfg.PushTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "PUSH_TIMEOUT_MS", Message: "PUSH_TIMEOUT_MS must be > 0"})
		cfg.PushTimeoutMS = 5000
	}
	if cfg.PushRetryMax < 0 {
		problems = append(problems, Problem{Field: "PUSH_RETRY_MAX", Message: "PUSH_RETRY_MAX must be >= 0"})
		cfg.PushRetryMax = 2
	}
	if cfg.PushBatchSize <= 0 {
		problems = append(problems, Problem{Field: "PUSH_BATCH_SIZE", Message: "PUSH_BATCH_SIZE must be > 0"})
		cfg.PushBatchSize = 1000
	}
	if cfg.MailTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "MAIL_TIMEOUT_MS", Message: "MAIL_TIMEOUT_MS must be > 0"})
		cfg.MailTimeoutMS = 5000
	}
	if cfg.SweepLockTTLSec <= 0 {
		problems = append(problems, Problem{Field: "SWEEP_LOCK_TTL_SECONDS", Message: "SWEEP_LOCK_TTL_SECONDS must be > 0"})
		cfg.SweepLockTTLSec = 50
	}
	if cfg.EventCacheTTLSec < 0 {
		problems = append(problems, Problem{Field: "EVENT_CACHE_TTL_SECONDS", Message: "EVENT_CACHE_TTL_SECONDS must be >= 0"})
		cfg.EventCacheTTLSec = 60
	}
	if cfg.InfluxTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.RateLimitRPS <= 0 {
		problems = append(problems, Problem{Field: "RATE_LIMIT_RPS", Message: "RATE_LIMIT_RPS must be > 0"})
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		problems = append(problems, Problem{Field: "RATE_LIMIT_BURST", Message: "RATE_LIMIT_BURST must be > 0"})
		cfg.RateLimitBurst = 20
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	if v := strings.TrimSpace(os.Getenv("SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	applyEnvInt(problems, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS)

	if v := strings.TrimSpace(os.Getenv("OIDC_ISSUER")); v != "" {
		cfg.OIDCIssuer = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")); v != "" {
		cfg.OIDCAudience = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")); v != "" {
		cfg.OIDCJWKSURL = v
	}
	applyEnvInt(problems, "JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds)
	applyEnvInt(problems, "JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec)

	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	applyEnvInt(problems, "DB_MAX_CONNS", &cfg.DBMaxConns)
	applyEnvInt(problems, "DB_MIN_CONNS", &cfg.DBMinConns)
	applyEnvInt(problems, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec)
	applyEnvInt(problems, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec)

	applyEnvBool(problems, "AUDIT_ENABLED", &cfg.AuditEnabled)

	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if f, ok := asFloat(v); ok {
			cfg.RateLimitRPS = f
		} else {
			*problems = append(*problems, Problem{Field: "RATE_LIMIT_RPS", Message: "RATE_LIMIT_RPS must be a number"})
		}
	}
	applyEnvInt(problems, "RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.CORSAllowedOrigins = parseCSV(v)
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")); v != "" {
		cfg.KafkaClientID = v
	}
	applyEnvInt(problems, "KAFKA_RETRY_MAX", &cfg.KafkaRetryMax)
	applyEnvInt(problems, "KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS)
	applyEnvBool(problems, "CHAT_BRIDGE_ENABLED", &cfg.ChatBridgeOn)

	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	applyEnvInt(problems, "REDIS_DB", &cfg.RedisDB)

	if v := strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")); v != "" {
		cfg.AsynqRedisAddr = v
	}
	if v := os.Getenv("ASYNQ_REDIS_PASSWORD"); v != "" {
		cfg.AsynqRedisPass = v
	}
	applyEnvInt(problems, "ASYNQ_REDIS_DB", &cfg.AsynqRedisDB)
	if v := strings.TrimSpace(os.Getenv("ASYNQ_QUEUE")); v != "" {
		cfg.AsynqQueue = v
	}
	applyEnvInt(problems, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency)

	applyEnvInt(problems, "FANOUT_SCAN_INTERVAL_SECONDS", &cfg.FanoutScanSec)
	applyEnvInt(problems, "FANOUT_BATCH_SIZE", &cfg.FanoutBatchSize)
	applyEnvInt(problems, "FANOUT_MAX_ATTEMPTS", &cfg.FanoutMaxAttempts)

	if v := strings.TrimSpace(os.Getenv("PUSH_API_URL")); v != "" {
		cfg.PushAPIURL = v
	}
	if v := os.Getenv("PUSH_API_KEY"); v != "" {
		cfg.PushAPIKey = v
	}
	applyEnvInt(problems, "PUSH_TIMEOUT_MS", &cfg.PushTimeoutMS)
	applyEnvInt(problems, "PUSH_RETRY_MAX", &cfg.PushRetryMax)
	applyEnvInt(problems, "PUSH_BATCH_SIZE", &cfg.PushBatchSize)
	applyEnvBool(problems, "PUSH_ENABLED", &cfg.PushEnabled)

	if v := strings.TrimSpace(os.Getenv("MAIL_API_URL")); v != "" {
		cfg.MailAPIURL = v
	}
	if v := os.Getenv("MAIL_API_KEY"); v != "" {
		cfg.MailAPIKey = v
	}
	applyEnvInt(problems, "MAIL_TIMEOUT_MS", &cfg.MailTimeoutMS)
	applyEnvInt(problems, "MAIL_TEXT_TEMPLATE_ID", &cfg.MailTextTemplateID)
	applyEnvBool(problems, "MAIL_ENABLED", &cfg.MailEnabled)

	if v := strings.TrimSpace(os.Getenv("SWEEP_FINISH_SPEC")); v != "" {
		cfg.SweepFinishSpec = v
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_REMIND_SPEC")); v != "" {
		cfg.SweepRemindSpec = v
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_BIRTHDAY_SPEC")); v != "" {
		cfg.SweepBirthdaySpec = v
	}
	applyEnvInt(problems, "SWEEP_LOCK_TTL_SECONDS", &cfg.SweepLockTTLSec)

	applyEnvInt(problems, "EVENT_CACHE_TTL_SECONDS", &cfg.EventCacheTTLSec)

	if v := strings.TrimSpace(os.Getenv("INFLUX_URL")); v != "" {
		cfg.InfluxURL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		cfg.InfluxToken = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_ORG")); v != "" {
		cfg.InfluxOrg = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_BUCKET")); v != "" {
		cfg.InfluxBucket = v
	}
	applyEnvInt(problems, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS)
	applyEnvBool(problems, "INFLUX_ENABLED", &cfg.InfluxEnabled)

	applyEnvBool(problems, "OTEL_ENABLED", &cfg.OtelEnabled)
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.OtelEndpoint = v
	}
	applyEnvBool(problems, "OTEL_EXPORTER_OTLP_INSECURE", &cfg.OtelInsecure)
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		if f, ok := asFloat(v); ok {
			cfg.OtelSampleRatio = f
		} else {
			*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
		}
	}
}

func applyEnvInt(problems *[]Problem, key string, target *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*target = v
}

func applyEnvBool(problems *[]Problem, key string, target *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, ok := asBool(raw)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return
	}
	*target = v
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for key, value := range raw {
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "ENV":
			if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
				cfg.Env = strings.TrimSpace(s)
			}
		case "SERVICE_NAME":
			applyMapString(value, &cfg.ServiceName)
		case "HTTP_PORT":
			applyMapInt(key, value, &cfg.HTTPPort, problems)
		case "LOG_LEVEL":
			applyMapString(value, &cfg.LogLevel)
		case "REQUEST_TIMEOUT_MS":
			applyMapInt(key, value, &cfg.RequestTimeoutMS, problems)
		case "OIDC_ISSUER":
			applyMapString(value, &cfg.OIDCIssuer)
		case "OIDC_AUDIENCE":
			applyMapString(value, &cfg.OIDCAudience)
		case "OIDC_JWKS_URL":
			applyMapString(value, &cfg.OIDCJWKSURL)
		case "JWKS_CACHE_TTL_SECONDS":
			applyMapInt(key, value, &cfg.JWKSTTLSeconds, problems)
		case "JWT_CLOCK_SKEW_SECONDS":
			applyMapInt(key, value, &cfg.JWTClockSkewSec, problems)
		case "DATABASE_URL":
			applyMapString(value, &cfg.DatabaseURL)
		case "DB_MAX_CONNS":
			applyMapInt(key, value, &cfg.DBMaxConns, problems)
		case "DB_MIN_CONNS":
			applyMapInt(key, value, &cfg.DBMinConns, problems)
		case "DB_CONN_MAX_IDLE_SECONDS":
			applyMapInt(key, value, &cfg.DBConnMaxIdleSec, problems)
		case "DB_CONN_MAX_LIFETIME_SECONDS":
			applyMapInt(key, value, &cfg.DBConnMaxLifeSec, problems)
		case "AUDIT_ENABLED":
			applyMapBool(key, value, &cfg.AuditEnabled, problems)
		case "RATE_LIMIT_RPS":
			if f, ok := asFloat(value); ok {
				cfg.RateLimitRPS = f
			} else {
				*problems = append(*problems, Problem{Field: key, Message: "RATE_LIMIT_RPS must be a number"})
			}
		case "RATE_LIMIT_BURST":
			applyMapInt(key, value, &cfg.RateLimitBurst, problems)
		case "CORS_ALLOWED_ORIGINS":
			switch v := value.(type) {
			case string:
				cfg.CORSAllowedOrigins = parseCSV(v)
			case []any:
				cfg.CORSAllowedOrigins = parseAnyCSV(v)
			default:
				*problems = append(*problems, Problem{Field: key, Message: "CORS_ALLOWED_ORIGINS must be a string or array"})
			}
		case "KAFKA_BROKERS":
			switch v := value.(type) {
			case string:
				cfg.KafkaBrokers = parseCSV(v)
			case []any:
				cfg.KafkaBrokers = parseAnyCSV(v)
			default:
				*problems = append(*problems, Problem{Field: key, Message: "KAFKA_BROKERS must be a string or array"})
			}
		case "KAFKA_CLIENT_ID":
			applyMapString(value, &cfg.KafkaClientID)
		case "KAFKA_RETRY_MAX":
			applyMapInt(key, value, &cfg.KafkaRetryMax, problems)
		case "KAFKA_WRITE_TIMEOUT_MS":
			applyMapInt(key, value, &cfg.KafkaWriteMS, problems)
		case "CHAT_BRIDGE_ENABLED":
			applyMapBool(key, value, &cfg.ChatBridgeOn, problems)
		case "REDIS_ADDR":
			applyMapString(value, &cfg.RedisAddr)
		case "REDIS_PASSWORD":
			applyMapString(value, &cfg.RedisPassword)
		case "REDIS_DB":
			applyMapInt(key, value, &cfg.RedisDB, problems)
		case "ASYNQ_REDIS_ADDR":
			applyMapString(value, &cfg.AsynqRedisAddr)
		case "ASYNQ_REDIS_PASSWORD":
			applyMapString(value, &cfg.AsynqRedisPass)
		case "ASYNQ_REDIS_DB":
			applyMapInt(key, value, &cfg.AsynqRedisDB, problems)
		case "ASYNQ_QUEUE":
			applyMapString(value, &cfg.AsynqQueue)
		case "ASYNQ_CONCURRENCY":
			applyMapInt(key, value, &cfg.AsynqConcurrency, problems)
		case "FANOUT_SCAN_INTERVAL_SECONDS":
			applyMapInt(key, value, &cfg.FanoutScanSec, problems)
		case "FANOUT_BATCH_SIZE":
			applyMapInt(key, value, &cfg.FanoutBatchSize, problems)
		case "FANOUT_MAX_ATTEMPTS":
			applyMapInt(key, value, &cfg.FanoutMaxAttempts, problems)
		case "PUSH_API_URL":
			applyMapString(value, &cfg.PushAPIURL)
		case "PUSH_API_KEY":
			applyMapString(value, &cfg.PushAPIKey)
		case "PUSH_TIMEOUT_MS":
			applyMapInt(key, value, &cfg.PushTimeoutMS, problems)
		case "PUSH_RETRY_MAX":
			applyMapInt(key, value, &cfg.PushRetryMax, problems)
		case "PUSH_BATCH_SIZE":
			applyMapInt(key, value, &cfg.PushBatchSize, problems)
		case "PUSH_ENABLED":
			applyMapBool(key, value, &cfg.PushEnabled, problems)
		case "MAIL_API_URL":
			applyMapString(value, &cfg.MailAPIURL)
		case "MAIL_API_KEY":
			applyMapString(value, &cfg.MailAPIKey)
		case "MAIL_TIMEOUT_MS":
			applyMapInt(key, value, &cfg.MailTimeoutMS, problems)
		case "MAIL_TEXT_TEMPLATE_ID":
			applyMapInt(key, value, &cfg.MailTextTemplateID, problems)
		case "MAIL_ENABLED":
			applyMapBool(key, value, &cfg.MailEnabled, problems)
		case "SWEEP_FINISH_SPEC":
			applyMapString(value, &cfg.SweepFinishSpec)
		case "SWEEP_REMIND_SPEC":
			applyMapString(value, &cfg.SweepRemindSpec)
		case "SWEEP_BIRTHDAY_SPEC":
			applyMapString(value, &cfg.SweepBirthdaySpec)
		case "SWEEP_LOCK_TTL_SECONDS":
			applyMapInt(key, value, &cfg.SweepLockTTLSec, problems)
		case "EVENT_CACHE_TTL_SECONDS":
			applyMapInt(key, value, &cfg.EventCacheTTLSec, problems)
		case "INFLUX_URL":
			applyMapString(value, &cfg.InfluxURL)
		case "INFLUX_TOKEN":
			applyMapString(value, &cfg.InfluxToken)
		case "INFLUX_ORG":
			applyMapString(value, &cfg.InfluxOrg)
		case "INFLUX_BUCKET":
			applyMapString(value, &cfg.InfluxBucket)
		case "INFLUX_TIMEOUT_MS":
			applyMapInt(key, value, &cfg.InfluxTimeoutMS, problems)
		case "INFLUX_ENABLED":
			applyMapBool(key, value, &cfg.InfluxEnabled, problems)
		case "OTEL_ENABLED":
			applyMapBool(key, value, &cfg.OtelEnabled, problems)
		case "OTEL_EXPORTER_OTLP_ENDPOINT":
			applyMapString(value, &cfg.OtelEndpoint)
		case "OTEL_EXPORTER_OTLP_INSECURE":
			applyMapBool(key, value, &cfg.OtelInsecure, problems)
		case "OTEL_SAMPLE_RATIO":
			if f, ok := asFloat(value); ok {
				cfg.OtelSampleRatio = f
			} else {
				*problems = append(*problems, Problem{Field: key, Message: "OTEL_SAMPLE_RATIO must be a number"})
			}
		}
	}
}

func applyMapString(value any, target *string) {
	if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
		*target = strings.TrimSpace(s)
	}
}

func applyMapInt(key string, value any, target *int, problems *[]Problem) {
	if v, ok := asInt(value); ok {
		*target = v
		return
	}
	*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
}

func applyMapBool(key string, value any, target *bool, problems *[]Problem) {
	switch v := value.(type) {
	case bool:
		*target = v
	case string:
		if b, ok := asBool(v); ok {
			*target = b
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	default:
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			if s, ok := v.(string); ok {
				return s, true
			}
			return "", false
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch value := v.(type) {
	case json.Number:
		i, err := value.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		return int(value), true
	case int:
		return value, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, true
	case "0", "f", "false", "n", "no", "off":
		return false, true
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return value, true
	case int:
		return float64(value), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
