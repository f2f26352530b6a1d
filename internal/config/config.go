package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreMySQL  = "mysql"
)

type Config struct {
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	FrontendURL    string
	AllowedOrigins []string

	// TLS via autocert; empty means plain HTTP on Port.
	TLSHosts     []string
	CertCacheDir string

	// Protected origin
	OriginURL string
	StaticDir string

	// Detection
	RateLimit          int
	RateWindow         time.Duration
	SpikeCount         int
	SpikeSpan          time.Duration
	CoordinatedSources int
	CoordinatedSpan    time.Duration
	MLThreshold        float64
	BlockOnSpike       bool
	LogCapacity        int

	// Estimator
	ModelPath           string
	ModelURL            string
	ModelTrainOnMissing bool

	// Storage
	StoreBackend  string
	MongoURI      string
	MongoDB       string
	MySQLUser     string
	MySQLPass     string
	MySQLHost     string
	MySQLName     string
	FlushInterval time.Duration

	// Client identity
	TrustedProxies []string
	MockIPHeader   string

	// Dashboard security
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
	LoginAttempts     int
	LoginWindow       time.Duration

	// Block alerts; disabled while AlertEmail or SMTPHost is empty.
	SMTPHost      string
	SMTPPort      string
	SMTPUser      string
	SMTPPass      string
	AlertEmail    string
	AlertCooldown time.Duration
}

// Load reads the environment, after merging a .env file if one exists.
func Load() *Config {
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", "development")

	frontendURL := getEnv("FRONTEND_URL", "http://localhost:5173")
	origins := getEnvList("FRONTEND_URL", []string{frontendURL})
	// the simulator header lets a client pick its own source id
	mockHeader := ""
	if appEnv == "development" {
		origins = append(origins, "http://localhost:3000")
		mockHeader = "X-Mock-IP"
	}

	return &Config{
		AppEnv:         appEnv,
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		FrontendURL:    frontendURL,
		AllowedOrigins: origins,

		TLSHosts:     getEnvList("TLS_HOSTS", nil),
		CertCacheDir: getEnv("CERT_CACHE_DIR", "certs"),

		OriginURL: getEnv("ORIGIN_URL", ""),
		StaticDir: getEnv("STATIC_DIR", ""),

		RateLimit:          getEnvInt("RATE_LIMIT", 50),
		RateWindow:         getEnvDuration("RATE_WINDOW", 60*time.Second),
		SpikeCount:         getEnvInt("SPIKE_COUNT", 5),
		SpikeSpan:          getEnvDuration("SPIKE_SPAN", 2*time.Second),
		CoordinatedSources: getEnvInt("COORDINATED_SOURCES", 10),
		CoordinatedSpan:    getEnvDuration("COORDINATED_SPAN", 2*time.Second),
		MLThreshold:        getEnvFloat("ML_THRESHOLD", 0.8),
		BlockOnSpike:       getEnvBool("BLOCK_ON_SPIKE", true),
		LogCapacity:        getEnvInt("LOG_CAPACITY", 2000),

		ModelPath:           getEnv("MODEL_PATH", "bot_model.json"),
		ModelURL:            getEnv("MODEL_URL", ""),
		ModelTrainOnMissing: getEnvBool("MODEL_TRAIN_ON_MISSING", true),

		StoreBackend:  getEnv("STORE_BACKEND", StoreMemory),
		MongoURI:      getEnv("MONGO_URI", "mongodb://mongo:27017"),
		MongoDB:       getEnv("MONGO_DB", "bot_gateway"),
		MySQLUser:     getEnv("MYSQL_USER", "gateway"),
		MySQLPass:     getEnv("MYSQL_PASS", "gateway_password"),
		MySQLHost:     getEnv("MYSQL_HOST", "mysql"),
		MySQLName:     getEnv("MYSQL_NAME", "bot_gateway"),
		FlushInterval: getEnvDuration("FLUSH_INTERVAL", 5*time.Second),

		TrustedProxies: getEnvList("TRUSTED_PROXIES", nil),
		MockIPHeader:   getEnv("MOCK_IP_HEADER", mockHeader),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		LoginAttempts:     getEnvInt("LOGIN_ATTEMPTS", 10),
		LoginWindow:       getEnvDuration("LOGIN_WINDOW", 15*time.Minute),

		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPass:      getEnv("SMTP_PASS", ""),
		AlertEmail:    getEnv("ALERT_EMAIL", ""),
		AlertCooldown: getEnvDuration("ALERT_COOLDOWN", time.Hour),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_WINDOW must be positive, got %s", c.RateWindow))
	}
	if c.SpikeCount <= 0 || c.SpikeSpan <= 0 {
		errs = append(errs, errors.New("SPIKE_COUNT and SPIKE_SPAN must be positive"))
	}
	if c.CoordinatedSources <= 0 || c.CoordinatedSpan <= 0 {
		errs = append(errs, errors.New("COORDINATED_SOURCES and COORDINATED_SPAN must be positive"))
	}
	if c.MLThreshold <= 0 || c.MLThreshold >= 1 {
		errs = append(errs, fmt.Errorf("ML_THRESHOLD must be in (0,1), got %v", c.MLThreshold))
	}
	if c.LogCapacity <= 0 {
		errs = append(errs, fmt.Errorf("LOG_CAPACITY must be positive, got %d", c.LogCapacity))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("FLUSH_INTERVAL must be positive, got %s", c.FlushInterval))
	}
	switch c.StoreBackend {
	case StoreMemory, StoreMongo, StoreMySQL:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.LoginAttempts <= 0 || c.LoginWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_ATTEMPTS and LOGIN_WINDOW must be positive"))
	}
	if c.OriginURL != "" && c.StaticDir != "" {
		errs = append(errs, errors.New("set ORIGIN_URL or STATIC_DIR, not both"))
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether dashboard commands require a login.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" && c.AdminPasswordHash != ""
}

// AlertsEnabled reports whether block alerts can be mailed.
func (c *Config) AlertsEnabled() bool {
	return c.AlertEmail != "" && c.SMTPHost != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
