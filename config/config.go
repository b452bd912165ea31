package config

import (
	"cosmicwatch/version"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds cosmicwatch runtime configuration.
type Config struct {
	LogLevel             string
	LogFilePath          string
	Port                 int
	DatabaseURL          string
	SQLitePragmasEnabled bool
	SQLiteBusyTimeoutMS  int
	SQLiteJournalMode    string
	SQLiteSynchronous    string
	SQLiteForeignKeys    bool
	SQLiteMaxOpenConns   int
	SQLiteMaxIdleConns   int
	SQLiteConnMaxIdleSec int
	SQLiteConnMaxLifeSec int
	CLIMode              bool
	CLIServer            string // URL or ~/.cosmicwatch server name for CLI mode

	// Monitoring
	MaxEventLogs         int
	DurableQueueSize     int
	ExpectationsFile     string
	SlowMountThresholdMS int

	// Auto-correction
	MaxCorrectionHistory int
	MaxRetries           int
	RetryBaseDelayMS     int
	RateLimitDefaultMS   int
	LoginPath            string
	QuestionnairePath    string
	AuthRefreshURL       string

	// Log sink (client side of POST /api/monitoring/logs)
	SinkEnabled         bool
	SinkURL             string
	SinkBatchSize       int
	SinkFlushIntervalMS int
	SinkQueueSize       int

	// Ingest and admin surface
	IngestRatePerSecond float64
	IngestBurst         int
	AdminAllowCIDRs     []string
	AdminDenyCIDRs      []string
	AdminAuthEnabled    bool
	AccessTokenTTLMin   int
	RefreshTokenTTLDays int
	LogRetentionDays    int

	GoroutineMonitorIntervalSeconds int
	GoroutineWarnThreshold          int
}

// Settings is the global configuration instance populated from environment variables and flags.
var Settings *Config

func init() {
	Settings = Default()
}

// Default builds a Config from environment variables, falling back to built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel:             getEnv("LOG_LEVEL", "INFO"),
		LogFilePath:          getEnv("LOG_FILE", "./cosmicwatch.log"),
		Port:                 getEnvInt("PORT", 5000),
		DatabaseURL:          getEnv("DATABASE_URL", "cosmicwatch.db"),
		SQLitePragmasEnabled: getEnvBool("SQLITE_PRAGMAS_ENABLED", true),
		SQLiteBusyTimeoutMS:  getEnvInt("SQLITE_BUSY_TIMEOUT_MS", 5000),
		SQLiteJournalMode:    getEnv("SQLITE_JOURNAL_MODE", "WAL"),
		SQLiteSynchronous:    getEnv("SQLITE_SYNCHRONOUS", "NORMAL"),
		SQLiteForeignKeys:    getEnvBool("SQLITE_FOREIGN_KEYS", true),
		SQLiteMaxOpenConns:   getEnvInt("SQLITE_MAX_OPEN_CONNS", 1),
		SQLiteMaxIdleConns:   getEnvInt("SQLITE_MAX_IDLE_CONNS", 1),
		SQLiteConnMaxIdleSec: getEnvInt("SQLITE_CONN_MAX_IDLE_SECONDS", 300),
		SQLiteConnMaxLifeSec: getEnvInt("SQLITE_CONN_MAX_LIFETIME_SECONDS", 0),
		CLIMode:              getEnvBool("CLI_MODE", false),
		CLIServer:            getEnv("CLI_SERVER", ""),

		MaxEventLogs:         getEnvInt("MAX_EVENT_LOGS", 1000),
		DurableQueueSize:     getEnvInt("DURABLE_QUEUE_SIZE", 100),
		ExpectationsFile:     getEnv("EXPECTATIONS_FILE", ""),
		SlowMountThresholdMS: getEnvInt("SLOW_MOUNT_THRESHOLD_MS", 1000),

		MaxCorrectionHistory: getEnvInt("MAX_CORRECTION_HISTORY", 500),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelayMS:     getEnvInt("RETRY_BASE_DELAY_MS", 1000),
		RateLimitDefaultMS:   getEnvInt("RATE_LIMIT_DEFAULT_MS", 5000),
		LoginPath:            getEnv("LOGIN_PATH", "/login"),
		QuestionnairePath:    getEnv("QUESTIONNAIRE_PATH", "/questionnaire"),
		AuthRefreshURL:       getEnv("AUTH_REFRESH_URL", ""),

		SinkEnabled:         getEnvBool("SINK_ENABLED", false),
		SinkURL:             getEnv("SINK_URL", "http://localhost:5000/api/monitoring/logs"),
		SinkBatchSize:       getEnvInt("SINK_BATCH_SIZE", 50),
		SinkFlushIntervalMS: getEnvInt("SINK_FLUSH_INTERVAL_MS", 10000),
		SinkQueueSize:       getEnvInt("SINK_QUEUE_SIZE", 1000),

		IngestRatePerSecond: getEnvFloat("INGEST_RATE_PER_SECOND", 20),
		IngestBurst:         getEnvInt("INGEST_BURST", 40),
		AdminAllowCIDRs:     getEnvList("ADMIN_ALLOW_CIDRS"),
		AdminDenyCIDRs:      getEnvList("ADMIN_DENY_CIDRS"),
		AdminAuthEnabled:    getEnvBool("ADMIN_AUTH_ENABLED", false),
		AccessTokenTTLMin:   getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays: getEnvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		LogRetentionDays:    getEnvInt("LOG_RETENTION_DAYS", 30),

		GoroutineMonitorIntervalSeconds: getEnvInt("GOROUTINE_MONITOR_INTERVAL_SECONDS", 30),
		GoroutineWarnThreshold:          getEnvInt("GOROUTINE_WARN_THRESHOLD", 1000),
	}
}

// ParseFlags parses command-line flags and applies them over the environment-derived Settings.
// --help prints usage and exits; --version prints build info and exits.
func ParseFlags() {
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "cosmicwatch - monitoring and auto-correction service\n\n")
		fmt.Fprintf(out, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(out, "Options:")
		flag.PrintDefaults()
		fmt.Fprintln(out, "\nEnvironment variables:")
		fmt.Fprintln(out, "  LOG_LEVEL                         Log level (DEBUG, INFO, WARN, ERROR)")
		fmt.Fprintln(out, "  LOG_FILE                          Log file path (default ./cosmicwatch.log)")
		fmt.Fprintln(out, "  PORT                              HTTP server port (default 5000)")
		fmt.Fprintln(out, "  DATABASE_URL                      SQLite database path (default cosmicwatch.db)")
		fmt.Fprintln(out, "  SQLITE_PRAGMAS_ENABLED            Enable SQLite PRAGMAs (true/false, default true)")
		fmt.Fprintln(out, "  SQLITE_BUSY_TIMEOUT_MS            SQLite busy_timeout in milliseconds (default 5000)")
		fmt.Fprintln(out, "  SQLITE_JOURNAL_MODE               SQLite journal_mode (default WAL)")
		fmt.Fprintln(out, "  SQLITE_SYNCHRONOUS                SQLite synchronous (default NORMAL)")
		fmt.Fprintln(out, "  MAX_EVENT_LOGS                    In-memory event buffer capacity (default 1000)")
		fmt.Fprintln(out, "  DURABLE_QUEUE_SIZE                Persisted event queue capacity (default 100)")
		fmt.Fprintln(out, "  EXPECTATIONS_FILE                 YAML expectation table (default built-in table)")
		fmt.Fprintln(out, "  MAX_CORRECTION_HISTORY            Correction history capacity (default 500)")
		fmt.Fprintln(out, "  MAX_RETRIES                       Network retry attempts (default 3)")
		fmt.Fprintln(out, "  RETRY_BASE_DELAY_MS               Base backoff delay in ms (default 1000)")
		fmt.Fprintln(out, "  RATE_LIMIT_DEFAULT_MS             Wait when no Retry-After is given (default 5000)")
		fmt.Fprintln(out, "  AUTH_REFRESH_URL                  Remote token refresh endpoint (default: this server)")
		fmt.Fprintln(out, "  SINK_ENABLED                      Flush runtime events to SINK_URL (default false)")
		fmt.Fprintln(out, "  SINK_URL                          Log sink endpoint")
		fmt.Fprintln(out, "  SINK_BATCH_SIZE                   Events per flush (default 50)")
		fmt.Fprintln(out, "  SINK_FLUSH_INTERVAL_MS            Flush interval in ms (default 10000)")
		fmt.Fprintln(out, "  INGEST_RATE_PER_SECOND            Log ingest rate limit (default 20)")
		fmt.Fprintln(out, "  INGEST_BURST                      Log ingest burst size (default 40)")
		fmt.Fprintln(out, "  ADMIN_ALLOW_CIDRS                 Comma-separated CIDRs allowed on admin routes")
		fmt.Fprintln(out, "  ADMIN_DENY_CIDRS                  Comma-separated CIDRs denied on admin routes")
		fmt.Fprintln(out, "  ADMIN_AUTH_ENABLED                Require a bearer access token on admin routes")
		fmt.Fprintln(out, "  ACCESS_TOKEN_TTL_MINUTES          Access token lifetime (default 15)")
		fmt.Fprintln(out, "  REFRESH_TOKEN_TTL_DAYS            Refresh token lifetime (default 7)")
		fmt.Fprintln(out, "  LOG_RETENTION_DAYS                Default age for log cleanup (default 30)")
	}

	port := flag.Int("port", Settings.Port, "HTTP server port (overrides PORT)")
	db := flag.String("db", Settings.DatabaseURL, "SQLite database path (overrides DATABASE_URL)")
	logLevel := flag.String("log-level", Settings.LogLevel, "Log level: DEBUG, INFO, WARN, ERROR (overrides LOG_LEVEL)")
	logFile := flag.String("log-file", Settings.LogFilePath, "Log file path (overrides LOG_FILE)")
	expectations := flag.String("expectations", Settings.ExpectationsFile, "YAML expectation table (overrides EXPECTATIONS_FILE)")
	maxEventLogs := flag.Int("max-event-logs", Settings.MaxEventLogs, "In-memory event buffer capacity")
	maxRetries := flag.Int("max-retries", Settings.MaxRetries, "Network retry attempts")
	sinkEnabled := flag.Bool("sink", Settings.SinkEnabled, "Flush runtime events to the log sink (overrides SINK_ENABLED)")
	sinkURL := flag.String("sink-url", Settings.SinkURL, "Log sink endpoint (overrides SINK_URL)")
	adminAuth := flag.Bool("admin-auth", Settings.AdminAuthEnabled, "Require a bearer access token on admin routes")
	cliMode := flag.Bool("cli", Settings.CLIMode, "Run in CLI mode (HTTP client only, no database)")
	cliServer := flag.String("server", Settings.CLIServer, "Server URL or configured server name for CLI mode")

	showHelp := flag.Bool("help", false, "Show help and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetBuildInfo())
		os.Exit(0)
	}

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	Settings.Port = *port
	Settings.DatabaseURL = *db
	Settings.LogLevel = *logLevel
	Settings.LogFilePath = *logFile
	Settings.ExpectationsFile = *expectations
	Settings.MaxEventLogs = *maxEventLogs
	Settings.MaxRetries = *maxRetries
	Settings.SinkEnabled = *sinkEnabled
	Settings.SinkURL = *sinkURL
	Settings.AdminAuthEnabled = *adminAuth
	Settings.CLIMode = *cliMode
	Settings.CLIServer = *cliServer
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
