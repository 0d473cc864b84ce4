package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the HTTP and websocket listen address.
	DefaultAddr = ":43180"
	// DefaultGRPCAddr is the gRPC listen address. An empty override disables gRPC.
	DefaultGRPCAddr = ":43181"
	// DefaultPingInterval controls the keepalive cadence for websocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound websocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10

	// DefaultTickHz is the simulation rate for each session.
	DefaultTickHz = 60.0
	// DefaultTuning names the preset used when a session does not request one.
	DefaultTuning = "canvas"
	// DefaultMaxSessions bounds concurrently hosted sessions. Zero disables the limit.
	DefaultMaxSessions = 64

	// DefaultSnapshotBytesPerSec caps the websocket state stream per client. Zero disables throttling.
	DefaultSnapshotBytesPerSec = 256 * 1024
	// DefaultControlMaxAge rejects sequenced control frames older than this.
	DefaultControlMaxAge = 250 * time.Millisecond
	// DefaultControlMinInterval rate limits sequenced control frames per client.
	DefaultControlMinInterval = 5 * time.Millisecond

	// DefaultReplayDumpWindow bounds how frequently replay dump triggers may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many replay dump requests may be made per window.
	DefaultReplayDumpBurst = 1
	// DefaultReplayMaxBundles limits retained replay bundles. Zero keeps everything.
	DefaultReplayMaxBundles = 50
	// DefaultReplayMaxAge prunes replay bundles older than this. Zero disables age pruning.
	DefaultReplayMaxAge = 7 * 24 * time.Hour

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "racer.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the racing service.
type Config struct {
	Address             string
	GRPCAddress         string
	GRPCSharedSecret    string
	GRPCClientCAPath    string
	TLSCertPath         string
	TLSKeyPath          string
	AllowedOrigins      []string
	MaxPayloadBytes     int64
	PingInterval        time.Duration
	AdminToken          string
	WSTokenSecret       string
	TickHz              float64
	Tuning              string
	TuningFile          string
	Seed                uint64
	MaxSessions         int
	SnapshotBytesPerSec int
	ControlMaxAge       time.Duration
	ControlMinInterval  time.Duration
	ReplayDir           string
	ReplayDumpWindow    time.Duration
	ReplayDumpBurst     int
	ReplayMaxBundles    int
	ReplayMaxAge        time.Duration
	Logging             LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the service configuration from RACER_* environment variables, applying defaults
// and returning every invalid override in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		Address:             getString("RACER_ADDR", DefaultAddr),
		GRPCAddress:         lookupString("RACER_GRPC_ADDR", DefaultGRPCAddr),
		GRPCSharedSecret:    strings.TrimSpace(os.Getenv("RACER_GRPC_SHARED_SECRET")),
		GRPCClientCAPath:    strings.TrimSpace(os.Getenv("RACER_GRPC_CLIENT_CA")),
		TLSCertPath:         strings.TrimSpace(os.Getenv("RACER_TLS_CERT")),
		TLSKeyPath:          strings.TrimSpace(os.Getenv("RACER_TLS_KEY")),
		AllowedOrigins:      parseList(os.Getenv("RACER_ALLOWED_ORIGINS")),
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
		PingInterval:        DefaultPingInterval,
		AdminToken:          strings.TrimSpace(os.Getenv("RACER_ADMIN_TOKEN")),
		WSTokenSecret:       strings.TrimSpace(os.Getenv("RACER_WS_TOKEN_SECRET")),
		TickHz:              DefaultTickHz,
		Tuning:              strings.ToLower(getString("RACER_TUNING", DefaultTuning)),
		TuningFile:          strings.TrimSpace(os.Getenv("RACER_TUNING_FILE")),
		MaxSessions:         DefaultMaxSessions,
		SnapshotBytesPerSec: DefaultSnapshotBytesPerSec,
		ControlMaxAge:       DefaultControlMaxAge,
		ControlMinInterval:  DefaultControlMinInterval,
		ReplayDir:           strings.TrimSpace(os.Getenv("RACER_REPLAY_DIR")),
		ReplayDumpWindow:    DefaultReplayDumpWindow,
		ReplayDumpBurst:     DefaultReplayDumpBurst,
		ReplayMaxBundles:    DefaultReplayMaxBundles,
		ReplayMaxAge:        DefaultReplayMaxAge,
		Logging: LoggingConfig{
			Level:      getString("RACER_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("RACER_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	p := &parser{}

	//1.- Transport limits.
	p.int64Positive("RACER_MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes)
	p.durationPositive("RACER_PING_INTERVAL", &cfg.PingInterval)

	//2.- Simulation and session settings.
	if raw := strings.TrimSpace(os.Getenv("RACER_TICK_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 || value > 1000 {
			p.fail("RACER_TICK_HZ must be a rate between 0 and 1000, got %q", raw)
		} else {
			cfg.TickHz = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("RACER_SEED")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			p.fail("RACER_SEED must be an unsigned integer, got %q", raw)
		} else {
			cfg.Seed = value
		}
	}
	p.intNonNegative("RACER_MAX_SESSIONS", &cfg.MaxSessions)
	p.intNonNegative("RACER_SNAPSHOT_BYTES_PER_SEC", &cfg.SnapshotBytesPerSec)
	p.durationNonNegative("RACER_CONTROL_MAX_AGE", &cfg.ControlMaxAge)
	p.durationNonNegative("RACER_CONTROL_MIN_INTERVAL", &cfg.ControlMinInterval)

	//3.- Replay capture and retention.
	p.durationPositive("RACER_REPLAY_DUMP_WINDOW", &cfg.ReplayDumpWindow)
	p.intPositive("RACER_REPLAY_DUMP_BURST", &cfg.ReplayDumpBurst)
	p.intNonNegative("RACER_REPLAY_MAX_BUNDLES", &cfg.ReplayMaxBundles)
	p.durationNonNegative("RACER_REPLAY_MAX_AGE", &cfg.ReplayMaxAge)

	//4.- Log rotation.
	p.intPositive("RACER_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	p.intNonNegative("RACER_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	p.intNonNegative("RACER_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)
	if raw := strings.TrimSpace(os.Getenv("RACER_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			p.fail("RACER_LOG_COMPRESS must be a boolean value, got %q", raw)
		} else {
			cfg.Logging.Compress = value
		}
	}

	//5.- Cross-field checks.
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		p.fail("RACER_TLS_CERT and RACER_TLS_KEY must be provided together")
	}
	if cfg.GRPCClientCAPath != "" && cfg.TLSCertPath == "" {
		p.fail("RACER_GRPC_CLIENT_CA requires RACER_TLS_CERT and RACER_TLS_KEY")
	}
	if cfg.GRPCClientCAPath != "" && cfg.GRPCSharedSecret != "" {
		p.fail("RACER_GRPC_CLIENT_CA and RACER_GRPC_SHARED_SECRET are mutually exclusive")
	}

	if len(p.problems) > 0 {
		return nil, errors.New(strings.Join(p.problems, "; "))
	}
	return cfg, nil
}

// parser collects validation failures so operators see every bad variable at once.
type parser struct {
	problems []string
}

func (p *parser) fail(format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

func (p *parser) intPositive(key string, dst *int) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			p.fail("%s must be a positive integer, got %q", key, raw)
			return
		}
		*dst = value
	}
}

func (p *parser) intNonNegative(key string, dst *int) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			p.fail("%s must be a non-negative integer, got %q", key, raw)
			return
		}
		*dst = value
	}
}

func (p *parser) int64Positive(key string, dst *int64) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			p.fail("%s must be a positive integer, got %q", key, raw)
			return
		}
		*dst = value
	}
}

func (p *parser) durationPositive(key string, dst *time.Duration) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil || value <= 0 {
			p.fail("%s must be a positive duration, got %q", key, raw)
			return
		}
		*dst = value
	}
}

func (p *parser) durationNonNegative(key string, dst *time.Duration) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil || value < 0 {
			p.fail("%s must be a non-negative duration, got %q", key, raw)
			return
		}
		*dst = value
	}
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// lookupString distinguishes an unset variable from one explicitly set to empty.
func lookupString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
