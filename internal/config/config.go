package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type Config struct {
	RuntimeName     string                `yaml:"runtime_name"`
	Environment     string                `yaml:"environment"`
	HTTP            HTTPConfig            `yaml:"http"`
	Telemetry       TelemetryConfig       `yaml:"telemetry"`
	Bus             BusConfig             `yaml:"bus"`
	Node            NodeConfig            `yaml:"node"`
	TranscriptStore TranscriptStoreConfig `yaml:"transcript_store"`
	Engine          EngineConfig          `yaml:"engine"`
	Ingest          IngestConfig          `yaml:"ingest"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	Announce          bool   `yaml:"announce"`
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type TranscriptStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig selects and parameterises the recognition engine adapter.
type EngineConfig struct {
	Mode              string `yaml:"mode"` // mock, exec, whisper
	Command           string `yaml:"command"`
	InitCommand       string `yaml:"init_command"`
	ModelPath         string `yaml:"model_path"`
	Language          string `yaml:"language"`
	Threads           int    `yaml:"threads"`
	InitializeOnStart bool   `yaml:"initialize_on_start"`
}

type IngestConfig struct {
	Enabled             bool `yaml:"enabled"`
	ChunkSamples        int  `yaml:"chunk_samples"`
	PublishPartial      bool `yaml:"publish_partial"`
	TranscribeTimeoutMS int  `yaml:"transcribe_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-asr",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 64 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			Announce:          true,
			ID:                "loqa-asr-1",
			Role:              "stt",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		TranscriptStore: TranscriptStoreConfig{
			Path:          "./data/loqa-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Engine: EngineConfig{
			Mode:              "mock",
			Language:          "auto",
			InitializeOnStart: true,
		},
		Ingest: IngestConfig{
			Enabled:             true,
			ChunkSamples:        32000,
			PublishPartial:      true,
			TranscribeTimeoutMS: 45000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideInt64(&cfg.HTTP.MaxBodyBytes, "LOQA_HTTP_MAX_BODY_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Node.Announce, "LOQA_NODE_ANNOUNCE")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.TranscriptStore.Path, "LOQA_TRANSCRIPT_STORE_PATH")
	overrideString(&cfg.TranscriptStore.RetentionMode, "LOQA_TRANSCRIPT_STORE_RETENTION_MODE")
	overrideInt(&cfg.TranscriptStore.RetentionDays, "LOQA_TRANSCRIPT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.TranscriptStore.MaxSessions, "LOQA_TRANSCRIPT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.TranscriptStore.VacuumOnStart, "LOQA_TRANSCRIPT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "LOQA_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LOQA_ENGINE_COMMAND")
	overrideString(&cfg.Engine.InitCommand, "LOQA_ENGINE_INIT_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "LOQA_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "LOQA_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.Threads, "LOQA_ENGINE_THREADS")
	overrideBool(&cfg.Engine.InitializeOnStart, "LOQA_ENGINE_INITIALIZE_ON_START")
	overrideBool(&cfg.Ingest.Enabled, "LOQA_INGEST_ENABLED")
	overrideInt(&cfg.Ingest.ChunkSamples, "LOQA_INGEST_CHUNK_SAMPLES")
	overrideBool(&cfg.Ingest.PublishPartial, "LOQA_INGEST_PUBLISH_PARTIAL")
	overrideInt(&cfg.Ingest.TranscribeTimeoutMS, "LOQA_INGEST_TRANSCRIBE_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	} else if cfg.Ingest.Enabled || cfg.Node.Announce {
		return errors.New("bus.enabled must be true when ingest or node announce is enabled")
	}
	if cfg.Node.Announce {
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.TranscriptStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("transcript_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.TranscriptStore.RetentionMode != "ephemeral" && cfg.TranscriptStore.Path == "" {
		return errors.New("transcript_store.path must not be empty")
	}
	if cfg.TranscriptStore.RetentionDays < 0 {
		return errors.New("transcript_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if err := ValidateEngine(cfg.Engine); err != nil {
		return err
	}
	if cfg.Ingest.Enabled {
		if cfg.Ingest.ChunkSamples <= 0 {
			return errors.New("ingest.chunk_samples must be positive")
		}
		if cfg.Ingest.TranscribeTimeoutMS <= 0 {
			return errors.New("ingest.transcribe_timeout_ms must be positive")
		}
	}
	return nil
}

// ValidateEngine checks an engine section on its own; the public asr package
// accepts engine configs without a surrounding runtime config.
func ValidateEngine(cfg EngineConfig) error {
	switch cfg.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("engine.mode must be one of mock|exec|whisper")
	}
	if cfg.Mode == "exec" && strings.TrimSpace(cfg.Command) == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Threads < 0 {
		return errors.New("engine.threads must be >= 0")
	}
	return nil
}
