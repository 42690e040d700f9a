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
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Sidecar     SidecarConfig    `yaml:"sidecar"`
	Streaming   StreamingConfig  `yaml:"streaming"`
	Client      ClientConfig     `yaml:"client"`
}

type BusConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Embedded        bool     `yaml:"embedded"`
	Port            int      `yaml:"port"`
	StoreDir        string   `yaml:"store_dir"`
	MaxPayloadBytes int      `yaml:"max_payload_bytes"`
	Servers         []string `yaml:"servers"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Token           string   `yaml:"token"`
	TLSInsecure     bool     `yaml:"tls_insecure"`
	ConnectTimeout  int      `yaml:"connect_timeout_ms"`
	QueueGroup      string   `yaml:"queue_group"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

// EventStoreConfig controls the synthesis journal. Only request metadata is
// stored; audio never is.
type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEvents     int    `yaml:"max_events"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SidecarConfig configures the multi-speaker synthesis service model.
type SidecarConfig struct {
	Mode           string   `yaml:"mode"` // mock, exec
	Command        string   `yaml:"command"`
	ModelName      string   `yaml:"model_name"`
	ModelID        string   `yaml:"model_id"`
	DefaultSpeaker string   `yaml:"default_speaker"`
	UseGPU         bool     `yaml:"use_gpu"`
	LoadTimeoutMS  int      `yaml:"load_timeout_ms"`
	SampleRate     int      `yaml:"sample_rate"`
	Speakers       []string `yaml:"speakers"`
}

// StreamingConfig configures the single-voice piper synthesizer.
type StreamingConfig struct {
	PiperBinary string `yaml:"piper_binary"`
	LibPath     string `yaml:"lib_path"`
	SampleRate  int    `yaml:"sample_rate"`
	ChunkBytes  int    `yaml:"chunk_bytes"`
}

// ClientConfig is used by callers of the sidecar.
type ClientConfig struct {
	SidecarURL       string `yaml:"sidecar_url"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	PiperModelPath   string `yaml:"piper_model_path"`
	DefaultEngine    string `yaml:"default_engine"`
	Language         string `yaml:"language"`
}

const (
	DefaultSpeaker = "Claribel Dervla"
	DefaultModelID = "tts_models/multilingual/multi-dataset/xtts_v2"
)

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:         "0.0.0.0",
			Port:         8020,
			MaxBodyBytes: 1 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:         false,
			Embedded:        false,
			Port:            4222,
			StoreDir:        "./data/nats",
			MaxPayloadBytes: 8 << 20,
			Servers:         []string{"nats://localhost:4222"},
			ConnectTimeout:  2000,
			QueueGroup:      "loqa-tts",
		},
		Node: NodeConfig{
			ID:                "loqa-tts-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-tts-journal.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxEvents:     10000,
		},
		Sidecar: SidecarConfig{
			Mode:           "mock",
			ModelName:      "xtts-v2",
			ModelID:        DefaultModelID,
			DefaultSpeaker: DefaultSpeaker,
			LoadTimeoutMS:  600000,
			SampleRate:     24000,
		},
		Streaming: StreamingConfig{
			PiperBinary: "piper",
			SampleRate:  22050,
			ChunkBytes:  4096,
		},
		Client: ClientConfig{
			SidecarURL:       "http://localhost:8020",
			ConnectTimeoutMS: 2000,
			RequestTimeoutMS: 90000,
			DefaultEngine:    "piper",
			Language:         "en",
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
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideInt(&cfg.Bus.MaxPayloadBytes, "LOQA_BUS_MAX_PAYLOAD_BYTES")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.QueueGroup, "LOQA_BUS_QUEUE_GROUP")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxEvents, "LOQA_EVENT_STORE_MAX_EVENTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Sidecar.Mode, "LOQA_SIDECAR_MODE")
	overrideString(&cfg.Sidecar.Command, "LOQA_SIDECAR_COMMAND")
	overrideString(&cfg.Sidecar.ModelName, "LOQA_SIDECAR_MODEL_NAME")
	overrideString(&cfg.Sidecar.ModelID, "LOQA_SIDECAR_MODEL_ID")
	overrideString(&cfg.Sidecar.DefaultSpeaker, "LOQA_SIDECAR_DEFAULT_SPEAKER")
	overrideBool(&cfg.Sidecar.UseGPU, "LOQA_SIDECAR_USE_GPU")
	overrideInt(&cfg.Sidecar.LoadTimeoutMS, "LOQA_SIDECAR_LOAD_TIMEOUT_MS")
	overrideInt(&cfg.Sidecar.SampleRate, "LOQA_SIDECAR_SAMPLE_RATE")
	overrideStringSlice(&cfg.Sidecar.Speakers, "LOQA_SIDECAR_SPEAKERS")
	// Unprefixed names used by existing sidecar deployments.
	overrideString(&cfg.Sidecar.DefaultSpeaker, "XTTS_SPEAKER")
	overrideBool(&cfg.Sidecar.UseGPU, "USE_GPU")
	overrideString(&cfg.Streaming.PiperBinary, "LOQA_STREAMING_PIPER_BINARY")
	overrideString(&cfg.Streaming.LibPath, "LOQA_STREAMING_LIB_PATH")
	overrideInt(&cfg.Streaming.SampleRate, "LOQA_STREAMING_SAMPLE_RATE")
	overrideInt(&cfg.Streaming.ChunkBytes, "LOQA_STREAMING_CHUNK_BYTES")
	overrideString(&cfg.Client.SidecarURL, "LOQA_CLIENT_SIDECAR_URL")
	overrideInt(&cfg.Client.ConnectTimeoutMS, "LOQA_CLIENT_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Client.RequestTimeoutMS, "LOQA_CLIENT_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Client.PiperModelPath, "LOQA_CLIENT_PIPER_MODEL_PATH")
	overrideString(&cfg.Client.DefaultEngine, "LOQA_CLIENT_DEFAULT_ENGINE")
	overrideString(&cfg.Client.Language, "LOQA_CLIENT_LANGUAGE")
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
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "disabled", "ephemeral":
	case "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("event_store.retention_mode must be one of disabled|ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Sidecar.Mode {
	case "mock", "exec":
	default:
		return errors.New("sidecar.mode must be one of mock|exec")
	}
	if cfg.Sidecar.Mode == "exec" && cfg.Sidecar.Command == "" {
		return errors.New("sidecar.command must be set when mode=exec")
	}
	if strings.TrimSpace(cfg.Sidecar.DefaultSpeaker) == "" {
		return errors.New("sidecar.default_speaker must not be empty")
	}
	if cfg.Sidecar.LoadTimeoutMS <= 0 {
		return errors.New("sidecar.load_timeout_ms must be positive")
	}
	if cfg.Sidecar.SampleRate <= 0 {
		return errors.New("sidecar.sample_rate must be positive")
	}
	if cfg.Streaming.SampleRate <= 0 {
		return errors.New("streaming.sample_rate must be positive")
	}
	if cfg.Streaming.ChunkBytes < 2 {
		return errors.New("streaming.chunk_bytes must be >= 2")
	}
	if cfg.Client.ConnectTimeoutMS <= 0 || cfg.Client.RequestTimeoutMS <= 0 {
		return errors.New("client timeouts must be positive")
	}
	return nil
}
