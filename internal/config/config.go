package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Reader      ReaderConfig     `yaml:"reader"`
	Model       ModelConfig      `yaml:"model"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Transcoder  TranscoderConfig `yaml:"transcoder"`
	Service     ServiceConfig    `yaml:"service"`
}

type BusConfig struct {
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
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ReaderConfig controls document decoding.
type ReaderConfig struct {
	Encodings     []string `yaml:"encodings"`
	LegacyCommand string   `yaml:"legacy_command"`
}

type YandexConfig struct {
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	FolderID string            `yaml:"folder_id"`
	Model    string            `yaml:"model"`
	Voices   map[string]string `yaml:"voices"`
}

type ModelConfig struct {
	Mode       string       `yaml:"mode"` // mock, exec, yandex
	Command    string       `yaml:"command"`
	SampleRate int          `yaml:"sample_rate"`
	URL        string       `yaml:"url"`
	CacheDir   string       `yaml:"cache_dir"`
	FileName   string       `yaml:"file_name"`
	Yandex     YandexConfig `yaml:"yandex"`
}

type SynthesisConfig struct {
	Voice         string `yaml:"voice"`
	Workers       int    `yaml:"workers"`
	MaxChunkChars int    `yaml:"max_chunk_chars"`
	Script        string `yaml:"script"`
	ScratchDir    string `yaml:"scratch_dir"`
}

type TranscoderConfig struct {
	Path             string   `yaml:"path"`
	SearchDirs       []string `yaml:"search_dirs"`
	Codec            string   `yaml:"codec"`
	Bitrate          string   `yaml:"bitrate"`
	Container        string   `yaml:"container"`
	Extension        string   `yaml:"extension"`
	VersionTimeoutMS int      `yaml:"version_timeout_ms"`
}

type ServiceConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxConcurrency int  `yaml:"max_concurrency"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrator",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "narrator-node-1",
			Role:              "narrator",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/narrator-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Reader: ReaderConfig{
			Encodings:     []string{"utf-8", "windows-1251", "cp1251"},
			LegacyCommand: "antiword",
		},
		Model: ModelConfig{
			Mode:       "mock",
			SampleRate: 48000,
			URL:        "https://models.silero.ai/models/tts/ru/v5_ru.pt",
			CacheDir:   "~/.cache/silero",
			FileName:   "v5_ru.pt",
			Yandex: YandexConfig{
				Endpoint: "tts.api.cloud.yandex.net:443",
				Model:    "general",
			},
		},
		Synthesis: SynthesisConfig{
			Voice:   "xenia",
			Workers: 1,
			Script:  "Cyrillic",
		},
		Transcoder: TranscoderConfig{
			SearchDirs: []string{
				`C:\ffmpeg\bin`,
				`C:\Program Files\ffmpeg\bin`,
				"~/ffmpeg/bin",
				"/usr/local/bin",
				"/opt/homebrew/bin",
				"/usr/bin",
			},
			Codec:            "libmp3lame",
			Bitrate:          "192k",
			Container:        "mp3",
			Extension:        "mp3",
			VersionTimeoutMS: 5000,
		},
		Service: ServiceConfig{
			Enabled:        true,
			MaxConcurrency: 1,
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
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "NARRATOR_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "NARRATOR_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATOR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NARRATOR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "NARRATOR_NODE_ID")
	overrideString(&cfg.Node.Role, "NARRATOR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "NARRATOR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "NARRATOR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "NARRATOR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "NARRATOR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "NARRATOR_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "NARRATOR_EVENT_STORE_VACUUM_ON_START")
	overrideStringSlice(&cfg.Reader.Encodings, "NARRATOR_READER_ENCODINGS")
	overrideString(&cfg.Reader.LegacyCommand, "NARRATOR_READER_LEGACY_COMMAND")
	overrideString(&cfg.Model.Mode, "NARRATOR_MODEL_MODE")
	overrideString(&cfg.Model.Command, "NARRATOR_MODEL_COMMAND")
	overrideInt(&cfg.Model.SampleRate, "NARRATOR_MODEL_SAMPLE_RATE")
	overrideString(&cfg.Model.URL, "NARRATOR_MODEL_URL")
	overrideString(&cfg.Model.CacheDir, "NARRATOR_MODEL_CACHE_DIR")
	overrideString(&cfg.Model.FileName, "NARRATOR_MODEL_FILE_NAME")
	overrideString(&cfg.Model.Yandex.Endpoint, "NARRATOR_YANDEX_ENDPOINT")
	overrideString(&cfg.Model.Yandex.APIKey, "NARRATOR_YANDEX_API_KEY")
	overrideString(&cfg.Model.Yandex.FolderID, "NARRATOR_YANDEX_FOLDER_ID")
	overrideString(&cfg.Model.Yandex.Model, "NARRATOR_YANDEX_MODEL")
	overrideString(&cfg.Synthesis.Voice, "NARRATOR_SYNTHESIS_VOICE")
	overrideInt(&cfg.Synthesis.Workers, "NARRATOR_SYNTHESIS_WORKERS")
	overrideInt(&cfg.Synthesis.MaxChunkChars, "NARRATOR_SYNTHESIS_MAX_CHUNK_CHARS")
	overrideString(&cfg.Synthesis.Script, "NARRATOR_SYNTHESIS_SCRIPT")
	overrideString(&cfg.Synthesis.ScratchDir, "NARRATOR_SYNTHESIS_SCRATCH_DIR")
	overrideString(&cfg.Transcoder.Path, "NARRATOR_TRANSCODER_PATH")
	overrideStringSlice(&cfg.Transcoder.SearchDirs, "NARRATOR_TRANSCODER_SEARCH_DIRS")
	overrideString(&cfg.Transcoder.Codec, "NARRATOR_TRANSCODER_CODEC")
	overrideString(&cfg.Transcoder.Bitrate, "NARRATOR_TRANSCODER_BITRATE")
	overrideString(&cfg.Transcoder.Container, "NARRATOR_TRANSCODER_CONTAINER")
	overrideString(&cfg.Transcoder.Extension, "NARRATOR_TRANSCODER_EXTENSION")
	overrideInt(&cfg.Transcoder.VersionTimeoutMS, "NARRATOR_TRANSCODER_VERSION_TIMEOUT_MS")
	overrideBool(&cfg.Service.Enabled, "NARRATOR_SERVICE_ENABLED")
	overrideInt(&cfg.Service.MaxConcurrency, "NARRATOR_SERVICE_MAX_CONCURRENCY")
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

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
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
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if len(cfg.Reader.Encodings) == 0 {
		return errors.New("reader.encodings must list at least one encoding")
	}
	switch cfg.Model.Mode {
	case "mock":
	case "exec":
		if cfg.Model.Command == "" {
			return errors.New("model.command must be set when mode=exec")
		}
	case "yandex":
		if cfg.Model.Yandex.Endpoint == "" {
			return errors.New("model.yandex.endpoint must be set when mode=yandex")
		}
		if cfg.Model.Yandex.APIKey == "" || cfg.Model.Yandex.FolderID == "" {
			return errors.New("model.yandex.api_key and model.yandex.folder_id must be set when mode=yandex")
		}
	default:
		return errors.New("model.mode must be one of mock|exec|yandex")
	}
	if cfg.Model.SampleRate <= 0 {
		return errors.New("model.sample_rate must be positive")
	}
	if cfg.Synthesis.Voice == "" {
		return errors.New("synthesis.voice must not be empty")
	}
	if cfg.Synthesis.Workers <= 0 {
		return errors.New("synthesis.workers must be >= 1")
	}
	if cfg.Synthesis.MaxChunkChars < 0 {
		return errors.New("synthesis.max_chunk_chars must be >= 0")
	}
	if _, ok := unicode.Scripts[cfg.Synthesis.Script]; !ok {
		return fmt.Errorf("synthesis.script %q is not a known unicode script", cfg.Synthesis.Script)
	}
	if cfg.Transcoder.Codec == "" || cfg.Transcoder.Bitrate == "" || cfg.Transcoder.Container == "" {
		return errors.New("transcoder.codec, transcoder.bitrate and transcoder.container must be set")
	}
	if cfg.Transcoder.Extension == "" {
		return errors.New("transcoder.extension must not be empty")
	}
	if cfg.Transcoder.VersionTimeoutMS <= 0 {
		return errors.New("transcoder.version_timeout_ms must be positive")
	}
	if cfg.Service.Enabled && cfg.Service.MaxConcurrency <= 0 {
		return errors.New("service.max_concurrency must be >= 1")
	}
	return nil
}
