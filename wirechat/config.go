package wirechat

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in Config.Transport.
const (
	TransportWebsocket = "websocket" // coder/websocket
	TransportGorilla   = "gorilla"
	TransportGobwas    = "gobwas"
	TransportSocketIO  = "socketio"
)

// Codec names accepted in Config.Codec.
const (
	CodecJSON     = "json"
	CodecProtobuf = "protobuf"
)

// Config controls how the SDK connects.
type Config struct {
	URL       string `yaml:"url" env:"WIRECHAT_URL"`
	Transport string `yaml:"transport" env:"WIRECHAT_TRANSPORT"`
	Codec     string `yaml:"codec" env:"WIRECHAT_CODEC"`
	Path      string `yaml:"path" env:"WIRECHAT_PATH"` // socket.io only

	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"WIRECHAT_HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"WIRECHAT_READ_TIMEOUT"` // 0 disables
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WIRECHAT_WRITE_TIMEOUT"`
	SendQueueSize    int           `yaml:"send_queue_size" env:"WIRECHAT_SEND_QUEUE_SIZE"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"WIRECHAT_MAX_RECONNECT_ATTEMPTS"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" env:"WIRECHAT_RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay" env:"WIRECHAT_RECONNECT_MAX_DELAY"`
	// ReconnectJitter randomises each delay by ±factor. Zero keeps the
	// schedule deterministic.
	ReconnectJitter float64 `yaml:"reconnect_jitter" env:"WIRECHAT_RECONNECT_JITTER"`

	TypingTimeout       time.Duration `yaml:"typing_timeout" env:"WIRECHAT_TYPING_TIMEOUT"`
	RemoteTypingTimeout time.Duration `yaml:"remote_typing_timeout" env:"WIRECHAT_REMOTE_TYPING_TIMEOUT"`

	LogLevel string `yaml:"log_level" env:"WIRECHAT_LOG_LEVEL"`
}

// DefaultConfig returns sensible defaults.
// Set ReadTimeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		Transport:            TransportWebsocket,
		Codec:                CodecJSON,
		Path:                 "/socket.io/",
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		SendQueueSize:        64,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    10 * time.Second,
		TypingTimeout:        3 * time.Second,
		RemoteTypingTimeout:  5 * time.Second,
		LogLevel:             "info",
	}
}

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is not empty), then WIRECHAT_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, WrapError(ErrorInvalidConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, WrapError(ErrorInvalidConfig, "parse config file", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, WrapError(ErrorInvalidConfig, "parse environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first problem found. The URL is checked by the
// transport that needs it.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportWebsocket, TransportGorilla, TransportGobwas, TransportSocketIO:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.Codec {
	case CodecJSON, CodecProtobuf:
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake_timeout must be positive"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("read/write timeouts must not be negative"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, errors.New("send_queue_size must be positive"))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max_reconnect_attempts must not be negative"))
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		errs = append(errs, errors.New("reconnect delays must satisfy 0 < base <= max"))
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		errs = append(errs, errors.New("reconnect_jitter must be in [0, 1)"))
	}
	if c.TypingTimeout <= 0 || c.RemoteTypingTimeout <= 0 {
		errs = append(errs, errors.New("typing timeouts must be positive"))
	}
	if len(errs) > 0 {
		return WrapError(ErrorInvalidConfig, "invalid config", errors.Join(errs...))
	}
	return nil
}
