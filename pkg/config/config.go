// Package config loads the bridge settings.
//
// Settings are resolved once at startup, lowest to highest precedence:
// DefaultConfig, the YAML file named by -config, USBNET_* environment
// variables (a .env file is loaded first) and finally command-line flags.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/upstream"
	"gopkg.in/yaml.v3"
)

// Default ports.
const (
	DefaultPort      = 8888
	DefaultTCPPort   = 8889
	DefaultMJPEGPort = 8887
)

// DefaultH264FrameRate paces the H.264 feed.
const DefaultH264FrameRate = 30

// DefaultDirName is the data directory name under the user config dir.
const DefaultDirName = "usbnet-bridge"

// SerialConfig selects and configures the serial device.
type SerialConfig struct {
	// Port is the device path. Empty picks the first port found.
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// MQTTConfig enables the broker mirror when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	QoS      int    `yaml:"qos"`
}

// MDNSConfig controls service advertisement.
type MDNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// Config holds every bridge setting.
type Config struct {
	// Host is the bind address for every listener. Empty binds all
	// interfaces.
	Host string `yaml:"host"`

	// Port is the unified HTTP/WebSocket listener.
	Port int `yaml:"port"`

	// TCPPort is the raw TCP proxy. 0 disables it.
	TCPPort int `yaml:"tcp_port"`

	// MJPEGPort is the MJPEG stream. 0 disables it. MJPEG also needs Frames.
	MJPEGPort int `yaml:"mjpeg_port"`

	// AdminPort is the admin API. 0 disables it.
	AdminPort int `yaml:"admin_port"`

	// TLS serves the unified listener with the persisted identity.
	TLS bool `yaml:"tls"`

	// DataDir holds the identity keystore and macros file.
	DataDir string `yaml:"data_dir"`

	Serial SerialConfig `yaml:"serial"`

	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`

	// Frames is a JPEG file or directory feeding MJPEG. Empty disables
	// capture.
	Frames string `yaml:"frames"`

	// H264 is an Annex-B file or named pipe feeding the WebRTC video track.
	// Empty leaves the track idle.
	H264 string `yaml:"h264"`

	// H264FrameRate paces H264 (default: 30).
	H264FrameRate int `yaml:"h264_fps"`

	// H264Loop replays H264 from the start at end of stream.
	H264Loop bool `yaml:"h264_loop"`

	// Audio adds an Opus track to WebRTC peers.
	Audio bool `yaml:"audio"`

	// ICEServers are STUN/TURN URLs for WebRTC peers.
	ICEServers []string `yaml:"ice_servers"`

	MQTT MQTTConfig `yaml:"mqtt"`
	MDNS MDNSConfig `yaml:"mdns"`

	// LogLevel is one of disabled, error, warn, info, debug, trace.
	LogLevel string `yaml:"log_level"`

	// RequestLog logs every admin API request.
	RequestLog bool `yaml:"request_log"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	serial := upstream.DefaultSerialConfig()
	return Config{
		Port:      DefaultPort,
		TCPPort:   DefaultTCPPort,
		MJPEGPort: DefaultMJPEGPort,
		Serial: SerialConfig{
			Baud:     serial.BaudRate,
			DataBits: serial.DataBits,
			StopBits: serial.StopBits,
			Parity:   serial.Parity,
		},
		ReconnectMin:  500 * time.Millisecond,
		ReconnectMax:  10 * time.Second,
		H264FrameRate: DefaultH264FrameRate,
		H264Loop:      true,
		MQTT: MQTTConfig{
			Prefix: "usbnet",
		},
		MDNS: MDNSConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// applyDefaults fills settings that a file or variable left empty.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		c.DataDir = filepath.Join(dir, DefaultDirName)
	}

	def := upstream.DefaultSerialConfig()
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.BaudRate
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = def.DataBits
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = def.StopBits
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = def.Parity
	}

	if c.H264FrameRate == 0 {
		c.H264FrameRate = DefaultH264FrameRate
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "usbnet"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidPort, c.Port)
	}

	used := map[int]string{c.Port: "port"}
	for _, p := range []struct {
		name string
		port int
	}{
		{"tcp_port", c.TCPPort},
		{"mjpeg_port", c.MJPEGPort},
		{"admin_port", c.AdminPort},
	} {
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("%w: %s %d", ErrInvalidPort, p.name, p.port)
		}
		if p.port == 0 {
			continue
		}
		if other, ok := used[p.port]; ok {
			return fmt.Errorf("%w: %s and %s are both %d", ErrPortConflict, other, p.name, p.port)
		}
		used[p.port] = p.name
	}

	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: baud %d", ErrInvalidSerial, c.Serial.Baud)
	}
	if _, err := c.SerialConfig().Mode(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSerial, err)
	}

	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("%w: %v..%v", ErrInvalidReconnect, c.ReconnectMin, c.ReconnectMax)
	}

	if c.H264FrameRate < 1 || c.H264FrameRate > 240 {
		return fmt.Errorf("%w: %d", ErrInvalidFrameRate, c.H264FrameRate)
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, c.MQTT.QoS)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func addr(host string, port int) string {
	if port == 0 {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ListenAddr is the unified listener address.
func (c *Config) ListenAddr() string { return addr(c.Host, c.Port) }

// TCPAddr is the TCP proxy address, or "" when disabled.
func (c *Config) TCPAddr() string { return addr(c.Host, c.TCPPort) }

// MJPEGAddr is the MJPEG address, or "" when disabled or without frames.
func (c *Config) MJPEGAddr() string {
	if c.Frames == "" {
		return ""
	}
	return addr(c.Host, c.MJPEGPort)
}

// HasCapture reports whether a capture source is configured.
func (c *Config) HasCapture() bool { return c.Frames != "" || c.H264 != "" }

// AdminAddr is the admin API address, or "" when disabled.
func (c *Config) AdminAddr() string { return addr(c.Host, c.AdminPort) }

// MacrosPath is the macro file inside DataDir.
func (c *Config) MacrosPath() string { return filepath.Join(c.DataDir, "macros.json") }

// SerialConfig converts the serial settings for upstream.NewSerialOpener.
func (c *Config) SerialConfig() upstream.SerialConfig {
	return upstream.SerialConfig{
		PortName: c.Serial.Port,
		BaudRate: c.Serial.Baud,
		DataBits: c.Serial.DataBits,
		StopBits: c.Serial.StopBits,
		Parity:   c.Serial.Parity,
	}
}

// ParseLogLevel maps a level name to a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
}

// LoadFile merges a YAML file into c. Keys missing from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFile, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// WriteFile writes c as YAML.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
