package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/logging"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if got := c.ListenAddr(); got != ":8888" {
		t.Errorf("ListenAddr() = %q, want :8888", got)
	}
	if got := c.TCPAddr(); got != ":8889" {
		t.Errorf("TCPAddr() = %q, want :8889", got)
	}
	if got := c.MJPEGAddr(); got != "" {
		t.Errorf("MJPEGAddr() without frames = %q, want empty", got)
	}
	if got := c.AdminAddr(); got != "" {
		t.Errorf("AdminAddr() = %q, want empty", got)
	}
	if c.TLS {
		t.Error("TLS on by default")
	}
	if filepath.Base(c.DataDir) != DefaultDirName {
		t.Errorf("DataDir = %q", c.DataDir)
	}

	if c.HasCapture() || c.H264FrameRate != DefaultH264FrameRate || !c.H264Loop {
		t.Errorf("capture defaults: HasCapture = %v, H264FrameRate = %d, H264Loop = %v",
			c.HasCapture(), c.H264FrameRate, c.H264Loop)
	}

	c.H264 = "/tmp/cam.h264"
	if !c.HasCapture() || c.MJPEGAddr() != "" {
		t.Error("H264 alone should enable capture but not MJPEG")
	}

	c.Frames = "/tmp/frames"
	c.Host = "127.0.0.1"
	if got := c.MJPEGAddr(); got != "127.0.0.1:8887" {
		t.Errorf("MJPEGAddr() = %q, want 127.0.0.1:8887", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"zero port", func(c *Config) { c.Port = 0 }, ErrInvalidPort},
		{"port too large", func(c *Config) { c.TCPPort = 70000 }, ErrInvalidPort},
		{"negative port", func(c *Config) { c.AdminPort = -1 }, ErrInvalidPort},
		{"conflict", func(c *Config) { c.AdminPort = c.TCPPort }, ErrPortConflict},
		{"conflict with unified", func(c *Config) { c.MJPEGPort = c.Port }, ErrPortConflict},
		{"disabled ports", func(c *Config) { c.TCPPort, c.MJPEGPort = 0, 0 }, nil},
		{"bad parity", func(c *Config) { c.Serial.Parity = "sometimes" }, ErrInvalidSerial},
		{"bad stop bits", func(c *Config) { c.Serial.StopBits = 3 }, ErrInvalidSerial},
		{"bad data bits", func(c *Config) { c.Serial.DataBits = 9 }, ErrInvalidSerial},
		{"negative baud", func(c *Config) { c.Serial.Baud = -1 }, ErrInvalidSerial},
		{"inverted reconnect", func(c *Config) { c.ReconnectMax = time.Millisecond }, ErrInvalidReconnect},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, ErrInvalidQoS},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogLevel},
		{"h264 frame rate", func(c *Config) { c.H264FrameRate = 0 }, ErrInvalidFrameRate},
		{"h264 frame rate too high", func(c *Config) { c.H264FrameRate = 1000 }, ErrInvalidFrameRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			err := c.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logging.LogLevel
	}{
		{"", logging.LogLevelInfo},
		{"info", logging.LogLevelInfo},
		{"DEBUG", logging.LogLevelDebug},
		{"warning", logging.LogLevelWarn},
		{"error", logging.LogLevelError},
		{"trace", logging.LogLevelTrace},
		{"off", logging.LogLevelDisabled},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLogLevel("verbose"); !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("ParseLogLevel(verbose) error = %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	yamlPath := writeFile(t, "bridge.yaml", `
port: 9000
tcp_port: 9001
log_level: debug
reconnect_max: 30s
serial:
  port: /dev/ttyACM0
  baud: 9600
mqtt:
  prefix: shop
`)
	t.Setenv("USBNET_TCP_PORT", "9101")
	t.Setenv("USBNET_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("USBNET_PORT", "9200")
	t.Setenv("USBNET_H264", "/run/cam.h264")
	t.Setenv("USBNET_H264_LOOP", "false")

	c, err := Load([]string{
		"-config", yamlPath,
		"-data-dir", t.TempDir(),
		"-port", "9300",
		"-log-level", "warn",
		"-ice", "stun:a.example:3478, stun:b.example:3478",
		"-h264-fps", "15",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Port != 9300 {
		t.Errorf("Port = %d, want flag value 9300", c.Port)
	}
	if c.TCPPort != 9101 {
		t.Errorf("TCPPort = %d, want env value 9101", c.TCPPort)
	}
	if c.MJPEGPort != DefaultMJPEGPort {
		t.Errorf("MJPEGPort = %d, want default", c.MJPEGPort)
	}
	if c.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", c.LogLevel)
	}
	if c.Serial.Port != "/dev/ttyACM0" || c.Serial.Baud != 9600 {
		t.Errorf("Serial = %+v", c.Serial)
	}
	if c.Serial.DataBits != 8 || c.Serial.Parity != "none" {
		t.Errorf("Serial defaults lost: %+v", c.Serial)
	}
	if c.ReconnectMax != 30*time.Second {
		t.Errorf("ReconnectMax = %v, want 30s", c.ReconnectMax)
	}
	if c.H264 != "/run/cam.h264" || c.H264Loop || c.H264FrameRate != 15 {
		t.Errorf("H264 = %q, H264Loop = %v, H264FrameRate = %d", c.H264, c.H264Loop, c.H264FrameRate)
	}
	if c.MQTT.Broker != "tcp://broker:1883" || c.MQTT.Prefix != "shop" {
		t.Errorf("MQTT = %+v", c.MQTT)
	}
	if len(c.ICEServers) != 2 || c.ICEServers[1] != "stun:b.example:3478" {
		t.Errorf("ICEServers = %q", c.ICEServers)
	}

	sc := c.SerialConfig()
	if sc.PortName != "/dev/ttyACM0" || sc.BaudRate != 9600 {
		t.Errorf("SerialConfig() = %+v", sc)
	}
}

func TestLoadEnvFile(t *testing.T) {
	for _, name := range []string{"USBNET_ADMIN_PORT", "USBNET_TLS"} {
		os.Unsetenv(name)
		t.Cleanup(func() { os.Unsetenv(name) })
	}
	path := writeFile(t, "bridge.env", "USBNET_ADMIN_PORT=8890\nUSBNET_TLS=true\n")

	c, err := Load([]string{"-env-file", path, "-data-dir", t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.AdminPort != 8890 || !c.TLS {
		t.Errorf("AdminPort = %d, TLS = %v", c.AdminPort, c.TLS)
	}
	if c.AdminAddr() != ":8890" {
		t.Errorf("AdminAddr() = %q", c.AdminAddr())
	}
}

func TestLoadErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	t.Run("missing config", func(t *testing.T) {
		if _, err := Load([]string{"-config", missing}); !errors.Is(err, ErrReadFile) {
			t.Errorf("Load() error = %v, want ErrReadFile", err)
		}
	})

	t.Run("missing env file", func(t *testing.T) {
		if _, err := Load([]string{"-env-file", missing}); !errors.Is(err, ErrReadFile) {
			t.Errorf("Load() error = %v, want ErrReadFile", err)
		}
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "port: [1, 2\n")
		if _, err := Load([]string{"-config", path}); err == nil {
			t.Error("Load() succeeded with malformed YAML")
		}
	})

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("USBNET_MJPEG_PORT", "eighty")
		if _, err := Load(nil); !errors.Is(err, ErrInvalidEnv) {
			t.Errorf("Load() error = %v, want ErrInvalidEnv", err)
		}
	})

	t.Run("unknown flag", func(t *testing.T) {
		if _, err := Load([]string{"-bogus"}); err == nil {
			t.Error("Load() accepted unknown flag")
		}
	})

	t.Run("help", func(t *testing.T) {
		if _, err := Load([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
			t.Errorf("Load() error = %v, want flag.ErrHelp", err)
		}
	})

	t.Run("invalid result", func(t *testing.T) {
		if _, err := Load([]string{"-data-dir", t.TempDir(), "-tcp-port", "8888"}); !errors.Is(err, ErrPortConflict) {
			t.Errorf("Load() error = %v, want ErrPortConflict", err)
		}
	})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bridge.yaml")
	c := DefaultConfig()
	c.AdminPort = 8890
	c.ReconnectMax = time.Minute
	if err := c.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var got Config
	if err := got.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got.AdminPort != 8890 || got.Port != DefaultPort || got.ReconnectMax != time.Minute {
		t.Errorf("LoadFile() = %+v", got)
	}
}
