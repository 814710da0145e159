package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "USBNET_"

// DefaultEnvFile is loaded when present and -env-file is not given.
const DefaultEnvFile = ".env"

// Load resolves the configuration from args (without the program name).
//
// -config names a YAML file and -env-file a dotenv file; variables already
// set in the environment win over the dotenv file. The result has its
// defaults applied and is validated.
func Load(args []string) (*Config, error) {
	// First pass: find the file paths and reject bad flags early.
	probe := DefaultConfig()
	flags, files := newFlagSet(&probe)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if files.config != "" {
		if err := cfg.LoadFile(files.config); err != nil {
			return nil, err
		}
	}

	if err := loadEnvFile(files.env, isFlagSet(flags, "env-file")); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// Second pass: flags bound to the merged values override only what
	// was named on the command line.
	flags, _ = newFlagSet(&cfg)
	flags.SetOutput(io.Discard)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type filePaths struct {
	config string
	env    string
}

func newFlagSet(c *Config) (*flag.FlagSet, *filePaths) {
	files := &filePaths{env: DefaultEnvFile}
	flags := flag.NewFlagSet("usbnet-bridge", flag.ContinueOnError)

	flags.StringVar(&files.config, "config", "", "YAML configuration file")
	flags.StringVar(&files.env, "env-file", DefaultEnvFile, "dotenv file with USBNET_* variables")

	flags.StringVar(&c.Host, "host", c.Host, "bind address (empty = all interfaces)")
	flags.IntVar(&c.Port, "port", c.Port, "unified HTTP/WebSocket port")
	flags.IntVar(&c.TCPPort, "tcp-port", c.TCPPort, "raw TCP proxy port (0 = off)")
	flags.IntVar(&c.MJPEGPort, "mjpeg-port", c.MJPEGPort, "MJPEG port (0 = off)")
	flags.IntVar(&c.AdminPort, "admin-port", c.AdminPort, "admin API port (0 = off)")
	flags.BoolVar(&c.TLS, "tls", c.TLS, "serve the unified port over TLS")
	flags.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for the identity and macros")

	flags.StringVar(&c.Serial.Port, "serial", c.Serial.Port, "serial device (empty = first found)")
	flags.IntVar(&c.Serial.Baud, "baud", c.Serial.Baud, "serial baud rate")
	flags.IntVar(&c.Serial.DataBits, "data-bits", c.Serial.DataBits, "serial data bits")
	flags.IntVar(&c.Serial.StopBits, "stop-bits", c.Serial.StopBits, "serial stop bits")
	flags.StringVar(&c.Serial.Parity, "parity", c.Serial.Parity, "serial parity (none, odd, even, mark, space)")
	flags.DurationVar(&c.ReconnectMin, "reconnect-min", c.ReconnectMin, "first device reopen delay")
	flags.DurationVar(&c.ReconnectMax, "reconnect-max", c.ReconnectMax, "longest device reopen delay")

	flags.StringVar(&c.Frames, "frames", c.Frames, "JPEG file or directory to stream")
	flags.StringVar(&c.H264, "h264", c.H264, "H.264 Annex-B file or pipe for the WebRTC video track")
	flags.IntVar(&c.H264FrameRate, "h264-fps", c.H264FrameRate, "H.264 frame rate")
	flags.BoolVar(&c.H264Loop, "h264-loop", c.H264Loop, "replay the H.264 file at end of stream")
	flags.BoolVar(&c.Audio, "audio", c.Audio, "add an Opus track to WebRTC peers")
	flags.Func("ice", "comma separated STUN/TURN URLs", func(s string) error {
		c.ICEServers = splitList(s)
		return nil
	})

	flags.StringVar(&c.MQTT.Broker, "mqtt-broker", c.MQTT.Broker, "MQTT broker URL (empty = off)")
	flags.StringVar(&c.MQTT.ClientID, "mqtt-client-id", c.MQTT.ClientID, "MQTT client id")
	flags.StringVar(&c.MQTT.Username, "mqtt-user", c.MQTT.Username, "MQTT username")
	flags.StringVar(&c.MQTT.Password, "mqtt-password", c.MQTT.Password, "MQTT password")
	flags.StringVar(&c.MQTT.Prefix, "mqtt-prefix", c.MQTT.Prefix, "MQTT topic prefix")
	flags.IntVar(&c.MQTT.QoS, "mqtt-qos", c.MQTT.QoS, "MQTT QoS (0-2)")

	flags.BoolVar(&c.MDNS.Enabled, "mdns", c.MDNS.Enabled, "advertise over mDNS")
	flags.StringVar(&c.MDNS.Name, "mdns-name", c.MDNS.Name, "mDNS instance name")

	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "disabled, error, warn, info, debug or trace")
	flags.BoolVar(&c.RequestLog, "request-log", c.RequestLog, "log admin API requests")

	return flags, files
}

// isFlagSet reports whether the flag was given on the command line.
func isFlagSet(flags *flag.FlagSet, name string) bool {
	found := false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrReadFile, err)
}

type envVar struct {
	name string
	set  func(v string) error
}

func stringEnv(name string, p *string) envVar {
	return envVar{name, func(v string) error { *p = v; return nil }}
}

func intEnv(name string, p *int) envVar {
	return envVar{name, func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}}
}

func boolEnv(name string, p *bool) envVar {
	return envVar{name, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}}
}

func durationEnv(name string, p *time.Duration) envVar {
	return envVar{name, func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}}
}

func (c *Config) envVars() []envVar {
	return []envVar{
		stringEnv("HOST", &c.Host),
		intEnv("PORT", &c.Port),
		intEnv("TCP_PORT", &c.TCPPort),
		intEnv("MJPEG_PORT", &c.MJPEGPort),
		intEnv("ADMIN_PORT", &c.AdminPort),
		boolEnv("TLS", &c.TLS),
		stringEnv("DATA_DIR", &c.DataDir),
		stringEnv("SERIAL", &c.Serial.Port),
		intEnv("BAUD", &c.Serial.Baud),
		intEnv("DATA_BITS", &c.Serial.DataBits),
		intEnv("STOP_BITS", &c.Serial.StopBits),
		stringEnv("PARITY", &c.Serial.Parity),
		durationEnv("RECONNECT_MIN", &c.ReconnectMin),
		durationEnv("RECONNECT_MAX", &c.ReconnectMax),
		stringEnv("FRAMES", &c.Frames),
		stringEnv("H264", &c.H264),
		intEnv("H264_FPS", &c.H264FrameRate),
		boolEnv("H264_LOOP", &c.H264Loop),
		boolEnv("AUDIO", &c.Audio),
		{"ICE", func(v string) error { c.ICEServers = splitList(v); return nil }},
		stringEnv("MQTT_BROKER", &c.MQTT.Broker),
		stringEnv("MQTT_CLIENT_ID", &c.MQTT.ClientID),
		stringEnv("MQTT_USER", &c.MQTT.Username),
		stringEnv("MQTT_PASSWORD", &c.MQTT.Password),
		stringEnv("MQTT_PREFIX", &c.MQTT.Prefix),
		intEnv("MQTT_QOS", &c.MQTT.QoS),
		boolEnv("MDNS", &c.MDNS.Enabled),
		stringEnv("MDNS_NAME", &c.MDNS.Name),
		stringEnv("LOG_LEVEL", &c.LogLevel),
		boolEnv("REQUEST_LOG", &c.RequestLog),
	}
}

// applyEnv overrides c with every USBNET_* variable lookup finds.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, v := range c.envVars() {
		name := EnvPrefix + v.name
		val, ok := lookup(name)
		if !ok {
			continue
		}
		if err := v.set(strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEnv, name, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
