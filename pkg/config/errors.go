package config

import "errors"

var (
	// ErrInvalidPort is returned when a port is outside 0-65535 or the
	// unified port is 0.
	ErrInvalidPort = errors.New("config: invalid port")

	// ErrPortConflict is returned when two enabled listeners share a port.
	ErrPortConflict = errors.New("config: port used by two listeners")

	// ErrInvalidSerial is returned for unusable serial settings.
	ErrInvalidSerial = errors.New("config: invalid serial settings")

	// ErrInvalidQoS is returned when the MQTT QoS is not 0, 1 or 2.
	ErrInvalidQoS = errors.New("config: invalid mqtt qos")

	// ErrInvalidLogLevel is returned for an unknown log level name.
	ErrInvalidLogLevel = errors.New("config: invalid log level")

	// ErrInvalidReconnect is returned when the reconnect bounds are inverted.
	ErrInvalidReconnect = errors.New("config: invalid reconnect delays")

	// ErrInvalidFrameRate is returned for an H.264 frame rate outside 1-240.
	ErrInvalidFrameRate = errors.New("config: invalid h264 frame rate")

	// ErrInvalidEnv is returned when a USBNET_* variable cannot be parsed.
	ErrInvalidEnv = errors.New("config: invalid environment variable")

	// ErrReadFile is returned when the YAML or .env file cannot be read.
	ErrReadFile = errors.New("config: cannot read file")
)
