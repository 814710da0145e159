package upstream

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"go.bug.st/serial"
)

// Serial defaults.
const (
	DefaultBaudRate = 115200
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = "none"
)

// SerialConfig describes the serial line settings.
type SerialConfig struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0".
	// If empty, the first port reported by the system is used.
	PortName string

	BaudRate int
	DataBits int

	// StopBits is 1 or 2.
	StopBits int

	// Parity is one of "none", "odd", "even", "mark" or "space".
	Parity string
}

// DefaultSerialConfig returns 115200 8N1 with port auto-detection.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: DefaultBaudRate,
		DataBits: DefaultDataBits,
		StopBits: DefaultStopBits,
		Parity:   DefaultParity,
	}
}

// Mode converts the settings to a serial.Mode.
func (c SerialConfig) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = DefaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = DefaultDataBits
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("%w: data bits %d", ErrInvalidSetting, mode.DataBits)
	}

	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", ErrInvalidSetting, c.StopBits)
	}

	switch strings.ToLower(c.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrInvalidSetting, c.Parity)
	}

	return mode, nil
}

// SerialOpener opens a serial port with fixed settings.
type SerialOpener struct {
	config SerialConfig
	log    logging.LeveledLogger

	// listPorts and openPort are replaced in tests.
	listPorts func() ([]string, error)
	openPort  func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialOpener validates config and returns an Opener for it.
func NewSerialOpener(config SerialConfig, loggerFactory logging.LoggerFactory) (*SerialOpener, error) {
	if _, err := config.Mode(); err != nil {
		return nil, err
	}
	o := &SerialOpener{
		config:    config,
		listPorts: serial.GetPortsList,
		openPort:  serial.Open,
	}
	if loggerFactory != nil {
		o.log = loggerFactory.NewLogger("upstream-serial")
	}
	return o, nil
}

// Open opens the configured port, or the first available one.
func (o *SerialOpener) Open() (Port, error) {
	mode, err := o.config.Mode()
	if err != nil {
		return nil, err
	}

	name := o.config.PortName
	if name == "" {
		ports, err := o.listPorts()
		if err != nil {
			return nil, fmt.Errorf("upstream: list ports: %w", err)
		}
		if len(ports) == 0 {
			return nil, ErrNoDevice
		}
		name = ports[0]
	}

	if o.log != nil {
		o.log.Debugf("opening %s at %d baud", name, mode.BaudRate)
	}

	port, err := o.openPort(name, mode)
	if err != nil {
		return nil, fmt.Errorf("upstream: open %s: %w", name, err)
	}
	return port, nil
}
