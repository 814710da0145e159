package signaling

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

// MacroStore is the macro list edited from the browser.
type MacroStore interface {
	JSON() (string, error)
	SaveJSON(data string) error
}

// DeviceExtensionConfig configures a DeviceExtension.
type DeviceExtensionConfig struct {
	// Macros backs getMacros and saveMacros. Optional.
	Macros MacroStore

	// Device receives sendSerial commands. Optional.
	Device upstream.Sink

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DeviceExtension adds the macro and device control messages used by the
// bundled pages: getMacros, saveMacros and sendSerial.
type DeviceExtension struct {
	macros MacroStore
	device upstream.Sink
	log    logging.LeveledLogger
}

// NewDeviceExtension creates a DeviceExtension.
func NewDeviceExtension(config DeviceExtensionConfig) *DeviceExtension {
	e := &DeviceExtension{
		macros: config.Macros,
		device: config.Device,
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("signaling-device")
	}
	return e
}

// HandleMessage implements Extension.
func (e *DeviceExtension) HandleMessage(s *Session, msg *Message) (bool, error) {
	switch msg.Type {
	case TypeGetMacros:
		if e.macros == nil {
			return false, nil
		}
		data, err := e.macros.JSON()
		if err != nil {
			return true, err
		}
		return true, s.Send(&Message{Type: TypeMacros, Data: data})

	case TypeSaveMacros:
		if e.macros == nil {
			return false, nil
		}
		if err := e.macros.SaveJSON(msg.Data); err != nil {
			_ = s.Send(&Message{Type: TypeError, Error: err.Error()})
			return true, err
		}
		return true, s.Send(&Message{Type: TypeMacrosSaved})

	case TypeSendSerial:
		if e.device == nil {
			return false, nil
		}
		return true, e.sendSerial(msg.Command)
	}
	return false, nil
}

func (e *DeviceExtension) sendSerial(command string) error {
	b, err := upstream.ParseCommand(command)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if !e.device.IsOpen() {
		return upstream.ErrNotOpen
	}
	if _, err := e.device.Write(b); err != nil {
		return fmt.Errorf("send serial: %w", err)
	}
	if e.log != nil {
		e.log.Tracef("sent %d command bytes", len(b))
	}
	return nil
}
