package bridge

import (
	"github.com/usbnetserver/bridge/pkg/trafficlog"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

// loggingSink records every byte written to the device as outbound traffic.
// All transports write through it.
type loggingSink struct {
	up      upstream.Sink
	traffic *trafficlog.Log
}

func (s *loggingSink) IsOpen() bool { return s.up.IsOpen() }

func (s *loggingSink) Write(p []byte) (int, error) {
	n, err := s.up.Write(p)
	if n > 0 {
		s.traffic.Add(trafficlog.Outbound, p[:n])
	}
	return n, err
}
