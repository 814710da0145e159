package mqttmirror

import "errors"

// Mirror errors.
var (
	ErrNoDevice       = errors.New("mqttmirror: no device sink configured")
	ErrNoBroker       = errors.New("mqttmirror: no broker configured")
	ErrInvalidQoS     = errors.New("mqttmirror: invalid qos")
	ErrAlreadyStarted = errors.New("mqttmirror: already started")
	ErrTimeout        = errors.New("mqttmirror: broker did not answer in time")
	ErrConnect        = errors.New("mqttmirror: connect failed")
	ErrSubscribe      = errors.New("mqttmirror: subscribe failed")
	ErrNotConnected   = errors.New("mqttmirror: not connected")
)
