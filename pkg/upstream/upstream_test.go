package upstream

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"go.bug.st/serial"
)

// virtualLine is an in-memory serial line. Conn0 is the bridge side, Conn1
// the device side. Packets are delivered by a background ticker.
type virtualLine struct {
	bridge *test.Bridge
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newVirtualLine(t *testing.T) *virtualLine {
	t.Helper()
	v := &virtualLine{bridge: test.NewBridge(), stopCh: make(chan struct{})}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-v.stopCh:
				return
			case <-ticker.C:
				v.bridge.Tick()
			}
		}
	}()
	t.Cleanup(func() {
		close(v.stopCh)
		v.wg.Wait()
	})
	return v
}

func (v *virtualLine) opener() Opener {
	return OpenerFunc(func() (Port, error) { return v.bridge.GetConn0(), nil })
}

func (v *virtualLine) device() net.Conn { return v.bridge.GetConn1() }

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func TestLinkRelay(t *testing.T) {
	timeout := test.TimeOut(5 * time.Second)
	defer timeout.Stop()

	line := newVirtualLine(t)
	received := make(chan []byte, 4)
	var rec statusRecorder

	link, err := NewLink(LinkConfig{
		Opener:    line.opener(),
		OnReceive: func(p []byte) { received <- p },
		OnStatus:  rec.record,
	})
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}

	if _, err := link.Write([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Write() before Open error = %v, want ErrNotOpen", err)
	}

	if err := link.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !link.IsOpen() {
		t.Error("IsOpen() = false after Open")
	}
	if err := link.Open(); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open() error = %v, want ErrAlreadyOpen", err)
	}

	t.Run("device to bridge", func(t *testing.T) {
		if _, err := line.device().Write([]byte("ok\r\n")); err != nil {
			t.Fatalf("device Write() error = %v", err)
		}
		select {
		case got := <-received:
			if string(got) != "ok\r\n" {
				t.Errorf("received %q, want %q", got, "ok\r\n")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for device data")
		}
	})

	t.Run("bridge to device", func(t *testing.T) {
		if _, err := link.Write([]byte("$X\n")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		buf := make([]byte, 16)
		n, err := line.device().Read(buf)
		if err != nil {
			t.Fatalf("device Read() error = %v", err)
		}
		if string(buf[:n]) != "$X\n" {
			t.Errorf("device got %q, want %q", buf[:n], "$X\n")
		}
	})

	lost := link.Lost()
	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-lost:
	default:
		t.Error("Lost() channel not closed after Close")
	}
	if link.IsOpen() {
		t.Error("IsOpen() = true after Close")
	}

	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLinkOpenFailure(t *testing.T) {
	openErr := errors.New("permission denied")
	var rec statusRecorder
	link, err := NewLink(LinkConfig{
		Opener:   OpenerFunc(func() (Port, error) { return nil, openErr }),
		OnStatus: rec.record,
	})
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}

	if err := link.Open(); !errors.Is(err, openErr) {
		t.Errorf("Open() error = %v, want %v", err, openErr)
	}
	if link.Status() != StatusDisconnected {
		t.Errorf("Status() = %v, want Disconnected", link.Status())
	}
}

func TestNewLinkRequiresOpener(t *testing.T) {
	if _, err := NewLink(LinkConfig{}); !errors.Is(err, ErrNoOpener) {
		t.Errorf("NewLink() error = %v, want ErrNoOpener", err)
	}
}

func TestSupervisorReconnects(t *testing.T) {
	timeout := test.TimeOut(10 * time.Second)
	defer timeout.Stop()

	line := newVirtualLine(t)

	var mu sync.Mutex
	attempts := 0
	opener := OpenerFunc(func() (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, ErrNoDevice
		}
		return line.bridge.GetConn0(), nil
	})

	connected := make(chan struct{}, 1)
	link, err := NewLink(LinkConfig{
		Opener: opener,
		OnStatus: func(s Status, _ error) {
			if s == StatusConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}

	lostCalls := make(chan struct{}, 1)
	sup, err := NewSupervisor(SupervisorConfig{
		Link:     link,
		MinDelay: time.Millisecond,
		MaxDelay: 5 * time.Millisecond,
		OnLost: func() {
			select {
			case lostCalls <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never connected")
	}

	mu.Lock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	mu.Unlock()

	// Unplug: the bridge side sees end of stream.
	line.bridge.GetConn0().Close()

	select {
	case <-lostCalls:
	case <-time.After(5 * time.Second):
		t.Fatal("OnLost was not called")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"0x18", []byte{0x18}},
		{"0x1b5b41", []byte{0x1b, 0x5b, 0x41}},
		{"0x1b 5b 41", []byte{0x1b, 0x5b, 0x41}},
		{`$X\n`, []byte("$X\n")},
		{`G0 X10\r\n`, []byte("G0 X10\r\n")},
		{"plain", []byte("plain")},
		{"", []byte{}},
	}

	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		if err != nil {
			t.Errorf("ParseCommand(%q) error = %v", tt.in, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("ParseCommand(%q) = % x, want % x", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"0x1", "0xzz"} {
		if _, err := ParseCommand(bad); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("ParseCommand(%q) error = %v, want ErrInvalidCommand", bad, err)
		}
	}
}

func TestSerialConfigMode(t *testing.T) {
	mode, err := DefaultSerialConfig().Mode()
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 {
		t.Errorf("mode = %+v, want 115200 8 bits", mode)
	}
	if mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Errorf("mode = %+v, want no parity, one stop bit", mode)
	}

	mode, err = SerialConfig{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "Even"}.Mode()
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode.Parity != serial.EvenParity || mode.StopBits != serial.TwoStopBits || mode.DataBits != 7 {
		t.Errorf("mode = %+v", mode)
	}

	bad := []SerialConfig{
		{StopBits: 3},
		{Parity: "sometimes"},
		{DataBits: 9},
	}
	for _, c := range bad {
		if _, err := c.Mode(); !errors.Is(err, ErrInvalidSetting) {
			t.Errorf("Mode(%+v) error = %v, want ErrInvalidSetting", c, err)
		}
	}
}

func TestSerialOpenerAutoDetect(t *testing.T) {
	o, err := NewSerialOpener(DefaultSerialConfig(), nil)
	if err != nil {
		t.Fatalf("NewSerialOpener() error = %v", err)
	}

	t.Run("no ports", func(t *testing.T) {
		o.listPorts = func() ([]string, error) { return nil, nil }
		if _, err := o.Open(); !errors.Is(err, ErrNoDevice) {
			t.Errorf("Open() error = %v, want ErrNoDevice", err)
		}
	})

	t.Run("first port", func(t *testing.T) {
		var opened string
		openErr := errors.New("busy")
		o.listPorts = func() ([]string, error) { return []string{"/dev/ttyACM0", "/dev/ttyUSB0"}, nil }
		o.openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
			opened = name
			return nil, openErr
		}

		if _, err := o.Open(); !errors.Is(err, openErr) {
			t.Errorf("Open() error = %v, want %v", err, openErr)
		}
		if opened != "/dev/ttyACM0" {
			t.Errorf("opened %q, want /dev/ttyACM0", opened)
		}
	})
}
