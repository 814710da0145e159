package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockMDNSServer is a mock implementation of MDNSServer for testing.
type mockMDNSServer struct {
	mu             sync.Mutex
	shutdownCalled bool
}

func (m *mockMDNSServer) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownCalled = true
}

func (m *mockMDNSServer) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownCalled
}

// mockMDNSServerFactory is a mock implementation of MDNSServerFactory for testing.
type mockMDNSServerFactory struct {
	mu       sync.Mutex
	servers  []*mockMDNSServer
	lastArgs struct {
		instance string
		service  string
		domain   string
		port     int
		txt      []string
	}
	shouldFail bool
}

func (f *mockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail {
		return nil, ErrClosed
	}

	f.lastArgs.instance = instance
	f.lastArgs.service = service
	f.lastArgs.domain = domain
	f.lastArgs.port = port
	f.lastArgs.txt = txt

	server := &mockMDNSServer{}
	f.servers = append(f.servers, server)
	return server, nil
}

func TestNewAdvertiser(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		adv, err := NewAdvertiser(AdvertiserConfig{})
		if err != nil {
			t.Fatalf("NewAdvertiser() error = %v", err)
		}
		if adv.config.Port != DefaultPort {
			t.Errorf("Port = %d, want %d", adv.config.Port, DefaultPort)
		}
		if !strings.HasPrefix(adv.InstanceName(), "usbnet-") {
			t.Errorf("InstanceName() = %q, want usbnet- prefix", adv.InstanceName())
		}
	})

	t.Run("invalid port", func(t *testing.T) {
		if _, err := NewAdvertiser(AdvertiserConfig{Port: 70000}); err != ErrInvalidPort {
			t.Errorf("NewAdvertiser() error = %v, want ErrInvalidPort", err)
		}
	})

	t.Run("instance name too long", func(t *testing.T) {
		_, err := NewAdvertiser(AdvertiserConfig{InstanceName: strings.Repeat("x", 64)})
		if err != ErrInvalidInstanceName {
			t.Errorf("NewAdvertiser() error = %v, want ErrInvalidInstanceName", err)
		}
	})
}

func TestAdvertiser_Start(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv, err := NewAdvertiser(AdvertiserConfig{
		InstanceName:  "usbnet-bench",
		Port:          9443,
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	txt := ServiceTXT{TLS: true, TCPPort: 8889, MJPEGPort: 8887, SignalPath: "/webrtc", Fingerprint: "ab12"}
	if err := adv.Start(txt); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !adv.IsAdvertising() {
		t.Error("IsAdvertising() = false after Start")
	}
	if factory.lastArgs.instance != "usbnet-bench" {
		t.Errorf("instance = %q", factory.lastArgs.instance)
	}
	if factory.lastArgs.service != ServiceBridge {
		t.Errorf("service = %q, want %q", factory.lastArgs.service, ServiceBridge)
	}
	if factory.lastArgs.domain != DefaultDomain {
		t.Errorf("domain = %q", factory.lastArgs.domain)
	}
	if factory.lastArgs.port != 9443 {
		t.Errorf("port = %d, want 9443", factory.lastArgs.port)
	}
	got := ParseTXT(factory.lastArgs.txt)
	if got["tls"] != "1" || got["tcp"] != "8889" || got["mjpeg"] != "8887" || got["signal"] != "/webrtc" || got["fp"] != "ab12" {
		t.Errorf("txt = %v", factory.lastArgs.txt)
	}

	if err := adv.Start(txt); err != ErrAlreadyStarted {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestAdvertiser_StartErrors(t *testing.T) {
	t.Run("invalid txt", func(t *testing.T) {
		adv, _ := NewAdvertiser(AdvertiserConfig{ServerFactory: &mockMDNSServerFactory{}})
		err := adv.Start(ServiceTXT{Fingerprint: "ab"})
		if !errors.Is(err, ErrInvalidTXTRecord) {
			t.Errorf("Start() error = %v, want ErrInvalidTXTRecord", err)
		}
	})

	t.Run("registration failure", func(t *testing.T) {
		adv, _ := NewAdvertiser(AdvertiserConfig{ServerFactory: &mockMDNSServerFactory{shouldFail: true}})
		if err := adv.Start(ServiceTXT{}); err == nil {
			t.Error("Start() error = nil, want registration failure")
		}
		if adv.IsAdvertising() {
			t.Error("IsAdvertising() = true after failed Start")
		}
	})
}

func TestAdvertiser_UpdateAndStop(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv, _ := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})

	if err := adv.Stop(); err != ErrNotStarted {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}

	if err := adv.Update(ServiceTXT{TCPPort: 1}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := adv.Update(ServiceTXT{TCPPort: 2}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(factory.servers) != 2 || !factory.servers[0].isShutdown() {
		t.Error("Update() did not replace the first registration")
	}
	if adv.TXT().TCPPort != 2 {
		t.Errorf("TXT().TCPPort = %d, want 2", adv.TXT().TCPPort)
	}

	if err := adv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !factory.servers[1].isShutdown() {
		t.Error("Stop() did not shut the server down")
	}
}

func TestAdvertiser_Close(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv, _ := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})
	if err := adv.Start(ServiceTXT{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := adv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !factory.servers[0].isShutdown() {
		t.Error("Close() did not shut the server down")
	}
	if err := adv.Close(); err != ErrClosed {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if err := adv.Start(ServiceTXT{}); err != ErrClosed {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestAdvertiserWithContext(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	ctx, cancel := context.WithCancel(context.Background())
	adv, err := NewAdvertiserWithContext(ctx, AdvertiserConfig{ServerFactory: factory})
	if err != nil {
		t.Fatalf("NewAdvertiserWithContext() error = %v", err)
	}
	if err := adv.Start(ServiceTXT{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for !factory.servers[0].isShutdown() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !factory.servers[0].isShutdown() {
		t.Error("cancel did not shut the server down")
	}
}
