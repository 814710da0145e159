package discovery

import (
	"context"
	"net"
	"testing"
	"time"
)

func newMockResolver(t *testing.T) (*Resolver, *MockMDNSResolver) {
	t.Helper()
	mock := NewMockMDNSResolver()
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  mock,
		BrowseTimeout: time.Second,
		LookupTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r, mock
}

func TestResolver_Browse(t *testing.T) {
	r, mock := newMockResolver(t)
	mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-a", 8888, net.ParseIP("192.168.1.10"), ServiceTXT{TCPPort: 8889}))
	mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-b", 9443, net.ParseIP("fd00::1"), ServiceTXT{TLS: true, Fingerprint: "ff"}))
	mock.RegisterService("_other._tcp", MockBridgeService("other", 1, net.ParseIP("10.0.0.1"), ServiceTXT{}))

	services, err := r.Browse(context.Background())
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}

	var found []ResolvedService
	for svc := range services {
		found = append(found, svc)
	}
	if len(found) != 2 {
		t.Fatalf("Browse() found %d services, want 2", len(found))
	}

	a := found[0]
	if a.InstanceName != "usbnet-a" || a.Port != 8888 {
		t.Errorf("first service = %+v", a)
	}
	if a.TXT == nil || a.TXT.TCPPort != 8889 || a.TXT.TLS {
		t.Errorf("first TXT = %+v", a.TXT)
	}
	if got := a.WebSocketURL("/"); got != "ws://192.168.1.10:8888/" {
		t.Errorf("WebSocketURL() = %q", got)
	}

	b := found[1]
	if got := b.WebSocketURL("/"); got != "wss://[fd00::1]:9443/" {
		t.Errorf("WebSocketURL() = %q", got)
	}
	if b.TXT.Fingerprint != "ff" {
		t.Errorf("Fingerprint = %q, want ff", b.TXT.Fingerprint)
	}
}

func TestResolver_BrowseCancel(t *testing.T) {
	r, mock := newMockResolver(t)
	for i := 0; i < 3; i++ {
		mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-x", 8888, net.ParseIP("192.168.1.10"), ServiceTXT{}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	services, err := r.Browse(ctx)
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	<-services
	cancel()

	done := make(chan struct{})
	go func() {
		for range services {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("results channel not closed after cancel")
	}
}

func TestResolver_Lookup(t *testing.T) {
	r, mock := newMockResolver(t)
	mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-a", 8888, net.ParseIP("192.168.1.10"), ServiceTXT{}))
	mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-b", 8890, net.ParseIP("192.168.1.11"), ServiceTXT{}))

	svc, err := r.Lookup(context.Background(), "usbnet-b")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if svc.Port != 8890 || !svc.PreferredIP().Equal(net.ParseIP("192.168.1.11")) {
		t.Errorf("Lookup() = %+v", svc)
	}

	if _, err := r.Lookup(context.Background(), "usbnet-missing"); err != ErrServiceNotFound {
		t.Errorf("Lookup(missing) error = %v, want ErrServiceNotFound", err)
	}
	if _, err := r.Lookup(context.Background(), ""); err != ErrInvalidInstanceName {
		t.Errorf("Lookup(\"\") error = %v, want ErrInvalidInstanceName", err)
	}
}

func TestResolver_Discover(t *testing.T) {
	r, mock := newMockResolver(t)

	if _, err := r.Discover(context.Background()); err != ErrServiceNotFound {
		t.Errorf("Discover() error = %v, want ErrServiceNotFound", err)
	}

	mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-a", 8888, net.ParseIP("192.168.1.10"), ServiceTXT{}))
	mock.RegisterService(ServiceBridge, MockBridgeService("usbnet-b", 8888, net.ParseIP("192.168.1.11"), ServiceTXT{}))
	svc, err := r.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if svc.InstanceName != "usbnet-a" {
		t.Errorf("Discover() = %q, want usbnet-a", svc.InstanceName)
	}
}

func TestWebSocketURLNoAddress(t *testing.T) {
	svc := ResolvedService{Port: 8888}
	if got := svc.WebSocketURL("/"); got != "" {
		t.Errorf("WebSocketURL() = %q, want empty", got)
	}
}
