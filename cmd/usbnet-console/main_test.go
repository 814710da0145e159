package main

import (
	"bytes"
	"crypto/tls"
	"errors"
	"strings"
	"testing"

	"github.com/usbnetserver/bridge/pkg/identity"
)

func TestLineToBytes(t *testing.T) {
	tests := []struct {
		line string
		want []byte
	}{
		{"G28", []byte("G28\n")},
		{`$X\r`, []byte("$X\r\n")},
		{"0x18", []byte{0x18}},
		{"0X1b 5b 41", []byte{0x1b, '[', 'A'}},
	}
	for _, tt := range tests {
		got, err := lineToBytes(tt.line)
		if err != nil {
			t.Fatalf("lineToBytes(%q) error = %v", tt.line, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("lineToBytes(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}

	if _, err := lineToBytes("0xnope"); err == nil {
		t.Error("lineToBytes(0xnope) succeeded")
	}
}

func TestPinnedTLSConfig(t *testing.T) {
	if _, err := pinnedTLSConfig("", false); !errors.Is(err, errNoFingerprint) {
		t.Fatalf("pinnedTLSConfig() error = %v, want errNoFingerprint", err)
	}

	store, err := identity.NewStore(identity.StoreConfig{Dir: t.TempDir(), KeyBits: 1024})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	id, err := store.GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	l, err := store.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.(*tls.Conn).Handshake()
			conn.Close()
		}
	}()

	dial := func(fingerprint string, insecure bool) error {
		config, err := pinnedTLSConfig(fingerprint, insecure)
		if err != nil {
			return err
		}
		conn, err := tls.Dial("tcp", l.Addr().String(), config)
		if err != nil {
			return err
		}
		return conn.Close()
	}

	fp := id.Fingerprint()
	if err := dial(fp, false); err != nil {
		t.Errorf("dial with matching fingerprint error = %v", err)
	}
	if err := dial(strings.ToLower(strings.ReplaceAll(fp, ":", "")), false); err != nil {
		t.Errorf("dial with bare lowercase fingerprint error = %v", err)
	}
	if err := dial("", true); err != nil {
		t.Errorf("insecure dial error = %v", err)
	}

	wrong := strings.Repeat("00:", 31) + "00"
	if err := dial(wrong, false); !errors.Is(err, errFingerprintMismatch) {
		t.Errorf("dial with wrong fingerprint error = %v, want errFingerprintMismatch", err)
	}
}
