package trafficlog

import (
	"strings"
	"testing"
)

func TestHex(t *testing.T) {
	if got := Hex([]byte{0x0a, 0x1b, 0xff}); got != "0A 1B FF" {
		t.Errorf("Hex() = %q, want %q", got, "0A 1B FF")
	}
	if got := Hex(nil); got != "" {
		t.Errorf("Hex(nil) = %q, want empty", got)
	}
}

func TestLogRing(t *testing.T) {
	l := New(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		l.Add(Inbound, []byte(s))
	}

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 3", len(snap))
	}
	var got []string
	for _, c := range snap {
		got = append(got, string(c.Data))
	}
	if strings.Join(got, "") != "cde" {
		t.Errorf("Snapshot() = %v, want [c d e]", got)
	}

	if tot := l.Totals(); tot.Inbound != 5 || tot.Outbound != 0 {
		t.Errorf("Totals() = %+v, want 5 inbound", tot)
	}
}

func TestLogRender(t *testing.T) {
	l := New(0)
	l.Add(Outbound, []byte("$X\n"))
	l.Add(Inbound, []byte("ok"))
	l.Add(Inbound, nil)

	raw := l.Render(ModeRaw)
	if raw != "> $X\n\n< ok\n" {
		t.Errorf("Render(raw) = %q", raw)
	}

	hex := l.Render(ModeHex)
	if hex != "> 24 58 0A\n< 6F 6B\n" {
		t.Errorf("Render(hex) = %q", hex)
	}

	l.Clear()
	if len(l.Snapshot()) != 0 {
		t.Error("Snapshot() not empty after Clear")
	}
	if tot := l.Totals(); tot.Inbound != 2 || tot.Outbound != 3 {
		t.Errorf("Totals() = %+v after Clear", tot)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"", ModeRaw},
		{"raw", ModeRaw},
		{"HEX", ModeHex},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseMode("binary"); err == nil {
		t.Error("ParseMode(binary) error = nil")
	}
}
