package assets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedPages(t *testing.T) {
	p := Embedded()
	for _, name := range []string{PageIndex, PageNoDevice, PageMacroEditor, PageWebRTC} {
		b, err := p.Open(name)
		if err != nil {
			t.Errorf("Open(%q) error = %v", name, err)
			continue
		}
		if !strings.Contains(string(b), "<html>") {
			t.Errorf("Open(%q) does not look like HTML", name)
		}
	}
}

func TestOpenMissing(t *testing.T) {
	p := Embedded()
	for _, name := range []string{"missing.html", "", "../assets.go"} {
		if _, err := p.Open(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestOverlay(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, PageIndex), []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewOverlay(dir, Embedded())
	if err != nil {
		t.Fatalf("NewOverlay() error = %v", err)
	}

	b, err := p.Open(PageIndex)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(b) != "custom" {
		t.Errorf("Open(index) = %q, want custom", b)
	}

	if _, err := p.Open(PageNoDevice); err != nil {
		t.Errorf("fallback Open() error = %v", err)
	}

	if _, err := NewOverlay(filepath.Join(dir, PageIndex), Embedded()); err == nil {
		t.Error("NewOverlay(file) error = nil")
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("index.html"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("ContentType(html) = %q", got)
	}
	if got := ContentType("blob"); got != "application/octet-stream" {
		t.Errorf("ContentType(blob) = %q", got)
	}
}
