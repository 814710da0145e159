package macros

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStoreDefaults(t *testing.T) {
	s, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "macros.json")})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].Name != "Soft Reset" || list[0].Command != "0x18" {
		t.Errorf("list[0] = %+v", list[0])
	}
	if list[1].Name != "Unlock" || list[1].Command != "$X\n" {
		t.Errorf("list[1] = %+v", list[1])
	}
}

func TestStoreSavePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "macros.json")
	s, err := NewStore(StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	want := []Macro{{Name: "Home", Command: "$H\n", ColorHex: "#FF8800"}}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := NewStore(StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	got := reloaded.List()
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("List() = %+v, want %+v", got, want)
	}
}

func TestStoreSaveJSON(t *testing.T) {
	s, _ := NewStore(StoreConfig{})

	if err := s.SaveJSON(`[{"name":"Hold","command":"!"}]`); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}
	data, err := s.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if data != `[{"name":"Hold","command":"!"}]` {
		t.Errorf("JSON() = %s", data)
	}

	if err := s.SaveJSON(`{"not":"a list"}`); !errors.Is(err, ErrInvalidMacro) {
		t.Errorf("SaveJSON(object) error = %v, want ErrInvalidMacro", err)
	}
	if err := s.SaveJSON(`[{"name":"","command":"x"}]`); !errors.Is(err, ErrInvalidMacro) {
		t.Errorf("SaveJSON(no name) error = %v, want ErrInvalidMacro", err)
	}
	if err := s.SaveJSON(`[{"name":"a","command":"x","colorHex":"red"}]`); !errors.Is(err, ErrInvalidMacro) {
		t.Errorf("SaveJSON(bad color) error = %v, want ErrInvalidMacro", err)
	}

	if got := s.List(); len(got) != 1 || got[0].Name != "Hold" {
		t.Errorf("failed saves changed the list: %+v", got)
	}
}

func TestLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "macros.json")
	legacy := "Reset|0x18|\nJog|$J=G91 X1\\n|#00FF00\nbroken\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	got := s.List()
	if len(got) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(got))
	}
	if got[0] != (Macro{Name: "Reset", Command: "0x18"}) {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1] != (Macro{Name: "Jog", Command: `$J=G91 X1\n`, ColorHex: "#00FF00"}) {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestEncodeEmpty(t *testing.T) {
	got, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got != "[]" {
		t.Errorf("Encode(nil) = %q, want []", got)
	}
}
