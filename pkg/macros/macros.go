// Package macros stores the named device commands offered to clients.
package macros

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/logging"
)

// Macro is a named command. Command uses the syntax accepted by
// upstream.ParseCommand.
type Macro struct {
	Name     string `json:"name"`
	Command  string `json:"command"`
	ColorHex string `json:"colorHex,omitempty"`
}

// Defaults returns the macros offered before the user saves any.
func Defaults() []Macro {
	return []Macro{
		{Name: "Soft Reset", Command: "0x18"},
		{Name: "Unlock", Command: "$X\n"},
	}
}

// Validate checks a macro list.
func Validate(list []Macro) error {
	for i, m := range list {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: macro %d has no name", ErrInvalidMacro, i)
		}
		if m.ColorHex != "" && !isColorHex(m.ColorHex) {
			return fmt.Errorf("%w: macro %q color %q", ErrInvalidMacro, m.Name, m.ColorHex)
		}
	}
	return nil
}

func isColorHex(s string) bool {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 && len(s) != 8 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ParseLegacy decodes the older line format "name|command|color", one macro
// per entry. Entries with fewer than two fields are skipped.
func ParseLegacy(entries []string) []Macro {
	var out []Macro
	for _, e := range entries {
		parts := strings.SplitN(e, "|", 3)
		switch len(parts) {
		case 2:
			out = append(out, Macro{Name: parts[0], Command: parts[1]})
		case 3:
			out = append(out, Macro{Name: parts[0], Command: parts[1], ColorHex: parts[2]})
		}
	}
	return out
}

// Encode returns the JSON array form of list.
func Encode(list []Macro) (string, error) {
	if list == nil {
		list = []Macro{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a JSON array of macros and validates it.
func Decode(data string) ([]Macro, error) {
	var list []Macro
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMacro, err)
	}
	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the JSON file. If empty the store is memory only.
	Path string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Store keeps the current macro list, optionally persisted to a file.
type Store struct {
	path string
	log  logging.LeveledLogger

	mu   sync.RWMutex
	list []Macro
}

// NewStore loads the macro file, falling back to Defaults when it does not
// exist. A file in the legacy line format is converted on load.
func NewStore(config StoreConfig) (*Store, error) {
	s := &Store{path: config.Path, list: Defaults()}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("macros")
	}
	if s.path == "" {
		return s, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("macros: read %s: %w", s.path, err)
	}

	list, err := Decode(string(data))
	if err != nil {
		legacy := ParseLegacy(strings.Split(strings.TrimSpace(string(data)), "\n"))
		if len(legacy) == 0 {
			return nil, err
		}
		if s.log != nil {
			s.log.Infof("converted %d legacy macros from %s", len(legacy), s.path)
		}
		list = legacy
	}
	s.list = list
	return s, nil
}

// List returns a copy of the current macros.
func (s *Store) List() []Macro {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Macro(nil), s.list...)
}

// JSON returns the current macros as a JSON array.
func (s *Store) JSON() (string, error) {
	return Encode(s.List())
}

// Save replaces the macro list and persists it.
func (s *Store) Save(list []Macro) error {
	if err := Validate(list); err != nil {
		return err
	}
	list = append([]Macro(nil), list...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("macros: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0o644); err != nil {
			return fmt.Errorf("macros: write %s: %w", s.path, err)
		}
	}

	s.list = list
	if s.log != nil {
		s.log.Debugf("saved %d macros", len(list))
	}
	return nil
}

// SaveJSON decodes a JSON array and saves it.
func (s *Store) SaveJSON(data string) error {
	list, err := Decode(data)
	if err != nil {
		return err
	}
	return s.Save(list)
}
