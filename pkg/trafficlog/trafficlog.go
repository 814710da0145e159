// Package trafficlog keeps a bounded history of the bytes exchanged with the
// device, for display in the console and the admin API.
package trafficlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/sizestr"
)

// DefaultCapacity is the number of chunks kept by New when capacity is zero.
const DefaultCapacity = 500

// Direction tags a chunk with where it came from.
type Direction int

const (
	// Inbound chunks were read from the device.
	Inbound Direction = iota

	// Outbound chunks were written to the device by a network client.
	Outbound
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Mode selects how chunk bytes are rendered.
type Mode int

const (
	// ModeRaw renders bytes as text.
	ModeRaw Mode = iota

	// ModeHex renders bytes as space separated uppercase hex pairs.
	ModeHex
)

// ParseMode accepts "raw" or "hex".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "raw":
		return ModeRaw, nil
	case "hex":
		return ModeHex, nil
	default:
		return ModeRaw, fmt.Errorf("trafficlog: unknown display mode %q", s)
	}
}

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeHex {
		return "hex"
	}
	return "raw"
}

// Chunk is one logged transfer. Data must not be modified after logging.
type Chunk struct {
	Direction Direction
	Data      []byte
	Time      time.Time
}

// Render formats the chunk bytes in the given mode.
func (c Chunk) Render(mode Mode) string {
	if mode == ModeHex {
		return Hex(c.Data)
	}
	return string(c.Data)
}

// Hex formats b as "0A 1B FF".
func Hex(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// Totals are the cumulative byte counts since the log was created.
type Totals struct {
	Inbound  int64
	Outbound int64
}

// String formats the totals with human readable sizes.
func (t Totals) String() string {
	return fmt.Sprintf("in %s, out %s", sizestr.ToString(t.Inbound), sizestr.ToString(t.Outbound))
}

// Log is a fixed capacity ring of chunks. It is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	ring   []Chunk
	next   int
	full   bool
	totals Totals
	now    func() time.Time
}

// New creates a Log holding up to capacity chunks.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{ring: make([]Chunk, capacity), now: time.Now}
}

// Add records a copy of data.
func (l *Log) Add(dir Direction, data []byte) {
	if len(data) == 0 {
		return
	}
	data = append([]byte(nil), data...)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = Chunk{Direction: dir, Data: data, Time: l.now()}
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}

	switch dir {
	case Inbound:
		l.totals.Inbound += int64(len(data))
	case Outbound:
		l.totals.Outbound += int64(len(data))
	}
}

// Snapshot returns the retained chunks, oldest first.
func (l *Log) Snapshot() []Chunk {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]Chunk(nil), l.ring[:l.next]...)
	}
	out := make([]Chunk, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	return append(out, l.ring[:l.next]...)
}

// Totals returns the cumulative byte counts.
func (l *Log) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// Clear drops the retained chunks. Totals are kept.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.ring {
		l.ring[i] = Chunk{}
	}
	l.next = 0
	l.full = false
}

// Render formats the retained chunks, one per line, with a direction marker.
func (l *Log) Render(mode Mode) string {
	var sb strings.Builder
	for _, c := range l.Snapshot() {
		marker := "<"
		if c.Direction == Outbound {
			marker = ">"
		}
		sb.WriteString(marker)
		sb.WriteByte(' ')
		sb.WriteString(c.Render(mode))
		sb.WriteByte('\n')
	}
	return sb.String()
}
