// Package wsframe implements the small subset of the WebSocket framing layer
// the bridge needs: single unfragmented text, binary and close frames.
//
// Frames read by the server must carry a mask key; frames written by the
// server never do. Continuation frames, control frames other than close and
// extensions are not supported and end the session when received.
package wsframe

import (
	"encoding/binary"
	"errors"
	"io"
)

// Opcode identifies the frame type.
type Opcode byte

const (
	// OpText carries a UTF-8 payload.
	OpText Opcode = 0x1

	// OpBinary carries an opaque payload.
	OpBinary Opcode = 0x2

	// OpClose asks the peer to end the session.
	OpClose Opcode = 0x8
)

// String returns a human-readable name for the opcode.
func (o Opcode) String() string {
	switch o {
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	default:
		return "unknown"
	}
}

// IsData reports whether the opcode carries application data.
func (o Opcode) IsData() bool {
	return o == OpText || o == OpBinary
}

const (
	finBit  = 0x80
	maskBit = 0x80

	// maxLiteralLength is the largest length that fits in the 7-bit field.
	maxLiteralLength = 125
	length16Marker   = 126
	length64Marker   = 127

	// DefaultMaxPayloadSize bounds the payload allocation for one inbound frame.
	DefaultMaxPayloadSize = 16 << 20
)

// Frame is one WebSocket protocol unit.
type Frame struct {
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// AppendFrame appends the wire encoding of f to dst.
// The payload is masked with f.MaskKey when f.Masked is set; f.Payload itself
// is left untouched.
func AppendFrame(dst []byte, f *Frame) []byte {
	dst = append(dst, finBit|byte(f.Opcode))

	var mask byte
	if f.Masked {
		mask = maskBit
	}

	n := len(f.Payload)
	switch {
	case n <= maxLiteralLength:
		dst = append(dst, mask|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, mask|length16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, mask|length64Marker)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}

	dst = append(dst, f.MaskKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	applyMask(dst[start:], f.MaskKey)
	return dst
}

// Encode returns the server-side encoding of payload as a single unmasked frame.
func Encode(op Opcode, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+10), &Frame{Opcode: op, Payload: payload})
}

// applyMask XORs b in place with the repeating 4-byte key.
func applyMask(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// flusher is implemented by buffered sinks such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// WriteFrame writes payload to w as one unmasked frame and flushes w if it
// is buffered.
func WriteFrame(w io.Writer, op Opcode, payload []byte) error {
	if _, err := w.Write(Encode(op, payload)); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Reader decodes client frames from a stream.
type Reader struct {
	r io.Reader

	// MaxPayloadSize limits the payload of a single frame.
	// Zero means DefaultMaxPayloadSize.
	MaxPayloadSize uint64
}

// NewReader creates a frame reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads exactly one masked data frame.
//
// It returns ErrEndOfStream when the stream ends, when a close frame arrives
// or when the opcode is neither text nor binary. An unmasked frame yields
// ErrUnmaskedFrame. Other read failures are returned wrapped as-is.
func (fr *Reader) ReadFrame() (*Frame, error) {
	var hdr [2]byte
	if err := fr.readFull(hdr[:]); err != nil {
		return nil, err
	}

	op := Opcode(hdr[0] & 0x0F)
	if !op.IsData() {
		return nil, ErrEndOfStream
	}
	if hdr[1]&maskBit == 0 {
		return nil, ErrUnmaskedFrame
	}

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case length16Marker:
		var ext [2]byte
		if err := fr.readFull(ext[:]); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case length64Marker:
		var ext [8]byte
		if err := fr.readFull(ext[:]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	limit := fr.MaxPayloadSize
	if limit == 0 {
		limit = DefaultMaxPayloadSize
	}
	if length > limit {
		return nil, ErrFrameTooLarge
	}

	f := &Frame{Opcode: op, Masked: true}
	if err := fr.readFull(f.MaskKey[:]); err != nil {
		return nil, err
	}

	f.Payload = make([]byte, length)
	if err := fr.readFull(f.Payload); err != nil {
		return nil, err
	}
	applyMask(f.Payload, f.MaskKey)

	return f, nil
}

func (fr *Reader) readFull(b []byte) error {
	_, err := io.ReadFull(fr.r, b)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfStream
	}
	return err
}

// ReadFrame reads one client frame from r with the default size limit.
func ReadFrame(r io.Reader) (*Frame, error) {
	return NewReader(r).ReadFrame()
}
