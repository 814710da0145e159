// Package handshake parses the HTTP request head that opens every connection
// on the unified listener and performs the WebSocket opening handshake.
package handshake

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// websocketGUID is appended to the client key before hashing (RFC 6455 1.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// DefaultMaxHeaderBytes bounds the request head read by ReadHeaderBlock.
const DefaultMaxHeaderBytes = 8 << 10

var headerTerminator = []byte("\r\n\r\n")

// Request is a parsed request head.
type Request struct {
	Method string

	// Path is the request target without its query string.
	Path string

	// RawQuery is the query string without the leading '?'.
	RawQuery string

	// Header holds the request headers with canonicalized keys, so lookups
	// through Header.Get are case-insensitive.
	Header http.Header
}

// ReadHeaderBlock reads from r until the blank line that ends an HTTP request
// head and returns everything up to and including it. Bytes after the
// terminator stay buffered in r.
//
// A stream that ends before the terminator yields ErrEndOfStream. A head
// longer than max bytes yields ErrHeaderTooLarge; max <= 0 selects
// DefaultMaxHeaderBytes.
func ReadHeaderBlock(r *bufio.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxHeaderBytes
	}

	var block []byte
	for {
		line, err := r.ReadSlice('\n')
		block = append(block, line...)
		if len(block) > max {
			return nil, ErrHeaderTooLarge
		}

		switch {
		case err == nil:
			if bytes.HasSuffix(block, headerTerminator) {
				return block, nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
			// Line longer than the bufio buffer; keep accumulating.
		case errors.Is(err, io.EOF):
			return nil, ErrEndOfStream
		default:
			return nil, err
		}
	}
}

// ParseRequest parses a header block produced by ReadHeaderBlock.
func ParseRequest(block []byte) (*Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(block)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	return &Request{
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
	}, nil
}

// IsWebSocketUpgrade reports whether the request asks for a WebSocket upgrade.
func (r *Request) IsWebSocketUpgrade() bool {
	for _, v := range r.Header.Values("Upgrade") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "websocket") {
				return true
			}
		}
	}
	return false
}

// Negotiate validates an upgrade request and returns the accept value for
// its Sec-WebSocket-Key.
func Negotiate(r *Request) (string, error) {
	if !r.IsWebSocketUpgrade() {
		return "", ErrNotUpgrade
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return "", ErrMissingKey
	}
	return AcceptKey(key), nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
