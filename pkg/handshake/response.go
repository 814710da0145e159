package handshake

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
)

// WriteSwitchingProtocols writes the 101 response that completes the
// WebSocket handshake.
func WriteSwitchingProtocols(w io.Writer, acceptKey string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: %s\r\n\r\n", acceptKey)
	if err != nil {
		return err
	}
	return flush(w)
}

// WriteResponse writes a complete single-shot HTTP/1.1 response. The
// connection is not reused, so the response always carries Connection: close.
func WriteResponse(w io.Writer, status int, contentType string, body []byte) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	if contentType != "" {
		fmt.Fprintf(bw, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	bw.WriteString("Connection: close\r\n\r\n")
	bw.Write(body)

	if err := bw.Flush(); err != nil {
		return err
	}
	return flush(w)
}

// WriteNotFound writes the 404 response used when a resource is missing.
func WriteNotFound(w io.Writer) error {
	return WriteResponse(w, http.StatusNotFound, "text/plain", []byte("File not found."))
}

// WriteServerError writes a 500 response.
func WriteServerError(w io.Writer) error {
	return WriteResponse(w, http.StatusInternalServerError, "text/plain", []byte("Internal server error."))
}

// WriteUnavailable writes a 503 response, used when the device is not connected.
func WriteUnavailable(w io.Writer) error {
	return WriteResponse(w, http.StatusServiceUnavailable, "text/plain", []byte("Device not connected."))
}

func flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
