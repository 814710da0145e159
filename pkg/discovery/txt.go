package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// DNS-SD constants for the bridge service.
const (
	// ServiceBridge is the service type advertised by a bridge.
	ServiceBridge = "_usbnet._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// MaxInstanceNameLength is the DNS label limit for the instance name.
	MaxInstanceNameLength = 63

	// TXTVersion is the value of the "v" key.
	TXTVersion = "1"
)

// TXT record keys.
const (
	txtKeyVersion     = "v"
	txtKeyTLS         = "tls"
	txtKeyTCPPort     = "tcp"
	txtKeyMJPEGPort   = "mjpeg"
	txtKeySignal      = "signal"
	txtKeyFingerprint = "fp"
)

// ServiceTXT describes what a bridge offers besides its unified port.
type ServiceTXT struct {
	// TLS is set when the unified port speaks TLS (wss://, https://).
	TLS bool

	// TCPPort is the raw TCP proxy port. Zero omits the key.
	TCPPort int

	// MJPEGPort is the MJPEG port. Zero omits the key.
	MJPEGPort int

	// SignalPath is the WebRTC signaling WebSocket path. Empty omits the key.
	SignalPath string

	// Fingerprint is the hex SHA-256 of the certificate, used by clients to
	// pin a self-signed identity. Only meaningful with TLS.
	Fingerprint string
}

// Encode returns the TXT records in "key=value" form.
func (t *ServiceTXT) Encode() []string {
	records := []string{txtKeyVersion + "=" + TXTVersion}
	if t.TLS {
		records = append(records, txtKeyTLS+"=1")
	} else {
		records = append(records, txtKeyTLS+"=0")
	}
	if t.TCPPort > 0 {
		records = append(records, txtKeyTCPPort+"="+strconv.Itoa(t.TCPPort))
	}
	if t.MJPEGPort > 0 {
		records = append(records, txtKeyMJPEGPort+"="+strconv.Itoa(t.MJPEGPort))
	}
	if t.SignalPath != "" {
		records = append(records, txtKeySignal+"="+t.SignalPath)
	}
	if t.TLS && t.Fingerprint != "" {
		records = append(records, txtKeyFingerprint+"="+t.Fingerprint)
	}
	return records
}

// Validate checks port ranges and that a fingerprint only accompanies TLS.
func (t *ServiceTXT) Validate() error {
	for _, p := range []int{t.TCPPort, t.MJPEGPort} {
		if p < 0 || p > 65535 {
			return ErrInvalidPort
		}
	}
	if t.SignalPath != "" && !strings.HasPrefix(t.SignalPath, "/") {
		return fmt.Errorf("%w: signal path %q", ErrInvalidTXTRecord, t.SignalPath)
	}
	if t.Fingerprint != "" && !t.TLS {
		return fmt.Errorf("%w: fingerprint without tls", ErrInvalidTXTRecord)
	}
	return nil
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			key := record[:idx]
			value := record[idx+1:]
			result[key] = value
		}
	}
	return result
}

// ParseServiceTXT parses raw TXT records into ServiceTXT. Unknown keys are
// ignored.
func ParseServiceTXT(records []string) (*ServiceTXT, error) {
	m := ParseTXT(records)
	txt := &ServiceTXT{}

	if v, ok := m[txtKeyTLS]; ok {
		switch v {
		case "1":
			txt.TLS = true
		case "0":
		default:
			return nil, fmt.Errorf("%w: tls=%q", ErrInvalidTXTRecord, v)
		}
	}

	ports := []struct {
		key string
		dst *int
	}{
		{txtKeyTCPPort, &txt.TCPPort},
		{txtKeyMJPEGPort, &txt.MJPEGPort},
	}
	for _, p := range ports {
		v, ok := m[p.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, p.key, v)
		}
		*p.dst = n
	}

	txt.SignalPath = m[txtKeySignal]
	txt.Fingerprint = m[txtKeyFingerprint]
	return txt, nil
}
