// usbnet-console is a terminal for a device shared by usbnet-bridge.
//
// Lines typed on stdin are sent to the device ("0x" lines as hex bytes,
// other lines as text with a newline); device output goes to stdout.
//
// Usage:
//
//	usbnet-console [-url ws://host:8888/serial] [-name instance] [-fingerprint AA:BB:...] [-hex]
//
// Without -url the first bridge found over mDNS is used, or the one named by
// -name. For wss:// the certificate must match -fingerprint or, after
// discovery, the fingerprint advertised in the TXT record.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/usbnetserver/bridge/pkg/discovery"
	"github.com/usbnetserver/bridge/pkg/trafficlog"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

const serialPath = "/serial"

type options struct {
	url         string
	name        string
	fingerprint string
	insecure    bool
	hex         bool
	timeout     time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.url, "url", "", "bridge WebSocket URL (default: discover over mDNS)")
	flag.StringVar(&o.name, "name", "", "mDNS instance name to look up")
	flag.StringVar(&o.fingerprint, "fingerprint", "", "expected certificate SHA-256 fingerprint for wss://")
	flag.BoolVar(&o.insecure, "insecure", false, "accept any certificate when no fingerprint is known")
	flag.BoolVar(&o.hex, "hex", false, "print device output as hex")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Second, "discovery and dial timeout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("usbnet-console: %v", err)
	}
}

func run(ctx context.Context, o options, in io.Reader, out io.Writer) error {
	if o.url == "" {
		svc, err := find(ctx, o)
		if err != nil {
			return err
		}
		o.url = svc.WebSocketURL(serialPath)
		if o.url == "" {
			return fmt.Errorf("%s has no usable address", svc.InstanceName)
		}
		if o.fingerprint == "" && svc.TXT != nil {
			o.fingerprint = svc.TXT.Fingerprint
		}
		log.Printf("found %s at %s", svc.InstanceName, o.url)
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.timeout}
	if strings.HasPrefix(o.url, "wss://") {
		tlsConfig, err := pinnedTLSConfig(o.fingerprint, o.insecure)
		if err != nil {
			return err
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, _, err := dialer.DialContext(ctx, o.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.url, err)
	}
	defer conn.Close()

	errc := make(chan error, 2)
	go func() { errc <- copyFromDevice(conn, out, o.hex) }()
	go func() { errc <- copyToDevice(conn, in) }()

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func find(ctx context.Context, o options) (*discovery.ResolvedService, error) {
	resolver, err := discovery.NewResolver(discovery.ResolverConfig{
		BrowseTimeout: o.timeout,
		LookupTimeout: o.timeout,
	})
	if err != nil {
		return nil, err
	}
	if o.name != "" {
		return resolver.Lookup(ctx, o.name)
	}
	return resolver.Discover(ctx)
}

func copyFromDevice(conn *websocket.Conn, out io.Writer, hex bool) error {
	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if hex {
			_, err = fmt.Fprintln(out, trafficlog.Hex(p))
		} else {
			_, err = out.Write(p)
		}
		if err != nil {
			return err
		}
	}
}

func copyToDevice(conn *websocket.Conn, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		data, err := lineToBytes(scanner.Text())
		if err != nil {
			log.Printf("%v", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// lineToBytes converts one typed line. Hex lines are sent as is; text lines
// get a trailing newline.
func lineToBytes(line string) ([]byte, error) {
	data, err := upstream.ParseCommand(line)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(line, "0x") || strings.HasPrefix(line, "0X") {
		return data, nil
	}
	return append(data, '\n'), nil
}
