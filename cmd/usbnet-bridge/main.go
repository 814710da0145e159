// usbnet-bridge shares a USB serial device over the network.
//
// One port serves the status page, the serial WebSocket and WebRTC
// signaling; a second port is a raw TCP proxy and a third streams MJPEG
// frames. An admin API, an MQTT mirror and mDNS advertisement are optional.
//
// Usage:
//
//	usbnet-bridge [options]
//
// Common options:
//
//	-config     YAML configuration file
//	-serial     serial device (default: first found)
//	-baud       baud rate (default: 115200)
//	-port       unified port (default: 8888)
//	-tcp-port   raw TCP port, 0 = off (default: 8889)
//	-frames     JPEG file or directory for MJPEG
//	-h264       H.264 Annex-B file or pipe for the WebRTC video track
//	-tls        serve the unified port over TLS
//	-admin-port admin API port, 0 = off
//	-log-level  disabled, error, warn, info, debug, trace
//
// Every option can also be set through a USBNET_* environment variable,
// e.g. USBNET_SERIAL=/dev/ttyUSB0.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/usbnetserver/bridge/pkg/api"
	"github.com/usbnetserver/bridge/pkg/bridge"
	"github.com/usbnetserver/bridge/pkg/capture"
	"github.com/usbnetserver/bridge/pkg/config"
	"github.com/usbnetserver/bridge/pkg/discovery"
	"github.com/usbnetserver/bridge/pkg/identity"
	"github.com/usbnetserver/bridge/pkg/macros"
	"github.com/usbnetserver/bridge/pkg/mqttmirror"
	"github.com/usbnetserver/bridge/pkg/server"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("usbnet-bridge: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = level
	logger := loggerFactory.NewLogger("main")

	opener, err := upstream.NewSerialOpener(cfg.SerialConfig(), loggerFactory)
	if err != nil {
		return err
	}

	macroStore, err := macros.NewStore(macros.StoreConfig{
		Path:          cfg.MacrosPath(),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}

	var ids *identity.Store
	if cfg.TLS {
		ids, err = identity.NewStore(identity.StoreConfig{
			Dir:           cfg.DataDir,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
	}

	var source *capture.Source
	if cfg.HasCapture() {
		source, err = capture.NewSource(capture.SourceConfig{
			Audio:         cfg.Audio,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
	}
	if cfg.Frames != "" {
		watcher, err := capture.NewWatcher(capture.WatcherConfig{
			Path:          cfg.Frames,
			Frames:        source.Frames(),
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", cfg.Frames, err)
		}
		defer watcher.Close()
	}
	if cfg.H264 != "" {
		feeder, err := capture.NewH264Feeder(capture.H264FeederConfig{
			Path:          cfg.H264,
			Video:         source,
			FrameRate:     cfg.H264FrameRate,
			Loop:          cfg.H264Loop,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
		defer feeder.Close()
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	b, err := bridge.New(bridge.Config{
		Opener:       opener,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
		ListenAddr:   cfg.ListenAddr(),
		TCPAddr:      cfg.TCPAddr(),
		MJPEGAddr:    cfg.MJPEGAddr(),
		TLS:          cfg.TLS,
		Identity:     ids,
		Macros:       macroStore,
		Capture:      source,
		ICEServers:   iceServers,
		OnStatus: func(status upstream.Status, err error) {
			if err != nil {
				logger.Warnf("device %s: %v", status, err)
				return
			}
			logger.Infof("device %s", status)
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}
	defer b.Stop()

	if err := b.Start(ctx); err != nil {
		return err
	}

	if addr := cfg.AdminAddr(); addr != "" {
		admin, err := api.New(api.Config{
			ListenAddr:    addr,
			Backend:       b,
			Macros:        macroStore,
			RequestLog:    cfg.RequestLog,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
		if err := admin.Start(); err != nil {
			return fmt.Errorf("admin api: %w", err)
		}
		defer admin.Stop()
	}

	if cfg.MQTT.Broker != "" {
		mirror, err := mqttmirror.New(mqttmirror.Config{
			Broker:        cfg.MQTT.Broker,
			ClientID:      cfg.MQTT.ClientID,
			Username:      cfg.MQTT.Username,
			Password:      cfg.MQTT.Password,
			Prefix:        cfg.MQTT.Prefix,
			QoS:           byte(cfg.MQTT.QoS),
			Device:        b.Sink(),
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
		// The bridge keeps running without the mirror.
		if err := mirror.Start(); err != nil {
			logger.Warnf("mqtt mirror disabled: %v", err)
		} else {
			b.SetMirror(mirror)
			defer mirror.Stop()
		}
	}

	if cfg.MDNS.Enabled {
		adv, err := advertise(cfg, b, loggerFactory)
		if err != nil {
			logger.Warnf("mdns advertisement disabled: %v", err)
		} else {
			defer adv.Close()
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func advertise(cfg *config.Config, b *bridge.Bridge, loggerFactory logging.LoggerFactory) (*discovery.Advertiser, error) {
	adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		InstanceName:  cfg.MDNS.Name,
		Port:          portOf(b.Addr(bridge.ListenerUnified)),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	txt := discovery.ServiceTXT{
		TLS:        cfg.TLS,
		TCPPort:    portOf(b.Addr(bridge.ListenerTCP)),
		MJPEGPort:  portOf(b.Addr(bridge.ListenerMJPEG)),
		SignalPath: server.DefaultSignalingPath,
	}
	if cfg.TLS {
		txt.Fingerprint = b.Fingerprint()
	}
	if err := adv.Start(txt); err != nil {
		adv.Close()
		return nil, err
	}
	return adv, nil
}

func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
