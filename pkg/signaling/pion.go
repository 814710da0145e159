package signaling

import (
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// TrackSource provides the local tracks sent to every peer.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

// PionConfig configures a PionFactory.
type PionConfig struct {
	// Tracks are attached send-only to every peer. Optional.
	Tracks TrackSource

	// KeyFrames is notified when a receiver reports picture loss. Optional.
	KeyFrames KeyFrameRequester

	// ICEServers for the peer configuration. Empty means host candidates
	// only, which is enough on a LAN.
	ICEServers []webrtc.ICEServer

	// LoggerFactory is the factory for creating loggers. It is also handed
	// to pion/webrtc. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// PionFactory creates peers backed by pion/webrtc.
type PionFactory struct {
	api       *webrtc.API
	config    webrtc.Configuration
	tracks    TrackSource
	keyFrames KeyFrameRequester
	log       logging.LeveledLogger
}

// NewPionFactory builds the webrtc API with the default codecs and
// interceptors (NACK, RTCP reports, TWCC).
func NewPionFactory(config PionConfig) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if config.LoggerFactory != nil {
		se.LoggerFactory = config.LoggerFactory
	}

	f := &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		config:    webrtc.Configuration{ICEServers: config.ICEServers},
		tracks:    config.Tracks,
		keyFrames: config.KeyFrames,
	}
	if config.LoggerFactory != nil {
		f.log = config.LoggerFactory.NewLogger("webrtc-peer")
	}
	return f, nil
}

// NewPeer implements PeerFactory.
func (f *PionFactory) NewPeer(onCandidate func(webrtc.ICECandidateInit)) (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || onCandidate == nil {
			return
		}
		onCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if f.log != nil {
			f.log.Debugf("peer connection state: %s", state)
		}
	})

	if f.tracks != nil {
		for _, track := range f.tracks.Tracks() {
			tr, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendonly,
			})
			if err != nil {
				_ = pc.Close()
				return nil, err
			}
			go f.readRTCP(tr.Sender())
		}
	}

	return &pionPeer{pc: pc}, nil
}

// readRTCP drains the sender's RTCP so interceptors keep working and turns
// picture loss reports into keyframe requests. It exits when the peer closes.
func (f *PionFactory) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if f.keyFrames != nil {
					f.keyFrames.RequestKeyFrame()
				}
			}
		}
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection

	// pending holds remote candidates that arrive before the answer.
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
