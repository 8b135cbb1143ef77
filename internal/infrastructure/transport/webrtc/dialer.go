package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
)

// DialerOptions configures connection establishment.
type DialerOptions struct {
	// SignalURL is the HTTP offer/answer endpoint.
	SignalURL  string
	ICEServers []webrtc.ICEServer
	// ConnectTimeout bounds the wait for the connection to reach the
	// connected state after the answer is applied.
	ConnectTimeout time.Duration
}

// Dialer establishes data-channel connections through an HTTP offer/answer
// exchange. It implements ports.TransportDialer.
type Dialer struct {
	opts   DialerOptions
	api    *webrtc.API
	http   *http.Client
	logger *zap.Logger
}

// NewDialer builds the dialer.
func NewDialer(opts DialerOptions, logger *zap.Logger) *Dialer {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	return &Dialer{
		opts:   opts,
		api:    webrtc.NewAPI(),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("dialer"),
	}
}

type connectRequest struct {
	SDP    string          `json:"sdp"`
	Target domain.StreamID `json:"target,omitempty"`
}

type connectResponse struct {
	SDP string `json:"sdp"`
}

// Dial creates a peer connection, exchanges SDP with the media server and
// waits for connectivity. An empty target requests the publish connection;
// a stream ID requests a subscribe connection for that participant.
func (d *Dialer) Dial(ctx context.Context, token string, target domain.StreamID) (ports.Transport, error) {
	pc, err := d.api.NewPeerConnection(webrtc.Configuration{ICEServers: d.opts.ICEServers})
	if err != nil {
		return nil, err
	}

	// A data-channel-only offer needs at least one channel in the SDP.
	// The negotiation channel doubles as the connectivity probe.
	if _, err := pc.CreateDataChannel("negotiation", nil); err != nil {
		pc.Close()
		return nil, err
	}

	connected := make(chan struct{})
	failed := make(chan struct{})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			select {
			case connected <- struct{}{}:
			default:
			}
		case webrtc.PeerConnectionStateFailed:
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	answer, err := d.exchange(ctx, token, pc.LocalDescription().SDP, target)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		pc.Close()
		return nil, err
	}

	select {
	case <-connected:
	case <-failed:
		pc.Close()
		return nil, apperrors.NewTransportError("peer connection failed", nil)
	case <-time.After(d.opts.ConnectTimeout):
		pc.Close()
		return nil, apperrors.NewTransportError("peer connection timed out", nil)
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	d.logger.Debug("media connection established", zap.String("target", string(target)))
	// NewTransport re-registers the state handler for teardown tracking.
	return NewTransport(pc, d.logger), nil
}

// exchange posts the local offer and returns the remote answer SDP.
func (d *Dialer) exchange(ctx context.Context, token, sdp string, target domain.StreamID) (string, error) {
	payload, err := json.Marshal(&connectRequest{SDP: sdp, Target: target})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.SignalURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", apperrors.NewTransportError("offer exchange failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewTransportError("offer rejected", nil)
	}
	var body connectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.SDP == "" {
		return "", apperrors.NewTransportError("malformed answer", err)
	}
	return body.SDP, nil
}
