// Package publish serializes DetectionEvents to JSON and delivers them to a
// NATS subject, with lazy connect and a background reconnect loop. A
// disconnected Publisher silently drops messages rather than buffering them
// -- SPEC_FULL.md 4.G is explicit that frames must never be queued
// unboundedly while the bus is down.
package publish

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/types"
	"github.com/nats-io/nats.go"
)

// State is the publisher's connection state machine.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Stats mirrors the counters the original nats_publisher.cpp tracked.
type Stats struct {
	MessagesPublished int64
	ReconnectAttempts int64
	LastError         string
	LastPublishTimeMs int64
}

// Publisher connects lazily to a NATS server and publishes DetectionEvents
// under subject "stream.<stream_id>".
type Publisher struct {
	url               string
	reconnectInterval time.Duration
	log               log.Log

	mu    sync.Mutex
	conn  *nats.Conn
	state atomic.Int32

	stopReconnect chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

const DefaultReconnectInterval = 5 * time.Second

func New(url string, reconnectInterval time.Duration, logger log.Log) *Publisher {
	if reconnectInterval <= 0 {
		reconnectInterval = DefaultReconnectInterval
	}
	p := &Publisher{url: url, reconnectInterval: reconnectInterval, log: logger}
	p.state.Store(int32(Disconnected))
	return p
}

func (p *Publisher) State() State {
	return State(p.state.Load())
}

// Connect attempts to connect immediately; on failure it starts a background
// reconnect loop and returns the original error (callers may ignore it,
// since Publish is always safe to call regardless of connection state).
func (p *Publisher) Connect() error {
	p.mu.Lock()
	if p.conn != nil && p.conn.IsConnected() {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.state.Store(int32(Connecting))
	conn, err := nats.Connect(p.url, nats.Timeout(5*time.Second))
	if err != nil {
		p.recordError(err)
		p.state.Store(int32(Disconnected))
		p.startReconnectLoop()
		return fmt.Errorf("connect to %s: %w", p.url, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.state.Store(int32(Connected))
	p.log.Infof("publisher connected to %s", p.url)
	return nil
}

func (p *Publisher) startReconnectLoop() {
	p.mu.Lock()
	if p.stopReconnect != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stopReconnect = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.reconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.state.Store(int32(Reconnecting))
				p.statsMu.Lock()
				p.stats.ReconnectAttempts++
				p.statsMu.Unlock()
				if err := p.Connect(); err == nil {
					p.mu.Lock()
					p.stopReconnect = nil
					p.mu.Unlock()
					return
				}
			}
		}
	}()
}

// Disconnect stops the reconnect loop (if any) and closes the connection.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	if p.stopReconnect != nil {
		close(p.stopReconnect)
		p.stopReconnect = nil
	}
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	p.state.Store(int32(Disconnected))
}

// Publish serializes evt and sends it on subject stream.<stream_id>. If the
// publisher is disconnected this is a silent no-op (after lazily kicking off
// a connect attempt and reconnect loop).
func (p *Publisher) Publish(evt *types.DetectionEvent) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		if p.State() == Disconnected {
			go func() { _ = p.Connect() }()
		}
		return
	}

	payload, err := serialize(evt)
	if err != nil {
		p.log.Warnf("serialize detection event for %s: %v", evt.StreamID, err)
		return
	}
	if err := conn.Publish(BuildSubject(evt.StreamID), payload); err != nil {
		p.recordError(err)
		return
	}
	p.statsMu.Lock()
	p.stats.MessagesPublished++
	p.stats.LastPublishTimeMs = time.Now().UnixMilli()
	p.statsMu.Unlock()
}

// BuildSubject returns the NATS subject for a stream id.
func BuildSubject(streamID string) string {
	return "stream." + streamID
}

func (p *Publisher) recordError(err error) {
	p.statsMu.Lock()
	p.stats.LastError = err.Error()
	p.statsMu.Unlock()
	p.log.Warnf("publisher error: %v", err)
}

// Stats returns a copy of the current counters.
func (p *Publisher) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// wireDetection mirrors the JSON envelope's detection shape (SPEC_FULL.md 6):
// the internal multi-value EventSettingIDs set is narrowed to the first
// matched id (or null) at the wire boundary -- see DESIGN.md Module D for
// why the full set stays internal-only.
type wireDetection struct {
	Class      string      `json:"class"`
	ClassID    int         `json:"class_id"`
	Confidence float32     `json:"confidence"`
	Box        types.BoundingBox `json:"bbox"`
	Event      *string     `json:"event"`
	Keypoints  [][3]float32 `json:"keypoints,omitempty"`
}

type wireEnvelope struct {
	StreamID    string                        `json:"stream_id"`
	TimestampMs int64                         `json:"timestamp"`
	FrameNumber uint64                        `json:"frame_number"`
	FPS         float64                       `json:"fps"`
	Width       int                           `json:"width"`
	Height      int                           `json:"height"`
	Detections  []wireDetection               `json:"detections"`
	Events      map[string]*types.EventStatus `json:"events"`
	Image       string                        `json:"image,omitempty"`
}

func serialize(evt *types.DetectionEvent) ([]byte, error) {
	env := wireEnvelope{
		StreamID: evt.StreamID, TimestampMs: evt.TimestampMs, FrameNumber: evt.FrameNumber,
		FPS: evt.FPS, Width: evt.Width, Height: evt.Height, Events: evt.Events,
	}
	for _, d := range evt.Detections {
		wd := wireDetection{Class: d.ClassName, ClassID: d.ClassID, Confidence: d.Confidence, Box: d.Box}
		if len(d.EventSettingIDs) > 0 {
			id := d.EventSettingIDs[0]
			wd.Event = &id
		}
		for _, kp := range d.Keypoints {
			wd.Keypoints = append(wd.Keypoints, [3]float32{kp.X, kp.Y, kp.Visible})
		}
		env.Detections = append(env.Detections, wd)
	}
	if len(evt.ImageData) > 0 {
		env.Image = base64.StdEncoding.EncodeToString(evt.ImageData)
	}
	return json.Marshal(env)
}
