// Package stream implements the per-stream processor state machine: it
// drives an ingest pipeline into the inference engine, evaluates events on
// each frame, and publishes the resulting envelope.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hailostream/eventd/internal/accel"
	"github.com/hailostream/eventd/internal/events"
	"github.com/hailostream/eventd/internal/inference"
	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/perfstats"
	"github.com/hailostream/eventd/internal/types"
)

// Ingest is the contract a video source must satisfy (SPEC_FULL.md 6). A
// concrete RTSP implementation lives in internal/ingest.
type Ingest interface {
	Start(url string, onFrame func(rgb []byte, width, height int), onError func(error)) error
	Stop()
}

// SnapshotEncoder is the contract a still-image encoder must satisfy
// (SPEC_FULL.md 6).
type SnapshotEncoder interface {
	Encode(rgb []byte, width, height, quality int) ([]byte, error)
}

// Publisher is the subset of the Publisher module a stream processor needs.
type Publisher interface {
	Publish(evt *types.DetectionEvent)
}

// BatchSubmitter is the subset of the Batch Coordinator a stream processor
// needs, so Module E doesn't depend on Module C's concrete type either.
type BatchSubmitter interface {
	SubmitFrame(streamID string, rgb []byte, width, height int, confidence float32, callback func([]types.Detection))
}

const reconnectBaseSeconds = 3
const maxReconnectAttempts = 10
const snapshotQuality = 80

// Processor is one managed stream's state machine.
type Processor struct {
	info   types.StreamInfo
	log    log.Log
	ingest Ingest
	enc    SnapshotEncoder
	pub    Publisher

	session *accel.Session
	engine  *inference.Engine
	batch   BatchSubmitter

	compositor *events.Compositor

	state        atomic.Int32
	frameCount   atomic.Uint64
	lastError    atomic.Value // string
	startedAt    time.Time
	lastDetectAt atomic.Int64

	fpsMu sync.Mutex
	fps   perfstats.FPSEstimator

	snapMu   sync.Mutex
	snapshot []byte

	reconnectMu   sync.Mutex
	reconnectStop chan struct{}

	detectionCallback func(*types.DetectionEvent)
}

// New constructs a Processor for the given stream. It does not start it.
func New(info types.StreamInfo, logger log.Log, ingest Ingest, enc SnapshotEncoder, pub Publisher, session *accel.Session) *Processor {
	p := &Processor{
		info: info, log: log.NewPrefixLogger(logger, fmt.Sprintf("[%s] ", info.StreamID)),
		ingest: ingest, enc: enc, pub: pub, session: session,
		compositor: events.NewCompositor(),
	}
	p.state.Store(int32(types.StateStopped))
	p.lastError.Store("")
	return p
}

func (p *Processor) State() types.StreamState {
	return types.StreamState(p.state.Load())
}

func (p *Processor) setState(s types.StreamState) {
	p.state.Store(int32(s))
}

func (p *Processor) setError(err error) {
	p.lastError.Store(err.Error())
	p.setState(types.StateError)
}

// SetDetectionCallback registers the global per-detection callback inherited
// from the Stream Manager.
func (p *Processor) SetDetectionCallback(cb func(*types.DetectionEvent)) {
	p.detectionCallback = cb
}

// SetBatchSubmitter wires this processor to a shared Batch Coordinator; the
// Stream Manager calls it when its configured batch size is greater than 1.
func (p *Processor) SetBatchSubmitter(b BatchSubmitter) {
	p.batch = b
}

// Start transitions Stopped -> Starting and begins ingest.
func (p *Processor) Start() error {
	p.setState(types.StateStarting)
	p.startedAt = time.Now()

	if p.info.HEFPath != "" {
		engine, err := inference.Acquire(p.session, p.info.HEFPath, p.log)
		if err != nil {
			p.setError(fmt.Errorf("acquire inference engine: %w", err))
			return err
		}
		engine.SetModelConfig(p.info.Task, p.info.NumKeypoints, p.info.Labels)
		p.engine = engine
	}

	return p.startIngest(1)
}

func (p *Processor) startIngest(attempt int) error {
	err := p.ingest.Start(p.info.RTSPUrl, p.onFrame, func(ingestErr error) {
		p.log.Warnf("ingest error: %v", ingestErr)
		p.lastError.Store(ingestErr.Error())
		p.scheduleReconnect(attempt)
	})
	if err != nil {
		p.scheduleReconnect(attempt)
		return err
	}
	return nil
}

func (p *Processor) scheduleReconnect(attempt int) {
	if attempt > maxReconnectAttempts {
		p.setState(types.StateError)
		p.log.Errorf("giving up after %d reconnect attempts", maxReconnectAttempts)
		return
	}
	p.setState(types.StateReconnecting)
	delay := time.Duration(reconnectBaseSeconds*attempt) * time.Second

	p.reconnectMu.Lock()
	if p.reconnectStop != nil {
		close(p.reconnectStop)
	}
	stop := make(chan struct{})
	p.reconnectStop = stop
	p.reconnectMu.Unlock()

	go func() {
		select {
		case <-time.After(delay):
			p.setState(types.StateStarting)
			_ = p.startIngest(attempt + 1)
		case <-stop:
		}
	}()
}

// onFrame is invoked by the ingest layer for every decoded raw RGB frame.
func (p *Processor) onFrame(rgb []byte, width, height int) {
	if p.State() == types.StateStarting {
		p.setState(types.StateRunning)
	}
	p.frameCount.Add(1)
	p.fpsMu.Lock()
	p.fps.Tick(time.Now())
	rate := p.fps.Rate()
	p.fpsMu.Unlock()

	if snap, err := p.enc.Encode(rgb, width, height, snapshotQuality); err == nil {
		p.snapMu.Lock()
		p.snapshot = snap
		p.snapMu.Unlock()
	}

	frameNumber := p.frameCount.Load()

	if p.engine == nil {
		p.finishFrame(nil, frameNumber, rate, width, height)
		return
	}

	if p.batch != nil {
		p.batch.SubmitFrame(p.info.StreamID, rgb, width, height, p.info.Config.ConfidenceThreshold, func(dets []types.Detection) {
			p.finishFrame(filterClasses(dets, p.info.Config.ClassFilter), frameNumber, rate, width, height)
		})
		return
	}

	dets, err := p.engine.RunInference(rgb, width, height, p.info.Config.ConfidenceThreshold)
	if err != nil {
		p.log.Warnf("inference failed: %v", err)
		dets = nil
	}
	p.finishFrame(filterClasses(dets, p.info.Config.ClassFilter), frameNumber, rate, width, height)
}

// filterClasses drops detections whose class is not in filter; an empty
// filter passes every detection through unchanged.
func filterClasses(dets []types.Detection, filter []string) []types.Detection {
	if len(filter) == 0 {
		return dets
	}
	out := dets[:0:0]
	for _, d := range dets {
		for _, c := range filter {
			if d.ClassName == c {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func (p *Processor) finishFrame(dets []types.Detection, frameNumber uint64, fps float64, width, height int) {
	p.compositor.CheckEvents(dets, width, height)
	lineStatus := p.compositor.CheckLineEvents(dets, width, height)
	angleStatus := p.compositor.CheckAngleViolationEvents(dets)

	allStatus := map[string]*types.EventStatus{}
	for id, s := range lineStatus {
		allStatus[id] = s
	}
	for id, s := range angleStatus {
		allStatus[id] = s
	}

	if len(dets) > 0 {
		p.lastDetectAt.Store(time.Now().UnixMilli())
	}

	evt := &types.DetectionEvent{
		StreamID: p.info.StreamID, TimestampMs: time.Now().UnixMilli(), FrameNumber: frameNumber,
		FPS: fps, Width: width, Height: height, Detections: dets, Events: allStatus,
		ImageData: p.Snapshot(),
	}

	if p.pub != nil {
		p.pub.Publish(evt)
	}
	if p.detectionCallback != nil {
		p.detectionCallback(evt)
	}
}

// Stop tears down ingest and releases this processor's resources.
func (p *Processor) Stop() {
	p.reconnectMu.Lock()
	if p.reconnectStop != nil {
		close(p.reconnectStop)
		p.reconnectStop = nil
	}
	p.reconnectMu.Unlock()

	p.ingest.Stop()
	p.setState(types.StateStopped)
}

// ClearInference releases the engine reference and keeps ingest running
// video-only; events can still be evaluated, with empty detections.
func (p *Processor) ClearInference() {
	p.engine = nil
	p.batch = nil
	p.info.HEFPath = ""
	p.info.ModelID = ""
}

// UpdateSettings reconfigures the event compositor for this stream and
// returns the new terminal event id list.
func (p *Processor) UpdateSettings(data []byte) ([]string, error) {
	return p.compositor.UpdateSettings(data)
}

// ClearSettings removes all event settings for this stream.
func (p *Processor) ClearSettings() {
	p.compositor.Clear()
}

// Snapshot returns the most recently encoded frame, or nil if none has
// arrived yet.
func (p *Processor) Snapshot() []byte {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return p.snapshot
}

// Status returns a point-in-time summary of this processor's state.
func (p *Processor) Status() types.StreamStatus {
	p.fpsMu.Lock()
	rate := p.fps.Rate()
	p.fpsMu.Unlock()
	uptime := uint64(0)
	if !p.startedAt.IsZero() {
		uptime = uint64(time.Since(p.startedAt).Seconds())
	}
	lastErr, _ := p.lastError.Load().(string)
	avgInferenceMs := 0.0
	if p.engine != nil {
		avgInferenceMs = float64(p.engine.AverageLatency().Microseconds()) / 1000.0
	}
	return types.StreamStatus{
		StreamID: p.info.StreamID, RTSPUrl: p.info.RTSPUrl, ModelID: p.info.ModelID,
		State: p.State(), FrameCount: p.frameCount.Load(), CurrentFPS: rate,
		UptimeSeconds: uptime, LastError: lastErr, LastDetectionTime: p.lastDetectAt.Load(),
		AvgInferenceMs: avgInferenceMs,
	}
}

// Info returns the stream's current identity/configuration.
func (p *Processor) Info() types.StreamInfo {
	return p.info
}
