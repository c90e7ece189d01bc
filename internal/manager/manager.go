// Package manager orchestrates the lifecycle of every Stream Processor: it
// owns the stream_id -> Processor map, enforces capacity, and fans out
// global callbacks to every managed stream.
package manager

import (
	"fmt"
	"sync"

	"github.com/hailostream/eventd/internal/accel"
	"github.com/hailostream/eventd/internal/batch"
	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/stream"
	"github.com/hailostream/eventd/internal/types"
)

// IngestFactory constructs a fresh Ingest for one stream.
type IngestFactory func() stream.Ingest

// Manager owns every managed stream. The zero value is not usable; use New.
type Manager struct {
	log         log.Log
	session     *accel.Session
	encoder     stream.SnapshotEncoder
	publisher   stream.Publisher
	newIngest   IngestFactory
	maxStreams  int
	batchSize   int

	mu           sync.Mutex
	streams      map[string]*stream.Processor
	coordinators map[string]*batch.Coordinator // keyed by HEF path
	onDetect     func(*types.DetectionEvent)
}

const DefaultMaxStreams = 4

func New(logger log.Log, session *accel.Session, encoder stream.SnapshotEncoder, publisher stream.Publisher, newIngest IngestFactory, maxStreams int) *Manager {
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	return &Manager{
		log: logger, session: session, encoder: encoder, publisher: publisher, newIngest: newIngest,
		maxStreams: maxStreams, streams: map[string]*stream.Processor{}, coordinators: map[string]*batch.Coordinator{},
	}
}

// SetBatchSize configures the cross-stream submission batch size applied to
// every stream added from this point on. A value <= 1 disables batching
// (direct per-frame RunInference).
func (m *Manager) SetBatchSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSize = n
}

// coordinatorFor returns the shared Coordinator for hefPath, creating it on
// first reference. Must be called with m.mu held.
func (m *Manager) coordinatorFor(hefPath string) *batch.Coordinator {
	if c, ok := m.coordinators[hefPath]; ok {
		return c
	}
	c := batch.NewCoordinator(hefPath, m.batchSize, batch.DefaultDeadline, m.log)
	m.coordinators[hefPath] = c
	return c
}

func (m *Manager) wireBatching(p *stream.Processor, info types.StreamInfo) {
	if info.HEFPath == "" || m.batchSize <= 1 {
		return
	}
	m.mu.Lock()
	c := m.coordinatorFor(info.HEFPath)
	m.mu.Unlock()
	p.SetBatchSubmitter(c)
}

// SetDetectionCallback registers the callback inherited by every existing
// and future stream, matching the teacher's global-callback-inheritance
// convention (ApplyCallbacks in the original stream manager).
func (m *Manager) SetDetectionCallback(cb func(*types.DetectionEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetect = cb
	for _, p := range m.streams {
		p.SetDetectionCallback(cb)
	}
}

// AddStream creates, registers and starts a processor for info. Duplicate
// ids and over-capacity additions are rejected without mutating state.
func (m *Manager) AddStream(info types.StreamInfo) error {
	m.mu.Lock()
	if _, exists := m.streams[info.StreamID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("stream %q already exists", info.StreamID)
	}
	if len(m.streams) >= m.maxStreams {
		m.mu.Unlock()
		return fmt.Errorf("stream capacity (%d) exceeded", m.maxStreams)
	}
	p := stream.New(info, m.log, m.newIngest(), m.encoder, m.publisher, m.session)
	if m.onDetect != nil {
		p.SetDetectionCallback(m.onDetect)
	}
	m.streams[info.StreamID] = p
	m.mu.Unlock()

	m.wireBatching(p, info)

	if err := p.Start(); err != nil {
		m.log.Warnf("AddStream(%s): start returned %v (will keep retrying via reconnect)", info.StreamID, err)
	}
	return nil
}

// RemoveStream stops and forgets the named stream.
func (m *Manager) RemoveStream(streamID string) error {
	m.mu.Lock()
	p, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown stream %q", streamID)
	}
	delete(m.streams, streamID)
	m.mu.Unlock()

	p.Stop()
	return nil
}

// UpdateStream stops the current pipeline, overwrites identity fields, and
// restarts it.
func (m *Manager) UpdateStream(info types.StreamInfo) error {
	m.mu.Lock()
	p, ok := m.streams[info.StreamID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown stream %q", info.StreamID)
	}
	p.Stop()
	return m.AddStreamReplacing(info)
}

// AddStreamReplacing re-creates a processor in place after UpdateStream's
// stop, reusing the same capacity slot.
func (m *Manager) AddStreamReplacing(info types.StreamInfo) error {
	m.mu.Lock()
	p := stream.New(info, m.log, m.newIngest(), m.encoder, m.publisher, m.session)
	if m.onDetect != nil {
		p.SetDetectionCallback(m.onDetect)
	}
	m.streams[info.StreamID] = p
	m.mu.Unlock()
	m.wireBatching(p, info)
	return p.Start()
}

// ClearStreamInference drops the model reference for a stream, leaving
// video-only ingest running.
func (m *Manager) ClearStreamInference(streamID string) error {
	p, err := m.get(streamID)
	if err != nil {
		return err
	}
	p.ClearInference()
	return nil
}

// UpdateEventSettings parses and installs event settings for one stream.
func (m *Manager) UpdateEventSettings(streamID string, settingsJSON []byte) ([]string, error) {
	p, err := m.get(streamID)
	if err != nil {
		return nil, err
	}
	return p.UpdateSettings(settingsJSON)
}

// ClearEventSettings removes all event settings for one stream.
func (m *Manager) ClearEventSettings(streamID string) error {
	p, err := m.get(streamID)
	if err != nil {
		return err
	}
	p.ClearSettings()
	return nil
}

// GetStreamStatus returns one stream's current status.
func (m *Manager) GetStreamStatus(streamID string) (types.StreamStatus, error) {
	p, err := m.get(streamID)
	if err != nil {
		return types.StreamStatus{}, err
	}
	return p.Status(), nil
}

// GetAllStreamStatus returns every managed stream's current status.
func (m *Manager) GetAllStreamStatus() []types.StreamStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.StreamStatus, 0, len(m.streams))
	for _, p := range m.streams {
		out = append(out, p.Status())
	}
	return out
}

// GetSnapshot returns the most recent encoded frame for one stream.
func (m *Manager) GetSnapshot(streamID string) ([]byte, error) {
	p, err := m.get(streamID)
	if err != nil {
		return nil, err
	}
	return p.Snapshot(), nil
}

// Stop tears down every managed stream and its batch coordinators.
func (m *Manager) Stop() {
	m.mu.Lock()
	streams := make([]*stream.Processor, 0, len(m.streams))
	for _, p := range m.streams {
		streams = append(streams, p)
	}
	m.streams = map[string]*stream.Processor{}
	coords := make([]*batch.Coordinator, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		coords = append(coords, c)
	}
	m.coordinators = map[string]*batch.Coordinator{}
	m.mu.Unlock()

	for _, p := range streams {
		p.Stop()
	}
	for _, c := range coords {
		c.Stop()
	}
}

func (m *Manager) get(streamID string) (*stream.Processor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.streams[streamID]
	if !ok {
		return nil, fmt.Errorf("unknown stream %q", streamID)
	}
	return p, nil
}
