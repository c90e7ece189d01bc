package manager

import (
	"testing"

	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/stream"
	"github.com/hailostream/eventd/internal/types"
	"github.com/stretchr/testify/require"
)

type nopIngest struct{}

func (nopIngest) Start(url string, onFrame func([]byte, int, int), onError func(error)) error {
	return nil
}
func (nopIngest) Stop() {}

type nopEncoder struct{}

func (nopEncoder) Encode(rgb []byte, width, height, quality int) ([]byte, error) {
	return nil, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(*types.DetectionEvent) {}

func newTestManager(maxStreams int) *Manager {
	return New(log.New(log.Critical), nil, nopEncoder{}, nopPublisher{}, func() stream.Ingest { return nopIngest{} }, maxStreams)
}

func TestAddStreamRejectsDuplicate(t *testing.T) {
	m := newTestManager(4)
	require.NoError(t, m.AddStream(types.StreamInfo{StreamID: "s1"}))
	require.Error(t, m.AddStream(types.StreamInfo{StreamID: "s1"}))
}

func TestAddStreamRejectsOverCapacity(t *testing.T) {
	m := newTestManager(1)
	require.NoError(t, m.AddStream(types.StreamInfo{StreamID: "s1"}))
	require.Error(t, m.AddStream(types.StreamInfo{StreamID: "s2"}))
}

func TestRemoveUnknownStreamErrors(t *testing.T) {
	m := newTestManager(4)
	require.Error(t, m.RemoveStream("ghost"))
}

func TestGetAllStreamStatusReflectsAddedStreams(t *testing.T) {
	m := newTestManager(4)
	require.NoError(t, m.AddStream(types.StreamInfo{StreamID: "s1"}))
	require.NoError(t, m.AddStream(types.StreamInfo{StreamID: "s2"}))
	statuses := m.GetAllStreamStatus()
	require.Len(t, statuses, 2)
}

func TestDetectionCallbackInheritedByNewStreams(t *testing.T) {
	m := newTestManager(4)
	called := 0
	m.SetDetectionCallback(func(*types.DetectionEvent) { called++ })
	require.NoError(t, m.AddStream(types.StreamInfo{StreamID: "s1"}))
	// callback wiring itself is exercised by processor tests; here we only
	// assert that adding a stream after SetDetectionCallback does not error
	// and that the manager retains the callback for future streams.
	require.NotNil(t, m.onDetect)
}
