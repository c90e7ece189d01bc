package publish

import (
	"encoding/json"
	"testing"

	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestBuildSubject(t *testing.T) {
	require.Equal(t, "stream.cam1", BuildSubject("cam1"))
}

func TestSerializeSurfacesFirstMatchedEventID(t *testing.T) {
	evt := &types.DetectionEvent{
		StreamID: "cam1", FrameNumber: 5,
		Detections: []types.Detection{
			{ClassName: "person", EventSettingIDs: []string{"roiA", "roiB"}},
		},
		Events: map[string]*types.EventStatus{},
	}
	payload, err := serialize(evt)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	dets := decoded["detections"].([]interface{})
	det0 := dets[0].(map[string]interface{})
	require.Equal(t, "roiA", det0["event"])
}

func TestSerializeNullEventWhenNoMatch(t *testing.T) {
	evt := &types.DetectionEvent{
		StreamID: "cam1",
		Detections: []types.Detection{{ClassName: "car"}},
	}
	payload, err := serialize(evt)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	dets := decoded["detections"].([]interface{})
	det0 := dets[0].(map[string]interface{})
	require.Nil(t, det0["event"])
}

func TestPublishIsNoOpWhenDisconnected(t *testing.T) {
	p := New("nats://127.0.0.1:1", 0, log.New(log.Critical))
	// No Connect() call: publisher starts Disconnected. Publish must not
	// panic or block.
	p.Publish(&types.DetectionEvent{StreamID: "cam1"})
	require.Equal(t, int64(0), p.Stats().MessagesPublished)
}
