package events

import (
	"testing"

	"github.com/hailostream/eventd/internal/types"
	"github.com/stretchr/testify/require"
)

func roiSettingsJSON() []byte {
	return []byte(`{"configs":[
		{"eventSettingId":"roi1","eventType":"ROI","points":[[0.1,0.1],[0.9,0.1],[0.9,0.9],[0.1,0.9]],"targets":["person"],"detectionPoint":"c:b"}
	]}`)
}

func TestCheckEventsROIContainment(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings(roiSettingsJSON())
	require.NoError(t, err)

	dets := []types.Detection{{ClassName: "person", Box: types.BoundingBox{X: 10, Y: 10, Width: 20, Height: 30}}}
	c.CheckEvents(dets, 100, 100)
	require.Equal(t, []string{"roi1"}, dets[0].EventSettingIDs)
}

func TestCheckEventsMissByClass(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings(roiSettingsJSON())
	require.NoError(t, err)

	dets := []types.Detection{{ClassName: "car", Box: types.BoundingBox{X: 10, Y: 10, Width: 20, Height: 30}}}
	c.CheckEvents(dets, 100, 100)
	require.Empty(t, dets[0].EventSettingIDs)
}

func TestCheckEventsUnionOfMultipleROIs(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"roiA","eventType":"ROI","points":[[0.0,0.0],[1.0,0.0],[1.0,1.0],[0.0,1.0]],"targets":"ALL","detectionPoint":"c:c"},
		{"eventSettingId":"roiB","eventType":"ROI","points":[[0.0,0.0],[0.6,0.0],[0.6,0.6],[0.0,0.6]],"targets":"ALL","detectionPoint":"c:c"}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{{ClassName: "person", Box: types.BoundingBox{X: 10, Y: 10, Width: 10, Height: 10}}}
	c.CheckEvents(dets, 100, 100)
	require.ElementsMatch(t, []string{"roiA", "roiB"}, dets[0].EventSettingIDs)
}

func TestCheckLineEventsWarningAndDanger(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"lineA2B","eventType":"Line","points":[[0.5,0.0],[0.5,1.0]],"direction":"A2B","warningDistance":0.1,"keypoints":[1]}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{
		{ClassName: "person", Keypoints: []types.Keypoint{{}, {X: 0.55, Y: 0.5, Visible: 1.0}}},
	}
	statuses := c.CheckLineEvents(dets, 100, 100)
	require.Equal(t, types.StatusWarning, statuses["lineA2B"].Status)
}

func TestCheckLineEventsB2ADangerSide(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"lineB2A","eventType":"Line","points":[[0.5,0.0],[0.5,1.0]],"direction":"B2A","warningDistance":0.1,"keypoints":[1]}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{
		{ClassName: "person", Keypoints: []types.Keypoint{{}, {X: 0.55, Y: 0.5, Visible: 1.0}}},
	}
	statuses := c.CheckLineEvents(dets, 100, 100)
	require.Equal(t, types.StatusDanger, statuses["lineB2A"].Status)
}

func TestCheckLineEventsBothNeverDanger(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"lineBoth","eventType":"Line","points":[[0.5,0.0],[0.5,1.0]],"direction":"BOTH","warningDistance":0.5,"keypoints":[1]}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{
		{ClassName: "person", Keypoints: []types.Keypoint{{}, {X: 0.9, Y: 0.5, Visible: 1.0}}},
	}
	statuses := c.CheckLineEvents(dets, 100, 100)
	require.NotEqual(t, types.StatusDanger, statuses["lineBoth"].Status)
}

func TestCheckAngleViolationEventsTriggersDangerOnPerpendicular(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"angle1","eventType":"AngleViolation","points":[[0.0,0.5],[1.0,0.5]],"targets":["person"],"angleThreshold":45}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{
		{ClassName: "person", Keypoints: []types.Keypoint{{}, {X: 0.5, Y: 0.2, Visible: 1.0}, {X: 0.5, Y: 0.8, Visible: 1.0}}},
	}
	statuses := c.CheckAngleViolationEvents(dets)
	require.Equal(t, types.StatusDanger, statuses["angle1"].Status)
	require.Equal(t, []string{"person"}, statuses["angle1"].Labels)
}

func TestCheckAngleViolationEventsSafeWhenAlignedWithLine(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"angle2","eventType":"AngleViolation","points":[[0.0,0.5],[1.0,0.5]],"targets":["person"],"angleThreshold":45}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{
		{ClassName: "person", Keypoints: []types.Keypoint{{}, {X: 0.2, Y: 0.5, Visible: 1.0}, {X: 0.8, Y: 0.5, Visible: 1.0}}},
	}
	statuses := c.CheckAngleViolationEvents(dets)
	require.Equal(t, types.StatusSafe, statuses["angle2"].Status)
}

func TestCheckAngleViolationEventsIgnoresLowVisibilityKeypoints(t *testing.T) {
	c := NewCompositor()
	_, err := c.UpdateSettings([]byte(`{"configs":[
		{"eventSettingId":"angle3","eventType":"AngleViolation","points":[[0.0,0.5],[1.0,0.5]],"targets":["person"],"angleThreshold":45}
	]}`))
	require.NoError(t, err)

	dets := []types.Detection{
		{ClassName: "person", Keypoints: []types.Keypoint{{}, {X: 0.5, Y: 0.2, Visible: 0.1}, {X: 0.5, Y: 0.8, Visible: 1.0}}},
	}
	statuses := c.CheckAngleViolationEvents(dets)
	require.Equal(t, types.StatusSafe, statuses["angle3"].Status)
}

func TestTerminalIDsExcludesFilterAndHM(t *testing.T) {
	settings, err := ParseSettings([]byte(`{"configs":[
		{"eventSettingId":"filter1","eventType":"Filter"},
		{"eventSettingId":"roi1","eventType":"ROI","parentId":"filter1","points":[[0,0],[1,0],[1,1]]}
	]}`))
	require.NoError(t, err)
	terminal := TerminalIDs(settings)
	require.Equal(t, []string{"roi1"}, terminal)
}

func TestParseTargetsAllSentinelVariants(t *testing.T) {
	for _, raw := range []string{`"ALL"`, `["ALL"]`, `[]`, `null`} {
		target, err := parseTargets([]byte(raw))
		require.NoError(t, err)
		require.True(t, target.Matches("anything"))
	}
}
