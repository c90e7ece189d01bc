// Package types holds the data shapes shared across the inference, event,
// stream and publish layers.
package types

// BoundingBox is an integer pixel rectangle in original-frame coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Keypoint is a single skeletal point, normalized to [0,1] of the original frame.
type Keypoint struct {
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Visible float32 `json:"visible"`
}

// Detection is one object found by the inference engine, later annotated by
// the event compositor with the set of event settings it satisfies.
type Detection struct {
	ClassID         int        `json:"class_id"`
	ClassName       string     `json:"class"`
	Confidence      float32    `json:"confidence"`
	Box             BoundingBox `json:"bbox"`
	Keypoints       []Keypoint `json:"keypoints,omitempty"`
	EventSettingIDs []string   `json:"-"`
}

// EventStatusLevel is the severity level assigned to an event for a frame.
type EventStatusLevel int

const (
	StatusSafe EventStatusLevel = 0
	StatusWarning EventStatusLevel = 1
	StatusDanger EventStatusLevel = 2
)

// EventStatus is the per-frame outcome of evaluating one event setting.
type EventStatus struct {
	Status EventStatusLevel `json:"status"`
	Labels []string         `json:"labels"`
}

// Merge folds another status into this one, keeping the higher severity and
// the union of contributing labels.
func (s *EventStatus) Merge(other EventStatus) {
	if other.Status > s.Status {
		s.Status = other.Status
	}
	for _, l := range other.Labels {
		if !containsString(s.Labels, l) {
			s.Labels = append(s.Labels, l)
		}
	}
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// DetectionEvent is the per-frame envelope published to the message bus.
type DetectionEvent struct {
	StreamID    string                  `json:"stream_id"`
	TimestampMs int64                   `json:"timestamp"`
	FrameNumber uint64                  `json:"frame_number"`
	FPS         float64                 `json:"fps"`
	Width       int                     `json:"width"`
	Height      int                     `json:"height"`
	Detections  []Detection             `json:"detections"`
	Events      map[string]*EventStatus `json:"events"`
	ImageData   []byte                  `json:"-"`
}

// StreamConfig carries the per-stream frame and confidence parameters.
type StreamConfig struct {
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	FPS                 int      `json:"fps"`
	ConfidenceThreshold float32  `json:"confidence_threshold"`
	ClassFilter         []string `json:"class_filter,omitempty"`
}

// DefaultStreamConfig returns the daemon-wide fallback stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{Width: 1920, Height: 1080, FPS: 30, ConfidenceThreshold: 0.5}
}

// StreamInfo is the identity and configuration of one managed stream.
type StreamInfo struct {
	StreamID string       `json:"stream_id"`
	RTSPUrl  string       `json:"rtsp_url"`
	HEFPath  string       `json:"hef_path"`
	ModelID  string       `json:"model_id"`
	Task     string       `json:"task"` // "det" or "pose"
	NumKeypoints int      `json:"num_keypoints"`
	Labels   []string     `json:"labels"`
	Config   StreamConfig `json:"config"`
}

// StreamState is the lifecycle state of a Stream Processor.
type StreamState int

const (
	StateStopped StreamState = iota
	StateStarting
	StateRunning
	StateReconnecting
	StateError
)

func (s StreamState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateReconnecting:
		return "Reconnecting"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// StreamStatus is a snapshot of one stream's runtime state.
type StreamStatus struct {
	StreamID          string      `json:"stream_id"`
	RTSPUrl           string      `json:"rtsp_url"`
	ModelID           string      `json:"model_id"`
	State             StreamState `json:"state"`
	FrameCount        uint64      `json:"frame_count"`
	CurrentFPS        float64     `json:"current_fps"`
	UptimeSeconds     uint64      `json:"uptime_seconds"`
	LastError         string      `json:"last_error"`
	LastDetectionTime int64       `json:"last_detection_time"`
	AvgInferenceMs    float64     `json:"avg_inference_ms"`
}
