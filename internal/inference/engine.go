// Package inference decodes accelerator output tensors into detections: the
// letterbox normalization on the way in, and the two output-decoding paths
// (on-chip NMS output, and raw multi-scale YOLO-pose heads with DFL bbox
// decode) on the way out.
package inference

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hailostream/eventd/internal/accel"
	"github.com/hailostream/eventd/internal/geom"
	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/perfstats"
	"github.com/hailostream/eventd/internal/types"
)

// OutputMode names the two supported accelerator output layouts.
type OutputMode int

const (
	ModeUnsupported OutputMode = iota
	ModeNMS
	ModeRawYOLO
)

// scaleOutputs groups one P3/P4/P5 scale's three output tensors.
type scaleOutputs struct {
	stride int
	dfl    accel.StreamShape // 64 channels
	class  accel.StreamShape // K channels
	kpt    accel.StreamShape // 3*numKeypoints channels
}

// Engine is the per-model-file inference engine. One Engine is created per
// distinct HEF path and shared by every stream that references it, per
// SPEC_FULL.md 4.B's process-wide engine registry.
type Engine struct {
	net *accel.ConfiguredNetwork
	log log.Log

	mu sync.Mutex

	task         string
	numKeypoints int
	labels       []string

	mode    OutputMode
	scales  []scaleOutputs // raw-YOLO mode only
	nmsOut  accel.StreamShape // NMS mode only

	inputName string
	inputW    int
	inputH    int

	latency perfstats.TimeAccumulator
}

// registry is the process-wide strong owner of Engines, keyed by HEF path.
// The Batch Coordinator (Module C) never stores an *Engine directly -- it
// looks the engine up here for the duration of one batch, implementing the
// weak-back-reference fix described in SPEC_FULL.md 9.
var (
	registryMu sync.Mutex
	registry   = map[string]*Engine{}
)

// Acquire returns the shared Engine for hefPath, constructing it (and
// configuring the underlying accelerator network) on first reference.
func Acquire(session *accel.Session, hefPath string, logger log.Log) (*Engine, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if e, ok := registry[hefPath]; ok {
		return e, nil
	}
	net, err := session.Configure(hefPath)
	if err != nil {
		return nil, err
	}
	if len(net.Inputs) == 0 {
		return nil, fmt.Errorf("model %s declares no input stream", hefPath)
	}
	e := &Engine{
		net:       net,
		log:       logger,
		inputName: net.Inputs[0].Name,
		inputW:    net.Inputs[0].Width,
		inputH:    net.Inputs[0].Height,
	}
	e.classifyOutputs(net.Outputs)
	registry[hefPath] = e
	return e, nil
}

// Lookup returns an already-acquired engine without constructing one, or
// nil if none is registered for hefPath. Used by the Batch Coordinator.
func Lookup(hefPath string) *Engine {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[hefPath]
}

func (e *Engine) classifyOutputs(outputs []accel.StreamShape) {
	if len(outputs) == 1 {
		e.mode = ModeNMS
		e.nmsOut = outputs[0]
		return
	}
	if len(outputs) == 9 {
		scales, ok := groupScales(outputs)
		if ok {
			e.mode = ModeRawYOLO
			e.scales = scales
			return
		}
	}
	e.mode = ModeUnsupported
}

// groupScales identifies the P3/P4/P5 triples by the documented tensor-name
// suffix convention: conv{43,44,45} for P3 (stride 8), conv{57,58,59} for
// P4 (stride 16), conv{70,71,72} for P5 (stride 32). Within a triple, role
// (dfl/class/keypoint) is by index order.
func groupScales(outputs []accel.StreamShape) ([]scaleOutputs, bool) {
	byName := map[string]accel.StreamShape{}
	for _, o := range outputs {
		byName[o.Name] = o
	}
	groups := []struct {
		stride int
		convs  [3]string
	}{
		{8, [3]string{"conv43", "conv44", "conv45"}},
		{16, [3]string{"conv57", "conv58", "conv59"}},
		{32, [3]string{"conv70", "conv71", "conv72"}},
	}
	var scales []scaleOutputs
	for _, g := range groups {
		var triple [3]accel.StreamShape
		found := 0
		for i, suffix := range g.convs {
			for name, shape := range byName {
				if strings.HasSuffix(name, suffix) {
					triple[i] = shape
					found++
					break
				}
			}
		}
		if found != 3 {
			return nil, false
		}
		scales = append(scales, scaleOutputs{stride: g.stride, dfl: triple[0], class: triple[1], kpt: triple[2]})
	}
	return scales, true
}

// SetModelConfig updates the per-output semantics (task, keypoint count,
// label set) without altering the engine's buffer layout.
func (e *Engine) SetModelConfig(task string, numKeypoints int, labels []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task = task
	e.numKeypoints = numKeypoints
	e.labels = labels
}

func (e *Engine) labelFor(classID int) string {
	if classID >= 0 && classID < len(e.labels) {
		return e.labels[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}

// RunInference runs one frame through the model and returns detections
// mapped back to the original frame's coordinate space.
func (e *Engine) RunInference(rgb []byte, width, height int, confidenceThreshold float32) ([]types.Detection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() { e.latency.AddSample(time.Since(start)) }()

	model, lb := Letterbox(rgb, width, height, e.inputW, e.inputH)
	if err := e.net.WriteInput(e.inputName, model); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}
	if err := e.net.Run(30000); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	var raw []rawDetection
	var err error
	switch e.mode {
	case ModeNMS:
		raw, err = e.decodeNMS(confidenceThreshold)
	case ModeRawYOLO:
		raw, err = e.decodeRawYOLO(confidenceThreshold)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.mode == ModeRawYOLO {
		raw = classAgnosticNMS(raw, DefaultNMSIoUThreshold)
	}
	return e.toDetections(raw, lb, width, height), nil
}

func (e *Engine) toDetections(raw []rawDetection, lb LetterboxParams, origW, origH int) []types.Detection {
	out := make([]types.Detection, 0, len(raw))
	for _, r := range raw {
		x1, y1 := lb.ToOriginal(float32(r.box.X), float32(r.box.Y))
		x2, y2 := lb.ToOriginal(float32(r.box.X+r.box.Width), float32(r.box.Y+r.box.Height))
		box := geom.Rect{X: int(x1), Y: int(y1), Width: int(x2 - x1), Height: int(y2 - y1)}.ClampTo(origW, origH)
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		d := types.Detection{
			ClassID:    r.classID,
			ClassName:  e.labelFor(r.classID),
			Confidence: r.confidence,
			Box: types.BoundingBox{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height},
		}
		for _, kp := range r.keypoints {
			kx, ky := lb.ToOriginal(kp.x, kp.y)
			d.Keypoints = append(d.Keypoints, types.Keypoint{
				X:       clamp01(kx / float32(origW)),
				Y:       clamp01(ky / float32(origH)),
				Visible: kp.visible,
			})
		}
		out = append(out, d)
	}
	return out
}

// BatchFrame is one stream's contribution to a coordinator-submitted batch.
type BatchFrame struct {
	StreamID string
	RGB      []byte
	Width    int
	Height   int
}

// RunBatchInference decodes a batch of frames gathered by the Batch
// Coordinator. The accelerator's own scheduler interleaves the per-frame
// write/run/read sequence internally; at this layer a batch is simply N
// sequential RunInference calls, each taking the engine lock on its own, so
// other callers of the same engine may run between frames of one batch. The
// batch is not padded to a fixed size, and the threshold applies to every
// frame in it.
func (e *Engine) RunBatchInference(frames []BatchFrame, threshold float32) map[string][]types.Detection {
	results := make(map[string][]types.Detection, len(frames))
	for _, f := range frames {
		dets, err := e.RunInference(f.RGB, f.Width, f.Height, threshold)
		if err != nil {
			e.log.Warnf("batch inference failed for stream %s: %v", f.StreamID, err)
			results[f.StreamID] = nil
			continue
		}
		results[f.StreamID] = dets
	}
	return results
}

// AverageLatency returns the mean RunInference duration observed so far.
func (e *Engine) AverageLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency.Average()
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
