package events

import (
	"sync"

	"github.com/hailostream/eventd/internal/geom"
	"github.com/hailostream/eventd/internal/types"
)

// Compositor evaluates ROI/Line/AngleViolation event settings against a
// frame's detections. It is stateless across frames: every Check* method is
// a pure function of (current settings, detections, frame dimensions).
type Compositor struct {
	mu       sync.RWMutex
	settings map[string]*EventSetting
	terminal []string
}

func NewCompositor() *Compositor {
	return &Compositor{settings: map[string]*EventSetting{}}
}

// UpdateSettings replaces the compositor's settings wholesale and returns the
// new terminal event id list. A parse failure leaves the compositor empty
// (SPEC_FULL.md 7: clear-then-parse, not merge-on-failure).
func (c *Compositor) UpdateSettings(data []byte) ([]string, error) {
	settings, err := ParseSettings(data)
	if err != nil {
		c.mu.Lock()
		c.settings = map[string]*EventSetting{}
		c.terminal = nil
		c.mu.Unlock()
		return nil, err
	}
	terminal := TerminalIDs(settings)
	c.mu.Lock()
	c.settings = settings
	c.terminal = terminal
	c.mu.Unlock()
	return terminal, nil
}

// Clear removes all settings.
func (c *Compositor) Clear() {
	c.mu.Lock()
	c.settings = map[string]*EventSetting{}
	c.terminal = nil
	c.mu.Unlock()
}

func (c *Compositor) snapshot() []*EventSetting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*EventSetting, 0, len(c.settings))
	for _, s := range c.settings {
		out = append(out, s)
	}
	return out
}

// CheckEvents tags each detection with the union of ROI settings whose
// polygon contains that detection's anchor point. Multiple ROIs may match.
func (c *Compositor) CheckEvents(detections []types.Detection, width, height int) {
	settings := c.snapshot()
	for i := range detections {
		det := &detections[i]
		box := geom.Rect{X: det.Box.X, Y: det.Box.Y, Width: det.Box.Width, Height: det.Box.Height}
		for _, s := range settings {
			if s.Type != TypeROI || len(s.Points) < 3 {
				continue
			}
			if !s.Target.Matches(det.ClassName) {
				continue
			}
			anchor := geom.AnchorPoint(box, width, height, s.DetectionPoint)
			if geom.Polygon(s.Points).Contains(anchor) {
				det.EventSettingIDs = append(det.EventSettingIDs, s.ID)
			}
		}
	}
}

const keypointVisibilityThreshold = 0.3

// CheckLineEvents evaluates every Line setting's proximity/danger-side rule
// against the frame's detections. This implements only per-frame proximity
// evaluation; true cross-frame line-crossing detection is out of scope
// (SPEC_FULL.md 1 Non-goals, DESIGN.md Module D).
func (c *Compositor) CheckLineEvents(detections []types.Detection, width, height int) map[string]*types.EventStatus {
	settings := c.snapshot()
	result := map[string]*types.EventStatus{}
	for _, s := range settings {
		if s.Type != TypeLine || len(s.Points) < 2 {
			continue
		}
		line := geom.Line{A: s.Points[0], B: s.Points[1]}
		status := &types.EventStatus{Status: types.StatusSafe}
		for _, det := range detections {
			if !s.Target.Matches(det.ClassName) || len(det.Keypoints) == 0 {
				continue
			}
			indices := s.Keypoints
			if len(indices) == 0 {
				indices = allKeypointIndices(len(det.Keypoints))
			}
			for _, idx := range indices {
				if idx < 0 || idx >= len(det.Keypoints) {
					continue
				}
				kp := det.Keypoints[idx]
				if kp.Visible < keypointVisibilityThreshold {
					continue
				}
				p := geom.NormPoint2D{X: kp.X, Y: kp.Y}
				level := lineStatusFor(line, p, s)
				if level > types.StatusSafe {
					status.Merge(types.EventStatus{Status: level, Labels: []string{det.ClassName}})
				}
			}
		}
		result[s.ID] = status
	}
	return result
}

func lineStatusFor(line geom.Line, p geom.NormPoint2D, s *EventSetting) types.EventStatusLevel {
	dist := line.Distance(p)
	if s.Direction == DirectionBoth {
		if dist < s.WarningDistance {
			return types.StatusWarning
		}
		return types.StatusSafe
	}
	side := line.Side(p)
	dangerSide := (s.Direction == DirectionA2B && side > 0) || (s.Direction == DirectionB2A && side < 0)
	if dangerSide {
		return types.StatusDanger
	}
	if dist < s.WarningDistance {
		return types.StatusWarning
	}
	return types.StatusSafe
}

func allKeypointIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

const angleKeypointVisibilityThreshold = 0.3

// CheckAngleViolationEvents evaluates every AngleViolation setting: the
// angle between a detection's keypoint-1->keypoint-2 vector and the
// setting's line, folded to acute, triggers Danger when it exceeds the
// configured threshold.
func (c *Compositor) CheckAngleViolationEvents(detections []types.Detection) map[string]*types.EventStatus {
	settings := c.snapshot()
	result := map[string]*types.EventStatus{}
	for _, s := range settings {
		if s.Type != TypeAngleViolation || len(s.Points) < 2 {
			continue
		}
		lineVec := geom.NormPoint2D{X: s.Points[1].X - s.Points[0].X, Y: s.Points[1].Y - s.Points[0].Y}
		status := &types.EventStatus{Status: types.StatusSafe}
		for _, det := range detections {
			if !s.Target.Matches(det.ClassName) || len(det.Keypoints) < 3 {
				continue
			}
			kp1, kp2 := det.Keypoints[1], det.Keypoints[2]
			if kp1.Visible < angleKeypointVisibilityThreshold || kp2.Visible < angleKeypointVisibilityThreshold {
				continue
			}
			kpVec := geom.NormPoint2D{X: kp2.X - kp1.X, Y: kp2.Y - kp1.Y}
			theta := geom.AngleBetweenDegrees(kpVec, lineVec)
			if theta > s.AngleThreshold {
				status.Merge(types.EventStatus{Status: types.StatusDanger, Labels: []string{det.ClassName}})
			}
		}
		result[s.ID] = status
	}
	return result
}
