package inference

import (
	"sort"

	"github.com/hailostream/eventd/internal/geom"
)

// rawDetection is a decode-time intermediate, in model-input pixel space,
// before the inverse-letterbox mapping back to the original frame.
type rawDetection struct {
	classID    int
	confidence float32
	box        geom.Rect
	keypoints  []rawKeypoint
}

type rawKeypoint struct {
	x, y, visible float32
}

// classAgnosticNMS sorts by confidence descending and greedily suppresses
// any remaining box whose IoU with a kept box exceeds iouThreshold.
func classAgnosticNMS(dets []rawDetection, iouThreshold float32) []rawDetection {
	if len(dets) <= 1 {
		return dets
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].confidence > dets[j].confidence })

	keep := make([]rawDetection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		keep = append(keep, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] {
				continue
			}
			if dets[i].box.IOU(dets[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// DefaultNMSIoUThreshold is applied to the raw-YOLO decode path; NMS-mode
// output has already been suppressed on-chip.
const DefaultNMSIoUThreshold = 0.45
