package inference

import (
	"fmt"

	"github.com/hailostream/eventd/internal/geom"
)

// decodeNMS decodes the on-chip NMS output tensor. The layout is a fixed
// dense grid, numClasses x maxBboxesPerClass x detParams, indexed as
// (cls*maxBboxesPerClass + i)*detParams -- there is no count field anywhere
// in the buffer; a class with fewer than maxBboxesPerClass real detections
// simply has its unused trailing slots score below threshold. detParams is
// documented as 5 (detection) or 5+3*numKeypoints (pose), but real HEFs
// occasionally disagree with that formula, so when the buffer's actual size
// implies a different per-slot width we trust the buffer over the
// documented constant (SPEC_FULL.md 9's accepted protocol quirk).
func (e *Engine) decodeNMS(threshold float32) ([]rawDetection, error) {
	total, err := e.net.ReadOutput(e.nmsOut.Name, e.nmsOut.Bytes/4)
	if err != nil {
		return nil, fmt.Errorf("read NMS output: %w", err)
	}
	numClasses := len(e.labels)
	if numClasses == 0 {
		numClasses = e.nmsOut.Depth
	}
	if numClasses == 0 {
		return nil, fmt.Errorf("NMS decode: unknown class count")
	}
	maxBboxesPerClass := e.nmsOut.MaxBboxesPerClass
	if maxBboxesPerClass <= 0 {
		maxBboxesPerClass = 100
	}

	documentedP := 5
	if e.task == "pose" {
		documentedP = 5 + 3*e.numKeypoints
	}

	return parseNMSGrid(total, numClasses, maxBboxesPerClass, documentedP, threshold, e.inputW, e.inputH), nil
}

// parseNMSGrid walks the fixed numClasses x maxBboxesPerClass grid and
// extracts every slot scoring at or above threshold. Pulled out of decodeNMS
// so the grid-walking/desync-avoidance logic is exercisable without a real
// accelerator network.
func parseNMSGrid(total []float32, numClasses, maxBboxesPerClass, documentedP int, threshold float32, inputW, inputH int) []rawDetection {
	totalSlots := numClasses * maxBboxesPerClass
	p := documentedP
	if totalSlots > 0 {
		if actual := len(total) / totalSlots; actual > 0 && actual != documentedP {
			p = actual
		}
	}

	var dets []rawDetection
	for classID := 0; classID < numClasses; classID++ {
		for i := 0; i < maxBboxesPerClass; i++ {
			offset := (classID*maxBboxesPerClass + i) * p
			if offset+p > len(total) {
				break
			}
			slot := total[offset : offset+p]
			score := slot[4]
			if score < threshold {
				continue
			}
			yMin, xMin, yMax, xMax := slot[0], slot[1], slot[2], slot[3]
			box := geom.Rect{
				X:      int(xMin * float32(inputW)),
				Y:      int(yMin * float32(inputH)),
				Width:  int((xMax - xMin) * float32(inputW)),
				Height: int((yMax - yMin) * float32(inputH)),
			}
			det := rawDetection{classID: classID, confidence: score, box: box}
			if p > 5 {
				nk := (p - 5) / 3
				for k := 0; k < nk; k++ {
					base := 5 + k*3
					if base+3 > len(slot) {
						break
					}
					det.keypoints = append(det.keypoints, rawKeypoint{
						x:       slot[base+0] * float32(inputW),
						y:       slot[base+1] * float32(inputH),
						visible: slot[base+2],
					})
				}
			}
			dets = append(dets, det)
		}
	}
	return dets
}
