package inference

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/hailostream/eventd/internal/geom"
)

const dflBins = 16
const dflTemperature = 5.0

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}

// looksLikeLogit applies the spec's heuristic for deciding whether a raw
// class/visibility value still needs a sigmoid activation applied.
func looksLikeLogit(v float32) bool {
	return v < 0 || v > 1 || v < -10 || v > 10
}

func activate(v float32) float32 {
	if looksLikeLogit(v) {
		return sigmoid(v)
	}
	return v
}

// decodeRawYOLO decodes the 9-output multi-scale (P3/P4/P5) pose head: each
// scale contributes a 64-channel DFL bbox tensor, a K-channel class tensor,
// and a 3*numKeypoints keypoint tensor.
func (e *Engine) decodeRawYOLO(threshold float32) ([]rawDetection, error) {
	var all []rawDetection
	for _, sc := range e.scales {
		dets, err := e.decodeScale(sc, threshold)
		if err != nil {
			return nil, err
		}
		all = append(all, dets...)
	}
	return all, nil
}

func (e *Engine) decodeScale(sc scaleOutputs, threshold float32) ([]rawDetection, error) {
	gridW := sc.dfl.Width
	gridH := sc.dfl.Height

	dfl, err := e.net.ReadOutput(sc.dfl.Name, sc.dfl.Bytes/4)
	if err != nil {
		return nil, fmt.Errorf("read dfl output %s: %w", sc.dfl.Name, err)
	}
	classes, err := e.net.ReadOutput(sc.class.Name, sc.class.Bytes/4)
	if err != nil {
		return nil, fmt.Errorf("read class output %s: %w", sc.class.Name, err)
	}
	numClasses := sc.class.Depth
	if numClasses == 0 && len(e.labels) > 0 {
		numClasses = len(e.labels)
	}

	var kpts []float32
	numKpt := 0
	if sc.kpt.Depth > 0 {
		kpts, err = e.net.ReadOutput(sc.kpt.Name, sc.kpt.Bytes/4)
		if err != nil {
			return nil, fmt.Errorf("read keypoint output %s: %w", sc.kpt.Name, err)
		}
		if e.numKeypoints > 0 {
			numKpt = e.numKeypoints
		} else if numClasses > 0 {
			numKpt = sc.kpt.Depth / 3
		}
	}

	var out []rawDetection
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			classBase := (gy*gridW + gx) * numClasses
			if classBase+numClasses > len(classes) {
				continue
			}
			bestClass, bestScore := -1, float32(-1)
			for c := 0; c < numClasses; c++ {
				score := activate(classes[classBase+c])
				if score > bestScore {
					bestScore = score
					bestClass = c
				}
			}
			if bestClass < 0 || bestScore < threshold {
				continue
			}

			dflBase := (gy*gridW + gx) * 64
			if dflBase+64 > len(dfl) {
				continue
			}
			l := dflExpectation(dfl[dflBase+0 : dflBase+16])
			t := dflExpectation(dfl[dflBase+16 : dflBase+32])
			r := dflExpectation(dfl[dflBase+32 : dflBase+48])
			b := dflExpectation(dfl[dflBase+48 : dflBase+64])

			anchorX := (float32(gx) + 0.5) * float32(sc.stride)
			anchorY := (float32(gy) + 0.5) * float32(sc.stride)
			x1 := anchorX - l*float32(sc.stride)
			y1 := anchorY - t*float32(sc.stride)
			x2 := anchorX + r*float32(sc.stride)
			y2 := anchorY + b*float32(sc.stride)

			box := geom.Rect{X: int(x1), Y: int(y1), Width: int(x2 - x1), Height: int(y2 - y1)}
			if box.Width <= 0 || box.Height <= 0 {
				continue
			}
			if x2 <= 0 || y2 <= 0 || x1 >= float32(e.inputW) || y1 >= float32(e.inputH) {
				continue
			}

			det := rawDetection{classID: bestClass, confidence: bestScore, box: box}
			if numKpt > 0 {
				kptBase := (gy*gridW + gx) * numKpt * 3
				for k := 0; k < numKpt; k++ {
					base := kptBase + k*3
					if base+3 > len(kpts) {
						break
					}
					rawX, rawY, rawV := kpts[base], kpts[base+1], kpts[base+2]
					kx := (float32(gx) + rawX*2) * float32(sc.stride)
					ky := (float32(gy) + rawY*2) * float32(sc.stride)
					det.keypoints = append(det.keypoints, rawKeypoint{x: kx, y: ky, visible: activate(rawV)})
				}
			}
			out = append(out, det)
		}
	}
	return out, nil
}

// dflExpectation computes the softmax-weighted (temperature 5) expectation
// of bin index over a 16-bin distribution, per SPEC_FULL.md 4.B.
func dflExpectation(bins []float32) float32 {
	maxV := bins[0]
	for _, v := range bins[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var weights [dflBins]float32
	var sum float32
	for i, v := range bins {
		w := math32.Exp((v - maxV) * dflTemperature)
		weights[i] = w
		sum += w
	}
	if sum == 0 {
		return 0
	}
	var expectation float32
	for i, w := range weights {
		expectation += (w / sum) * float32(i)
	}
	return expectation
}
