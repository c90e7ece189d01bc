package inference

import (
	"testing"

	"github.com/hailostream/eventd/internal/geom"
	"github.com/stretchr/testify/require"
)

func rectOf(x, y, w, h int) geom.Rect {
	return geom.Rect{X: x, Y: y, Width: w, Height: h}
}

func TestDflExpectationPeaksAtBin(t *testing.T) {
	bins := make([]float32, dflBins)
	bins[8] = 10
	got := dflExpectation(bins)
	require.InDelta(t, 8.0, float64(got), 0.05)
}

func TestLetterboxSquareIntoWide(t *testing.T) {
	src := make([]byte, 10*10*3)
	dst, lb := Letterbox(src, 10, 10, 20, 10)
	require.Len(t, dst, 20*10*3)
	require.InDelta(t, 1.0, float64(lb.Scale), 1e-6)
	require.InDelta(t, 5.0, float64(lb.PadX), 1e-6)
	require.InDelta(t, 0.0, float64(lb.PadY), 1e-6)
}

func TestLetterboxToOriginalInverts(t *testing.T) {
	lb := LetterboxParams{Scale: 2, PadX: 10, PadY: 0, SrcW: 50, SrcH: 50, DstW: 110, DstH: 100}
	ox, oy := lb.ToOriginal(10+2*25, 2*25)
	require.InDelta(t, 25.0, float64(ox), 1e-3)
	require.InDelta(t, 25.0, float64(oy), 1e-3)
}

func TestActivateLeavesProbabilityAlone(t *testing.T) {
	require.InDelta(t, 0.7, float64(activate(0.7)), 1e-6)
}

func TestActivateAppliesSigmoidToLogit(t *testing.T) {
	got := activate(5)
	require.Greater(t, got, float32(0.9))
}

func TestParseNMSGridFixedStrideNoCountField(t *testing.T) {
	// 2 classes x 3 slots x 5 params, dense grid, no count prefix anywhere.
	// class 0: one real box above threshold, two empty (score 0) slots.
	// class 1: one real box above threshold.
	buf := make([]float32, 2*3*5)
	slot := func(cls, i int, yMin, xMin, yMax, xMax, score float32) {
		base := (cls*3 + i) * 5
		buf[base+0], buf[base+1], buf[base+2], buf[base+3], buf[base+4] = yMin, xMin, yMax, xMax, score
	}
	slot(0, 0, 0.1, 0.1, 0.5, 0.5, 0.9)
	slot(1, 0, 0.2, 0.2, 0.6, 0.6, 0.8)

	dets := parseNMSGrid(buf, 2, 3, 5, 0.25, 100, 100)
	require.Len(t, dets, 2)
	require.Equal(t, 0, dets[0].classID)
	require.InDelta(t, 0.9, float64(dets[0].confidence), 1e-6)
	require.Equal(t, rectOf(10, 10, 40, 40), dets[0].box)
	require.Equal(t, 1, dets[1].classID)
}

func TestParseNMSGridDerivesStrideFromBufferSizeWhenDocumentedDisagrees(t *testing.T) {
	// Buffer actually carries 7 floats/slot (pose, 0 keypoints miscounted as
	// documented 5), but the real per-slot width implied by the buffer is 7.
	numClasses, maxBboxesPerClass, actualP := 1, 2, 7
	buf := make([]float32, numClasses*maxBboxesPerClass*actualP)
	base := 0 // class 0, slot 0
	buf[base+0], buf[base+1], buf[base+2], buf[base+3], buf[base+4] = 0.0, 0.0, 0.2, 0.2, 0.9
	buf[base+5], buf[base+6] = 0.3, 0.4 // trailing floats the documented stride of 5 would desync on

	second := actualP // class 0, slot 1 -- must remain at a 7-wide offset
	buf[second+4] = 0.95

	dets := parseNMSGrid(buf, numClasses, maxBboxesPerClass, 5, 0.5, 100, 100)
	require.Len(t, dets, 2)
	require.InDelta(t, 0.9, float64(dets[0].confidence), 1e-6)
	require.InDelta(t, 0.95, float64(dets[1].confidence), 1e-6)
}

func TestClassAgnosticNMSSuppressesOverlap(t *testing.T) {
	dets := []rawDetection{
		{classID: 0, confidence: 0.9, box: rectOf(0, 0, 10, 10)},
		{classID: 1, confidence: 0.8, box: rectOf(1, 1, 10, 10)},
		{classID: 2, confidence: 0.7, box: rectOf(50, 50, 10, 10)},
	}
	kept := classAgnosticNMS(dets, 0.45)
	require.Len(t, kept, 2)
}
