package geom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolygonContains(t *testing.T) {
	poly := Polygon{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9}}
	require.True(t, poly.Contains(NormPoint2D{X: 0.5, Y: 0.5}))
	require.False(t, poly.Contains(NormPoint2D{X: 0.05, Y: 0.5}))
}

func TestAnchorPointCenterBottom(t *testing.T) {
	box := Rect{X: 10, Y: 10, Width: 20, Height: 30}
	p := AnchorPoint(box, 100, 100, AnchorCenterBottom)
	require.InDelta(t, 0.2, p.X, 1e-6)
	require.InDelta(t, 0.4, p.Y, 1e-6)
}

func TestLineSideAndDistance(t *testing.T) {
	l := Line{A: NormPoint2D{X: 0.5, Y: 0.0}, B: NormPoint2D{X: 0.5, Y: 1.0}}
	p := NormPoint2D{X: 0.55, Y: 0.5}
	require.InDelta(t, -0.05, l.Side(p), 1e-6)
	require.InDelta(t, 0.05, l.Distance(p), 1e-6)
}

func TestAngleBetweenDegreesFoldsToAcute(t *testing.T) {
	v1 := NormPoint2D{X: 1, Y: 0}
	v2 := NormPoint2D{X: -1, Y: 0.001}
	theta := AngleBetweenDegrees(v1, v2)
	require.LessOrEqual(t, theta, float32(90))
}

func TestRectIOU(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rect{X: 5, Y: 5, Width: 10, Height: 10}
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)
}
