package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorAverage(t *testing.T) {
	var a Accumulator
	require.Equal(t, 0.0, a.Average())
	a.AddSample(2)
	a.AddSample(4)
	require.Equal(t, 3.0, a.Average())
	a.Reset()
	require.Equal(t, 0.0, a.Average())
}

func TestTimeAccumulatorAverage(t *testing.T) {
	var a TimeAccumulator
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(100 * time.Millisecond)
	a.AddSample(300 * time.Millisecond)
	require.Equal(t, 200*time.Millisecond, a.Average())
}

func TestFPSEstimatorRollsWindow(t *testing.T) {
	var f FPSEstimator
	start := time.Now()
	f.Tick(start)
	f.Tick(start.Add(500 * time.Millisecond))
	f.Tick(start.Add(1100 * time.Millisecond))
	require.InDelta(t, 2.0/1.1, f.Rate(), 0.05)
}
