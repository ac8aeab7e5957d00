package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopower/tranpice/pkg/device"
)

// interpSolve linearly interpolates between two full solution vectors,
// standing in for a real Newton solve at an arbitrary trial dt.
func interpSolve(lo, hi []float64, dt float64) SolveFunc {
	return func(trialDt float64) ([]float64, error) {
		f := trialDt / dt
		out := make([]float64, len(lo))
		for i := range out {
			out[i] = lo[i] + f*(hi[i]-lo[i])
		}
		return out, nil
	}
}

func TestScanNoCrossingReturnsOriginalStep(t *testing.T) {
	d := device.NewDiode("D1", []string{"1", "0"})
	d.SetNodes([]int{1, 0})

	prev := []float64{0, 0.1}
	next := []float64{0, 0.2} // both well below Vf=0.7, diode stays off

	det := NewDetector()
	dt, crossed, err := det.Scan([]device.Device{d}, prev, next, 1e-6, interpSolve(prev, next, 1e-6))

	require.NoError(t, err)
	assert.False(t, crossed)
	assert.Equal(t, 1e-6, dt)
}

func TestScanLocalizesDiodeTurnOn(t *testing.T) {
	d := device.NewDiode("D1", []string{"1", "0"})
	d.SetNodes([]int{1, 0})
	d.SetParam("vf", 0.7)

	dtStep := 1e-6
	prev := []float64{0, 0.0}
	next := []float64{0, 1.0} // crosses Vf=0.7 somewhere inside the step

	det := NewDetector()
	acceptedDt, crossed, err := det.Scan([]device.Device{d}, prev, next, dtStep, interpSolve(prev, next, dtStep))

	require.NoError(t, err)
	assert.True(t, crossed)
	assert.Greater(t, acceptedDt, 0.0)
	assert.LessOrEqual(t, acceptedDt, dtStep)
	// Crossing occurs at v1=0.7, i.e. fraction 0.7 of the step.
	assert.InDelta(t, 0.7*dtStep, acceptedDt, 0.01*dtStep)
}

func TestScanIgnoresNonSwitchingDevices(t *testing.T) {
	r := device.NewResistor("R1", []string{"1", "0"}, 1000)
	r.SetNodes([]int{1, 0})

	det := NewDetector()
	dt, crossed, err := det.Scan([]device.Device{r}, []float64{0, 0}, []float64{0, 5}, 1e-6, nil)

	require.NoError(t, err)
	assert.False(t, crossed)
	assert.Equal(t, 1e-6, dt)
}
