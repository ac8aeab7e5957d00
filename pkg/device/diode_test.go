package device

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gopower/tranpice/pkg/matrix"
)

func TestDiodeLatchRegion(t *testing.T) {
	d := NewDiode("D1", []string{"1", "0"})
	d.SetNodes([]int{1, 0})
	d.SetParam("vf", 0.7)

	d.LatchRegion([]float64{0, 0.2}) // below Vf
	assert.Equal(t, diodeOff, d.region)

	d.LatchRegion([]float64{0, 1.0}) // above Vf
	assert.Equal(t, diodeOn, d.region)
}

func TestDiodeEventFunctionZeroAtForwardVoltage(t *testing.T) {
	d := NewDiode("D1", []string{"1", "0"})
	d.SetNodes([]int{1, 0})
	d.SetParam("vf", 0.7)

	g := d.EventFunctions([]float64{0, 0.7})
	assert.Len(t, g, 1)
	assert.InDelta(t, 0.0, g[0], 1e-12)
}

func TestDiodeStampOffRegionIsHighImpedance(t *testing.T) {
	d := NewDiode("D1", []string{"1", "0"})
	d.SetNodes([]int{1, 0})
	d.SetParam("vf", 0.7)
	d.SetParam("roff", 1e9)
	d.region = diodeOff
	d.vd = 0.1

	m := matrix.NewMatrix(1, false)
	require := assert.New(t)
	require.NoError(d.Stamp(m, &CircuitStatus{}))

	g := m.GetDiagElement(1)
	require.NotNil(g)
	require.InDelta(1.0/1e9, g.Real, 1e-15)
}

func TestDiodePriorityOrdersBeforeMOSFET(t *testing.T) {
	d := NewDiode("D1", []string{"1", "0"})
	m := NewMosfet("M1", []string{"1", "2", "0"})
	assert.Less(t, d.Priority(), m.Priority())
}
