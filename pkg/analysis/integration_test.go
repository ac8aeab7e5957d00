package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopower/tranpice/pkg/circuit"
	"github.com/gopower/tranpice/pkg/device"
	"github.com/gopower/tranpice/pkg/netlist"
)

func buildCircuit(t *testing.T, src string) (*circuit.Circuit, *netlist.Circuit) {
	t.Helper()
	ckt, err := netlist.Parse(src)
	require.NoError(t, err)

	c := circuit.NewWithComplex(ckt.Title, false)
	c.SetModels(ckt.Models)
	require.NoError(t, c.AssignNodeBranchMaps(ckt.Elements))
	require.NoError(t, c.Validate(ckt.Elements))
	c.CreateMatrix()
	require.NoError(t, c.SetupDevices(ckt.Elements))
	return c, ckt
}

func TestResistorDividerOperatingPoint(t *testing.T) {
	src := "* divider\n" +
		"V1 1 0 DC 10\n" +
		"R1 1 2 1k\n" +
		"R2 2 0 1k\n" +
		".op\n"

	c, _ := buildCircuit(t, src)

	op := NewOP()
	require.NoError(t, op.Setup(c))
	require.NoError(t, op.Execute())

	results := op.GetResults()
	require.Contains(t, results, "V(2)")
	assert.InDelta(t, 5.0, results["V(2)"][0], 1e-3)
}

func TestRCStepResponseApproachesFinalValue(t *testing.T) {
	src := "* rc step\n" +
		"V1 1 0 DC 5\n" +
		"R1 1 2 1k\n" +
		"C1 2 0 1u\n" +
		".tran 10u 5m\n"

	c, ckt := buildCircuit(t, src)

	tr := NewTransient(ckt.TranParam.TStart, ckt.TranParam.TStop, ckt.TranParam.TStep, ckt.TranParam.TMax, false)
	tr.SetMethod(device.BE)
	require.NoError(t, tr.Setup(c))
	require.NoError(t, tr.Execute())

	results := tr.GetResults()
	require.Contains(t, results, "V(2)")
	vc := results["V(2)"]
	require.NotEmpty(t, vc)

	// RC = 1ms; by t=5ms (5 tau) the capacitor should be within ~1% of the
	// 5V source, monotonically rising from zero with no overshoot.
	final := vc[len(vc)-1]
	assert.InDelta(t, 5.0, final, 0.1)

	for i := 1; i < len(vc); i++ {
		assert.GreaterOrEqual(t, vc[i]+1e-9, vc[i-1], "capacitor voltage must rise monotonically under a DC step")
	}
}

func TestDiodeHalfWaveRectifierClampsNegativeSwing(t *testing.T) {
	src := "* half wave rectifier\n" +
		".model D1N4148 D(vf=0.7 ron=0.568 roff=1e9)\n" +
		"V1 1 0 SIN(0 10 1k)\n" +
		"D1 1 2 D1N4148\n" +
		"R1 2 0 1k\n" +
		".tran 20u 2m\n"

	c, ckt := buildCircuit(t, src)

	tr := NewTransient(ckt.TranParam.TStart, ckt.TranParam.TStop, ckt.TranParam.TStep, ckt.TranParam.TMax, false)
	require.NoError(t, tr.Setup(c))
	require.NoError(t, tr.Execute())

	results := tr.GetResults()
	require.Contains(t, results, "V(2)")
	vout := results["V(2)"]

	minV := math.Inf(1)
	for _, v := range vout {
		if v < minV {
			minV = v
		}
	}
	// A rectifying diode should prevent the output from swinging meaningfully
	// negative even though the source swings to -10V.
	assert.Greater(t, minV, -0.5)
}
