package netlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopower/tranpice/pkg/device"
)

func TestParseValueEngineeringSuffixes(t *testing.T) {
	cases := map[string]float64{
		"1k":   1e3,
		"2.2u": 2.2e-6,
		"10n":  10e-9,
		"1meg": 1e6,
		"5":    5,
	}
	for in, want := range cases {
		got, err := ParseValue(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, want*1e-9+1e-15, in)
	}
}

func TestParseResistorDivider(t *testing.T) {
	netlist := "* divider\n" +
		"V1 1 0 DC 10\n" +
		"R1 1 2 1k\n" +
		"R2 2 0 1k\n" +
		".op\n"

	ckt, err := Parse(netlist)
	require.NoError(t, err)
	assert.Equal(t, AnalysisOP, ckt.Analysis)
	require.Len(t, ckt.Elements, 3)
	assert.Equal(t, "V", ckt.Elements[0].Type)
	assert.Equal(t, "R", ckt.Elements[1].Type)
	assert.InDelta(t, 1000, ckt.Elements[1].Value, 1e-9)
}

func TestParseModelDirective(t *testing.T) {
	netlist := "* diode\n" +
		".model D1N4148 D(vf=0.7 ron=0.568 roff=1e9)\n" +
		"D1 1 0 D1N4148\n" +
		".op\n"

	ckt, err := Parse(netlist)
	require.NoError(t, err)
	require.Contains(t, ckt.Models, "D1N4148")
	model := ckt.Models["D1N4148"]
	assert.Equal(t, "D", model.Type)
	assert.InDelta(t, 0.7, model.Params["vf"], 1e-9)
	assert.InDelta(t, 0.568, model.Params["ron"], 1e-9)
	assert.InDelta(t, 1e9, model.Params["roff"], 1)
}

func TestParseTransientDirective(t *testing.T) {
	netlist := "* rc\n" +
		"V1 1 0 DC 5\n" +
		"R1 1 2 1k\n" +
		"C1 2 0 1u\n" +
		".tran 1u 1m\n"

	ckt, err := Parse(netlist)
	require.NoError(t, err)
	assert.Equal(t, AnalysisTRAN, ckt.Analysis)
	assert.InDelta(t, 1e-6, ckt.TranParam.TStep, 1e-12)
	assert.InDelta(t, 1e-3, ckt.TranParam.TStop, 1e-9)
}

func TestParseElementRejectsTooFewFields(t *testing.T) {
	_, err := Parse("* bad\nR1 1\n.op\n")
	assert.Error(t, err)
}

func TestParseCoupledInductorWithoutCore(t *testing.T) {
	netlist := "* transformer\n" +
		"L1 1 0 1m\n" +
		"L2 2 0 1m\n" +
		"K1 L1 L2 0.98\n" +
		".op\n"

	ckt, err := Parse(netlist)
	require.NoError(t, err)

	var k *Element
	for i := range ckt.Elements {
		if ckt.Elements[i].Type == "K" {
			k = &ckt.Elements[i]
		}
	}
	require.NotNil(t, k)
	assert.Equal(t, []string{"L1", "L2"}, k.Nodes)
	assert.InDelta(t, 0.98, k.Value, 1e-9)
	assert.NotContains(t, k.Params, "core")

	dev, err := CreateDevice(*k, nil, ckt.Models)
	require.NoError(t, err)
	group, ok := dev.(*device.CoupledInductorGroup)
	require.True(t, ok)
	assert.False(t, group.Saturable)
}

func TestParseCoupledInductorWithSaturableCore(t *testing.T) {
	netlist := "* saturable transformer\n" +
		".model CORE1 CORE(ms=1.2e6 a=800 alpha=2e-3 c=0.2 k=1500 area=2e-4 len=0.08)\n" +
		"L1 1 0 1m\n" +
		"L2 2 0 1m\n" +
		"K1 L1 L2 0.97 CORE1\n" +
		".tran 1u 1m\n"

	ckt, err := Parse(netlist)
	require.NoError(t, err)
	require.Contains(t, ckt.Models, "CORE1")
	assert.Equal(t, "CORE", ckt.Models["CORE1"].Type)

	var k *Element
	for i := range ckt.Elements {
		if ckt.Elements[i].Type == "K" {
			k = &ckt.Elements[i]
		}
	}
	require.NotNil(t, k)
	assert.Equal(t, []string{"L1", "L2"}, k.Nodes)
	assert.InDelta(t, 0.97, k.Value, 1e-9)
	assert.Equal(t, "CORE1", k.Params["core"])

	dev, err := CreateDevice(*k, nil, ckt.Models)
	require.NoError(t, err)
	group, ok := dev.(*device.CoupledInductorGroup)
	require.True(t, ok)
	assert.True(t, group.Saturable)
	require.NotNil(t, group.Core)
}

func TestParseCoupledInductorUnknownCoreFails(t *testing.T) {
	netlist := "* bad core\n" +
		"L1 1 0 1m\n" +
		"L2 2 0 1m\n" +
		"K1 L1 L2 0.97 MISSING\n" +
		".tran 1u 1m\n"

	ckt, err := Parse(netlist)
	require.NoError(t, err)

	var k *Element
	for i := range ckt.Elements {
		if ckt.Elements[i].Type == "K" {
			k = &ckt.Elements[i]
		}
	}
	require.NotNil(t, k)

	_, err = CreateDevice(*k, nil, ckt.Models)
	assert.Error(t, err)
}
