package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoupledInductorGroupValidateSPDRejectsOutOfRangeCoupling(t *testing.T) {
	l1 := NewInductor("L1", []string{"1", "0"}, 1e-3)
	l2 := NewInductor("L2", []string{"2", "0"}, 1e-3)

	kmat := [][]float64{{0, 1.5}, {1.5, 0}}
	g := NewCoupledInductorGroup("K1", []string{"L1", "L2"}, kmat)
	require.NoError(t, g.SetInductor(0, l1))
	require.NoError(t, g.SetInductor(1, l2))

	assert.Error(t, g.ValidateSPD())
}

func TestCoupledInductorGroupWithoutCoreHasUnitSaturationScale(t *testing.T) {
	l1 := NewInductor("L1", []string{"1", "0"}, 1e-3)
	l2 := NewInductor("L2", []string{"2", "0"}, 1e-3)

	kmat := [][]float64{{0, 0.9}, {0.9, 0}}
	g := NewCoupledInductorGroup("K1", []string{"L1", "L2"}, kmat)
	require.NoError(t, g.SetInductor(0, l1))
	require.NoError(t, g.SetInductor(1, l2))

	status := &CircuitStatus{Temp: 300.15}
	assert.Equal(t, 1.0, g.saturationScale(status))
}

func TestCoupledInductorGroupSaturableCoreScalesWithAmpereTurns(t *testing.T) {
	l1 := NewInductor("L1", []string{"1", "0"}, 1e-3)
	l2 := NewInductor("L2", []string{"2", "0"}, 1e-3)
	l1.Current0 = 2.0
	l2.Current0 = 1.0

	kmat := [][]float64{{0, 0.9}, {0.9, 0}}
	g := NewCoupledInductorGroup("K1", []string{"L1", "L2"}, kmat)
	require.NoError(t, g.SetInductor(0, l1))
	require.NoError(t, g.SetInductor(1, l2))
	g.SetTurns(0, 10)
	g.SetTurns(1, 5)

	core := NewJilesAthertonCore()
	g.SetSaturableCore(core)
	assert.True(t, g.Saturable)
	require.NotNil(t, g.Core)

	status := &CircuitStatus{Temp: 300.15}
	scale := g.saturationScale(status)

	wantAmpereTurns := 10.0*2.0 + 5.0*1.0
	wantCore := NewJilesAthertonCore()
	_, wantDMdH := wantCore.Calculate(wantAmpereTurns/wantCore.len, 300.15)
	assert.InDelta(t, 1+wantDMdH, scale, 1e-9)
}
