package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompanionCoeffBackwardEuler(t *testing.T) {
	assert.InDelta(t, 1e6, CompanionCoeff(BackwardEuler, 1e-6), 1e-3)
}

func TestCompanionCoeffTrapezoidal(t *testing.T) {
	assert.InDelta(t, 2e6, CompanionCoeff(Trapezoidal, 1e-6), 1e-3)
}

func TestCompanionCoeffGuardsZeroStep(t *testing.T) {
	// dt<=0 must not divide by zero; CompanionCoeff substitutes a tiny floor.
	assert.NotPanics(t, func() {
		CompanionCoeff(BackwardEuler, 0)
	})
	assert.Greater(t, CompanionCoeff(BackwardEuler, 0), 0.0)
}
