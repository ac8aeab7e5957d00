package device

import "math"

// mu0 is vacuum permeability (H/m). SaturationScale does not use it: the
// multiplier it returns is the bare 1+dM/dH.
const mu0 = 4 * math.Pi * 1e-7

// JilesAthertonCore models a saturable magnetic core shared by the windings
// of a CoupledInductorGroup. It tracks hysteretic magnetization state and
// exposes the differential permeability used to scale the group's mutual
// inductance terms as the core approaches saturation.
type JilesAthertonCore struct {
	Ms    float64 // Saturation magnetization (A/m)
	alpha float64 // Domain coupling parameter
	a     float64 // Shape parameter
	c     float64 // Reversibility
	k     float64 // Pinning coefficient
	area  float64 // Cross-sectional area (m^2)
	len   float64 // Mean magnetic path length (m)
	tc    float64 // Curie temperature (K)
	beta  float64 // Temperature coefficient

	H    float64
	Hold float64
	M    float64
	Man  float64
	Mirr float64
	dMdH float64
}

func NewJilesAthertonCore() *JilesAthertonCore {
	return &JilesAthertonCore{
		Ms:    1.6e6,
		alpha: 1e-3,
		a:     1000.0,
		c:     0.1,
		k:     2000.0,
		tc:    1043.0,
		beta:  0.0,
		area:  1e-4,
		len:   0.1,
	}
}

func (core *JilesAthertonCore) SetParam(name string, value float64) {
	switch name {
	case "ms":
		core.Ms = value
	case "alpha":
		core.alpha = value
	case "a":
		core.a = value
	case "c":
		core.c = value
	case "k":
		core.k = value
	case "area":
		core.area = value
	case "len":
		core.len = value
	}
}

// Calculate advances the hysteresis state for applied field h at the given
// temperature and returns the total magnetization and its differential
// permeability dM/dH (used for the saturation scale factor 1+dM/dH).
func (core *JilesAthertonCore) Calculate(h float64, temp float64) (float64, float64) {
	dH := h - core.Hold
	if math.Abs(dH) < 1e-12 {
		return core.M, core.dMdH
	}

	mst := core.Ms * math.Pow((core.tc-temp)/core.tc, core.beta)
	he := h + core.alpha*core.M

	lan := func(x float64) float64 {
		if math.Abs(x) < 1e-6 {
			return x / 3.0
		}
		return 1.0/math.Tanh(x) - 1.0/x
	}
	core.Man = mst * lan(he/core.a)

	delta := 1.0
	if dH < 0 {
		delta = -1.0
	}

	denom := core.k*delta - core.alpha*(core.Man-core.Mirr)
	if math.Abs(denom) < 1e-12 {
		denom = 1e-12 * math.Copysign(1.0, denom)
	}
	dMirrdH := (core.Man - core.Mirr) / denom
	core.Mirr += dMirrdH * dH

	mold := core.M
	core.M = core.Mirr + core.c*(core.Man-core.Mirr)
	core.dMdH = (core.M - mold) / dH
	if math.IsNaN(core.dMdH) || math.IsInf(core.dMdH, 0) {
		core.dMdH = mst / core.a / 3.0
	}

	core.H = h
	core.Hold = h

	return core.M, core.dMdH
}

// SaturationScale returns the 1+dM/dH multiplier applied to the group's
// mutual inductance terms when the group's core is in saturable mode.
func (core *JilesAthertonCore) SaturationScale(ampereTurns, temp float64) float64 {
	_, dMdH := core.Calculate(ampereTurns/core.len, temp)
	return 1 + dMdH
}
