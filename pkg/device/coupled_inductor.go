package device

import (
	"math"

	"github.com/gopower/tranpice/pkg/matrix"
	"github.com/gopower/tranpice/pkg/simerr"
	"github.com/gopower/tranpice/pkg/util"
)

// CoupledInductorGroup generalizes the donor's two-winding Mutual device to
// an arbitrary number of windings sharing a symmetric coupling matrix K
// (kij in [-1,1]), stamping every pairwise mutual term each step. Windings
// carry indices into the group rather than pointers to each other, avoiding
// cyclic references between devices.
type CoupledInductorGroup struct {
	BaseDevice
	inductors []InductorComponent
	names     []string
	turns     []int
	k         [][]float64 // symmetric coupling matrix, k[i][i] ignored

	// Saturable enables a shared Jiles-Atherton core: the mutual terms this
	// group stamps are scaled by the core's 1+dM/dH factor computed from the
	// ampere-turns sum across windings. Each winding's self inductance is
	// stamped by its own Inductor and is not scaled.
	Saturable bool
	Core      *JilesAthertonCore
}

func NewCoupledInductorGroup(name string, indNames []string, k [][]float64) *CoupledInductorGroup {
	return &CoupledInductorGroup{
		BaseDevice: BaseDevice{Name: name},
		names:      indNames,
		k:          k,
		turns:      make([]int, len(indNames)),
		inductors:  make([]InductorComponent, len(indNames)),
	}
}

func (g *CoupledInductorGroup) GetType() string { return "K" }

func (g *CoupledInductorGroup) SetInductor(index int, ind InductorComponent) error {
	if index < 0 || index >= len(g.inductors) {
		return &simerr.InvalidParameterError{Device: g.Name, Reason: "coupled inductor index out of range"}
	}
	g.inductors[index] = ind
	if g.turns[index] == 0 {
		g.turns[index] = 1
	}
	return nil
}

func (g *CoupledInductorGroup) SetTurns(index, turns int) {
	if index >= 0 && index < len(g.turns) {
		g.turns[index] = turns
	}
}

// SetSaturableCore attaches a shared Jiles-Atherton core, switching the
// group's Stamp from a fixed linear coupling to one scaled each step by the
// core's differential permeability at the present ampere-turns.
func (g *CoupledInductorGroup) SetSaturableCore(core *JilesAthertonCore) {
	g.Saturable = true
	g.Core = core
}

func (g *CoupledInductorGroup) GetInductors() []InductorComponent { return g.inductors }
func (g *CoupledInductorGroup) GetInductorNames() []string        { return g.names }
func (g *CoupledInductorGroup) GetNumInductors() int              { return len(g.inductors) }

func (g *CoupledInductorGroup) coeff(i, j int) float64 {
	if i == j {
		return 1
	}
	return g.k[i][j]
}

// ValidateSPD checks that the coupling coefficients produce a symmetric
// positive-definite effective inductance matrix L_eff (L_eff[i][j] =
// k[i][j]*sqrt(Li*Lj), diagonal Li), via Cholesky decomposition. Any pivot
// at or below zero means the coupling is non-physical (e.g. |k|>1, or an
// inconsistent combination across windings).
func (g *CoupledInductorGroup) ValidateSPD() error {
	n := len(g.inductors)
	if n < 2 {
		return &simerr.InvalidCouplingError{Group: g.Name, Reason: "at least two windings are required"}
	}
	L := make([]float64, n)
	for i, ind := range g.inductors {
		if ind == nil {
			return &simerr.InvalidCouplingError{Group: g.Name, Reason: "unresolved winding reference"}
		}
		L[i] = ind.GetValue()
	}

	leff := make([][]float64, n)
	for i := range leff {
		leff[i] = make([]float64, n)
		for j := range leff[i] {
			if i == j {
				leff[i][j] = L[i]
				continue
			}
			kij := g.coeff(i, j)
			if kij < -1 || kij > 1 {
				return &simerr.InvalidCouplingError{Group: g.Name, Reason: "coupling coefficient out of [-1,1]"}
			}
			leff[i][j] = kij * math.Sqrt(L[i]*L[j])
		}
	}

	// Cholesky: leff = C*C^T, bailing out on a non-positive pivot.
	c := make([][]float64, n)
	for i := range c {
		c[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := leff[i][j]
			for p := 0; p < j; p++ {
				sum -= c[i][p] * c[j][p]
			}
			if i == j {
				if sum <= 0 {
					return &simerr.InvalidCouplingError{Group: g.Name, Reason: "effective inductance matrix is not positive definite"}
				}
				c[i][j] = math.Sqrt(sum)
			} else {
				c[i][j] = sum / c[j][j]
			}
		}
	}
	return nil
}

func (g *CoupledInductorGroup) saturationScale(status *CircuitStatus) float64 {
	if !g.Saturable || g.Core == nil {
		return 1
	}
	ampereTurns := 0.0
	for i, ind := range g.inductors {
		turns := g.turns[i]
		if turns == 0 {
			turns = 1
		}
		ampereTurns += float64(turns) * ind.GetCurrent()
	}
	return g.Core.SaturationScale(ampereTurns, status.Temp)
}

func (g *CoupledInductorGroup) branchIndex(ind InductorComponent) int {
	if l, ok := ind.(*Inductor); ok {
		return l.BranchIndex()
	}
	return 0
}

// Stamp adds the mutual-coupling companion terms for every winding pair,
// generalized to N windings (the donor only ever coupled exactly two).
// Meq = sat * k_ij*sqrt(Li*Lj) * CompanionCoeff(method,dt).
func (g *CoupledInductorGroup) Stamp(m matrix.DeviceMatrix, status *CircuitStatus) error {
	n := len(g.inductors)
	if n < 2 {
		return &simerr.InvalidCircuitError{Reason: "coupled inductor group " + g.Name + " requires at least two windings"}
	}
	if status.Mode != TransientAnalysis {
		return nil
	}
	dt := status.TimeStep
	if dt <= 0 {
		return nil
	}

	sat := g.saturationScale(status)

	type winding struct {
		branch  int
		value   float64
		current float64
	}
	w := make([]winding, n)
	for i, ind := range g.inductors {
		w[i] = winding{branch: g.branchIndex(ind), value: ind.GetValue(), current: ind.GetCurrent()}
	}

	coeffMag := util.CompanionCoeff(util.IntegrationMethod(status.Method), dt)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			Mij := sat * g.coeff(i, j) * math.Sqrt(w[i].value*w[j].value)
			Meq := coeffMag * Mij

			m.AddElement(w[i].branch, w[j].branch, -Meq)
			m.AddElement(w[j].branch, w[i].branch, -Meq)

			m.AddRHS(w[i].branch, -Meq*w[j].current)
			m.AddRHS(w[j].branch, -Meq*w[i].current)
		}
	}
	return nil
}

func (g *CoupledInductorGroup) StampAC(m matrix.DeviceMatrix, status *CircuitStatus) error {
	n := len(g.inductors)
	if n < 2 {
		return &simerr.InvalidCircuitError{Reason: "coupled inductor group " + g.Name + " requires at least two windings"}
	}
	omega := 2 * math.Pi * status.Frequency

	nodes := make([][2]int, n)
	L := make([]float64, n)
	for i, ind := range g.inductors {
		nodes[i] = [2]int{ind.GetNodes()[0], ind.GetNodes()[1]}
		L[i] = ind.GetValue()
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			Mij := g.coeff(i, j) * math.Sqrt(L[i]*L[j])
			if Mij == 0 {
				continue
			}
			yImag := omega * Mij
			stampCross := func(a, b [2]int, sign float64) {
				if a[0] > 0 && b[0] > 0 {
					m.AddComplexElement(a[0], b[0], 0, sign*yImag)
				}
				if a[0] > 0 && b[1] > 0 {
					m.AddComplexElement(a[0], b[1], 0, -sign*yImag)
				}
				if a[1] > 0 && b[0] > 0 {
					m.AddComplexElement(a[1], b[0], 0, -sign*yImag)
				}
				if a[1] > 0 && b[1] > 0 {
					m.AddComplexElement(a[1], b[1], 0, sign*yImag)
				}
			}
			stampCross(nodes[i], nodes[j], 1)
			stampCross(nodes[j], nodes[i], 1)
		}
	}
	return nil
}
