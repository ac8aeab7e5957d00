package device

import (
	"math"

	"github.com/gopower/tranpice/pkg/matrix"
	"github.com/gopower/tranpice/pkg/util"
)

type Capacitor struct {
	BaseDevice
	Voltage0 float64 // Current voltage
	Voltage1 float64 // Previous voltage
	current0 float64 // Current current
	current1 float64 // Previous current
	charge0  float64 // Current charge
	charge1  float64 // Previous charge
}

var _ TimeDependent = (*Capacitor)(nil)

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{
		BaseDevice: BaseDevice{
			Name:      name,
			Nodes:     make([]int, len(nodeNames)),
			NodeNames: nodeNames,
			Value:     value,
		},
	}
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) Stamp(matrix matrix.DeviceMatrix, status *CircuitStatus) error {
	n1, n2 := c.Nodes[0], c.Nodes[1]

	switch status.Mode {
	case ACAnalysis:
		omega := 2 * math.Pi * status.Frequency
		capConductanceReal := 0.0
		capConductanceImag := omega * c.Value // C * jω

		if n1 != 0 {
			matrix.AddComplexElement(n1, n1, capConductanceReal, capConductanceImag)
			if n2 != 0 {
				matrix.AddComplexElement(n1, n2, -capConductanceReal, -capConductanceImag)
			}
		}
		if n2 != 0 {
			matrix.AddComplexElement(n2, n2, capConductanceReal, capConductanceImag)
			if n1 != 0 {
				matrix.AddComplexElement(n2, n1, -capConductanceReal, -capConductanceImag)
			}
		}

	case OperatingPointAnalysis:
		// OP
		gmin := status.Gmin
		if gmin < 1e-12 {
			gmin = 1e-12
		}
		if n1 != 0 {
			matrix.AddElement(n1, n1, gmin)
			if n2 != 0 {
				matrix.AddElement(n1, n2, -gmin)
			}
		}
		if n2 != 0 {
			matrix.AddElement(n2, n2, gmin)
			if n1 != 0 {
				matrix.AddElement(n2, n1, -gmin)
			}
		}

	case TransientAnalysis:
		// Transient: BackwardEuler geq=C/dt, ceq=geq*v(t);
		// Trapezoidal geq=2C/dt, ceq=geq*v(t)+i(t).
		dt := status.TimeStep
		geq := util.CompanionCoeff(util.IntegrationMethod(status.Method), dt) * c.Value
		ceq := geq * c.Voltage0
		if util.IntegrationMethod(status.Method) == util.Trapezoidal {
			ceq += c.current0
		}

		if n1 != 0 {
			matrix.AddElement(n1, n1, geq)
			if n2 != 0 {
				matrix.AddElement(n1, n2, -geq)
			}
			matrix.AddRHS(n1, ceq)
		}
		if n2 != 0 {
			matrix.AddElement(n2, n2, geq)
			if n1 != 0 {
				matrix.AddElement(n2, n1, -geq)
			}
			matrix.AddRHS(n2, -ceq)
		}
	}

	return nil
}

func (c *Capacitor) SetTimeStep(dt float64, status *CircuitStatus) {}

// LoadState seeds a predictor estimate of the capacitor voltage ahead of the
// Newton solve; UpdateState commits the accepted values once the step
// converges.
func (c *Capacitor) LoadState(voltages []float64, status *CircuitStatus) {
	dt := status.TimeStep
	if dt <= 0 {
		return
	}
	c.Voltage0 = c.Voltage1 + (c.current1/c.Value)*dt
}

func (c *Capacitor) UpdateState(voltages []float64, status *CircuitStatus) {
	v1 := 0.0
	if c.Nodes[0] != 0 {
		v1 = voltages[c.Nodes[0]]
	}
	v2 := 0.0
	if c.Nodes[1] != 0 {
		v2 = voltages[c.Nodes[1]]
	}
	vd := v1 - v2

	if status.IntegMode == PredictMode {
		// Predict Mode - copy previous state
		c.charge0 = c.charge1
		c.current0 = c.current1
		c.Voltage0 = c.Voltage1
		return
	}

	// Normal Mode - shift history forward before recording the new point,
	// so Voltage0/current0 always mean "most recently accepted" and
	// Voltage1/current1 mean "one step before that" for the next stamp.
	c.Voltage1 = c.Voltage0
	c.current1 = c.current0
	c.charge1 = c.charge0

	c.Voltage0 = vd
	c.current0 = c.Value * (vd - c.Voltage1) / status.TimeStep
	c.charge0 = c.Value * vd
}
