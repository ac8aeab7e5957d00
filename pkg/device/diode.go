package device

import (
	"fmt"

	"github.com/gopower/tranpice/pkg/matrix"
)

const (
	diodeOff = iota
	diodeOn
)

// Diode is a two-region piecewise-linear switch: OFF behaves as a Gmin
// leakage shunt, ON as a forward drop Vf in series with Ron. A continuous
// Shockley variant is not used here so that the two regions match the
// event detector's sign convention exactly in both asymptotes.
type Diode struct {
	BaseDevice
	Vf   float64 // Forward voltage drop
	Ron  float64 // On-state series resistance
	Roff float64 // Off-state resistance (default 1e12 Ω, i.e. 1/Gmin)

	region int // diodeOff or diodeOn, latched between event checks

	vd float64 // Present terminal voltage, for event scanning
	id float64
}

func NewDiode(name string, nodeNames []string) *Diode {
	if len(nodeNames) != 2 {
		panic(fmt.Sprintf("diode %s: requires exactly 2 nodes", name))
	}

	d := &Diode{
		BaseDevice: BaseDevice{
			Name:      name,
			Nodes:     make([]int, len(nodeNames)),
			NodeNames: nodeNames,
		},
		Vf:     0.7,
		Ron:    1e-2,
		Roff:   1e12,
		region: diodeOff,
	}
	return d
}

func (d *Diode) GetType() string { return "D" }

func (d *Diode) SetParam(name string, value float64) {
	switch name {
	case "vf":
		d.Vf = value
	case "ron":
		d.Ron = value
	case "roff":
		d.Roff = value
	}
}

func (d *Diode) conductance() float64 {
	if d.region == diodeOn {
		return 1.0 / d.Ron
	}
	return 1.0 / d.Roff
}

// current returns the linearized current I* at v* for the latched region.
func (d *Diode) current(vd float64) float64 {
	if d.region == diodeOn {
		return (vd - d.Vf) / d.Ron
	}
	return vd / d.Roff
}

// Stamp emits Geq = G* plus Ieq = I* - G*v* at the rhs, per the region
// latched since the last event scan.
func (d *Diode) Stamp(m matrix.DeviceMatrix, status *CircuitStatus) error {
	if len(d.Nodes) != 2 {
		return fmt.Errorf("diode %s: requires exactly 2 nodes", d.Name)
	}
	n1, n2 := d.Nodes[0], d.Nodes[1]

	g := d.conductance()
	ieq := d.current(d.vd) - g*d.vd

	if n1 != 0 {
		m.AddElement(n1, n1, g)
		if n2 != 0 {
			m.AddElement(n1, n2, -g)
		}
		m.AddRHS(n1, -ieq)
	}
	if n2 != 0 {
		if n1 != 0 {
			m.AddElement(n2, n1, -g)
		}
		m.AddElement(n2, n2, g)
		m.AddRHS(n2, ieq)
	}

	return nil
}

func (d *Diode) StampAC(m matrix.DeviceMatrix, status *CircuitStatus) error {
	n1, n2 := d.Nodes[0], d.Nodes[1]
	g := d.conductance()

	if n1 != 0 {
		m.AddComplexElement(n1, n1, g, 0)
		if n2 != 0 {
			m.AddComplexElement(n1, n2, -g, 0)
		}
	}
	if n2 != 0 {
		if n1 != 0 {
			m.AddComplexElement(n2, n1, -g, 0)
		}
		m.AddComplexElement(n2, n2, g, 0)
	}
	return nil
}

func (d *Diode) LoadConductance(m matrix.DeviceMatrix) error {
	n1, n2 := d.Nodes[0], d.Nodes[1]
	g := d.conductance()

	if n1 != 0 {
		m.AddElement(n1, n1, g)
		if n2 != 0 {
			m.AddElement(n1, n2, -g)
		}
	}
	if n2 != 0 {
		if n1 != 0 {
			m.AddElement(n2, n1, -g)
		}
		m.AddElement(n2, n2, g)
	}
	return nil
}

func (d *Diode) LoadCurrent(m matrix.DeviceMatrix) error {
	n1, n2 := d.Nodes[0], d.Nodes[1]
	g := d.conductance()
	ieq := d.current(d.vd) - g*d.vd

	if n1 != 0 {
		m.AddRHS(n1, -ieq)
	}
	if n2 != 0 {
		m.AddRHS(n2, ieq)
	}
	return nil
}

func (d *Diode) SetTimeStep(dt float64, status *CircuitStatus) {}

func (d *Diode) LoadState(voltages []float64, status *CircuitStatus) {}

func (d *Diode) UpdateState(voltages []float64, status *CircuitStatus) {
	d.id = d.current(d.vd)
}

func (d *Diode) UpdateVoltages(voltages []float64) error {
	if len(d.Nodes) != 2 {
		return fmt.Errorf("diode %s: requires exactly 2 nodes", d.Name)
	}

	n1, n2 := d.Nodes[0], d.Nodes[1]
	var v1, v2 float64
	if n1 != 0 {
		v1 = voltages[n1]
	}
	if n2 != 0 {
		v2 = voltages[n2]
	}

	d.vd = v1 - v2
	return nil
}

// EventFunctions returns g(x) = v_anode - v_cathode - Vf; a sign change
// means the diode has crossed between OFF and ON since the last sample.
func (d *Diode) EventFunctions(voltages []float64) []float64 {
	n1, n2 := d.Nodes[0], d.Nodes[1]
	var v1, v2 float64
	if n1 != 0 {
		v1 = voltages[n1]
	}
	if n2 != 0 {
		v2 = voltages[n2]
	}
	return []float64{(v1 - v2) - d.Vf}
}

func (d *Diode) LatchRegion(voltages []float64) {
	g := d.EventFunctions(voltages)[0]
	if g >= 0 {
		d.region = diodeOn
	} else {
		d.region = diodeOff
	}
}

func (d *Diode) Priority() int { return PriorityDiode }

var _ Switching = (*Diode)(nil)
