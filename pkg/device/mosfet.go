package device

import (
	"fmt"

	"github.com/gopower/tranpice/internal/consts"
	"github.com/gopower/tranpice/pkg/matrix"
)

const (
	CUTOFF     = 0 // Cutoff region
	LINEAR     = 1 // Linear/Triode region
	SATURATION = 2 // Saturation region
)

// Mosfet is a 3-terminal voltage-controlled switch, region-linearized around
// the present operating point. The drain current is always expressed as the
// two-terminal form Id = gm*Vgs + gds*Vds + I0; gate current is zero, so the
// gate node only ever needs KCL bookkeeping through other devices.
type Mosfet struct {
	BaseDevice
	Type string // "NMOS" or "PMOS"

	Vth  float64 // Threshold voltage
	Kp   float64 // Transconductance parameter (A/V^2)
	Ron  float64 // On-state D-S resistance (Ω); stored, not used by linearize
	Roff float64 // Off-state (cutoff) D-S resistance (Ω)

	vgs, vds float64
	id       float64
	gm, gds  float64
	i0       float64

	region int // latched CUTOFF/LINEAR/SATURATION
}

func NewMosfet(name string, nodeNames []string) *Mosfet {
	if len(nodeNames) != 3 {
		panic(fmt.Sprintf("mosfet %s: requires exactly 3 nodes (drain, gate, source)", name))
	}

	m := &Mosfet{
		BaseDevice: BaseDevice{
			Name:      name,
			Nodes:     make([]int, len(nodeNames)),
			NodeNames: nodeNames,
		},
		Type: "NMOS",
		Vth:  2.0,
		Kp:   20.0,
		Ron:  0.01,
		Roff: 1e9,
	}
	return m
}

func (m *Mosfet) GetType() string { return "M" }

func (m *Mosfet) SetModelParameters(params map[string]float64) {
	if typeVal, ok := params["type"]; ok && typeVal == 1.0 {
		m.Type = "PMOS"
	}
	if v, ok := params["vth"]; ok {
		m.Vth = v
	}
	if v, ok := params["kp"]; ok {
		m.Kp = v
	}
	if v, ok := params["ron"]; ok {
		m.Ron = v
	}
	if v, ok := params["roff"]; ok {
		m.Roff = v
	}
}

func (m *Mosfet) thermalVoltage(temp float64) float64 {
	if temp <= 0 {
		temp = 300.15
	}
	return consts.BOLTZMANN * temp / consts.CHARGE
}

func (m *Mosfet) signedVoltages() (vgs, vds, sign float64) {
	if m.Type == "PMOS" {
		return -m.vgs, -m.vds, -1.0
	}
	return m.vgs, m.vds, 1.0
}

// linearize computes gm, gds, I0 for the latched region at (vgs, vds),
// i.e. Id = gm*vgs + gds*vds + I0, matching Id at the operating point.
func (m *Mosfet) linearize(vgs, vds float64) (id, gm, gds, i0 float64) {
	switch m.region {
	case CUTOFF:
		gds = 1.0 / m.Roff
		id = gds * vds
		return id, 0, gds, 0

	case LINEAR:
		vgst := vgs - m.Vth
		id = m.Kp * (vgst*vds - 0.5*vds*vds)
		gm = m.Kp * vds
		gds = m.Kp * (vgst - vds)
		if gds < 1.0/m.Roff {
			gds = 1.0 / m.Roff
		}

	default: // SATURATION
		vgst := vgs - m.Vth
		id = 0.5 * m.Kp * vgst * vgst
		gm = m.Kp * vgst
		gds = 1.0 / m.Roff // floor conductance for numerical stability
	}

	i0 = id - gm*vgs - gds*vds
	return id, gm, gds, i0
}

func (m *Mosfet) UpdateVoltages(voltages []float64) error {
	nd, ng, ns := m.Nodes[0], m.Nodes[1], m.Nodes[2]
	var vd, vg, vs float64
	if nd != 0 {
		vd = voltages[nd]
	}
	if ng != 0 {
		vg = voltages[ng]
	}
	if ns != 0 {
		vs = voltages[ns]
	}
	m.vgs = vg - vs
	m.vds = vd - vs
	return nil
}

func (m *Mosfet) Stamp(dm matrix.DeviceMatrix, status *CircuitStatus) error {
	if status.Mode == ACAnalysis {
		return m.StampAC(dm, status)
	}

	nd, ng, ns := m.Nodes[0], m.Nodes[1], m.Nodes[2]
	_ = ng // gate carries no current in this model; node still gets KCL from other devices

	vgs, vds, sign := m.signedVoltages()
	id, gm, gds, i0 := m.linearize(vgs, vds)
	m.id, m.gm, m.gds, m.i0 = sign*id, gm, gds, sign*i0

	if nd != 0 {
		dm.AddElement(nd, nd, m.gds)
		if ng != 0 {
			dm.AddElement(nd, ng, m.gm)
		}
		if ns != 0 {
			dm.AddElement(nd, ns, -m.gds-m.gm)
		}
		dm.AddRHS(nd, -m.i0)
	}
	if ns != 0 {
		dm.AddElement(ns, ns, m.gds+m.gm)
		if nd != 0 {
			dm.AddElement(ns, nd, -m.gds)
		}
		if ng != 0 {
			dm.AddElement(ns, ng, -m.gm)
		}
		dm.AddRHS(ns, m.i0)
	}

	return nil
}

func (m *Mosfet) StampAC(dm matrix.DeviceMatrix, status *CircuitStatus) error {
	nd, ng, ns := m.Nodes[0], m.Nodes[1], m.Nodes[2]

	if nd != 0 {
		dm.AddComplexElement(nd, nd, m.gds, 0)
		if ng != 0 {
			dm.AddComplexElement(nd, ng, m.gm, 0)
		}
		if ns != 0 {
			dm.AddComplexElement(nd, ns, -m.gds-m.gm, 0)
		}
	}
	if ns != 0 {
		dm.AddComplexElement(ns, ns, m.gds+m.gm, 0)
		if nd != 0 {
			dm.AddComplexElement(ns, nd, -m.gds, 0)
		}
		if ng != 0 {
			dm.AddComplexElement(ns, ng, -m.gm, 0)
		}
	}
	return nil
}

func (m *Mosfet) LoadConductance(dm matrix.DeviceMatrix) error {
	nd, ng, ns := m.Nodes[0], m.Nodes[1], m.Nodes[2]
	if nd != 0 {
		dm.AddElement(nd, nd, m.gds)
		if ng != 0 {
			dm.AddElement(nd, ng, m.gm)
		}
		if ns != 0 {
			dm.AddElement(nd, ns, -m.gds-m.gm)
		}
	}
	if ns != 0 {
		dm.AddElement(ns, ns, m.gds+m.gm)
		if nd != 0 {
			dm.AddElement(ns, nd, -m.gds)
		}
		if ng != 0 {
			dm.AddElement(ns, ng, -m.gm)
		}
	}
	return nil
}

func (m *Mosfet) LoadCurrent(dm matrix.DeviceMatrix) error {
	nd, ns := m.Nodes[0], m.Nodes[2]
	if nd != 0 {
		dm.AddRHS(nd, -m.i0)
	}
	if ns != 0 {
		dm.AddRHS(ns, m.i0)
	}
	return nil
}

func (m *Mosfet) LoadState(voltages []float64, status *CircuitStatus) {}

func (m *Mosfet) UpdateState(voltages []float64, status *CircuitStatus) {}

func (m *Mosfet) SetTimeStep(dt float64, status *CircuitStatus) {}

func (m *Mosfet) GetVgs() float64  { return m.vgs }
func (m *Mosfet) GetVds() float64  { return m.vds }
func (m *Mosfet) GetId() float64   { return m.id }
func (m *Mosfet) GetGm() float64   { return m.gm }
func (m *Mosfet) GetGds() float64  { return m.gds }
func (m *Mosfet) GetRegion() int   { return m.region }

// EventFunctions returns g1 = Vgs-Vth and g2 = (Vgs-Vth)-Vds, whose sign
// pattern identifies cutoff/linear/saturation. A hysteresis band of
// ±5*Vt around Vth is applied when latching (not when evaluating the raw
// functions) to avoid chatter right at the boundary.
func (m *Mosfet) EventFunctions(voltages []float64) []float64 {
	nd, ng, ns := m.Nodes[0], m.Nodes[1], m.Nodes[2]
	var vd, vg, vs float64
	if nd != 0 {
		vd = voltages[nd]
	}
	if ng != 0 {
		vg = voltages[ng]
	}
	if ns != 0 {
		vs = voltages[ns]
	}
	vgs, vds := vg-vs, vd-vs
	if m.Type == "PMOS" {
		vgs, vds = -vgs, -vds
	}
	g1 := vgs - m.Vth
	g2 := (vgs - m.Vth) - vds
	return []float64{g1, g2}
}

func (m *Mosfet) LatchRegion(voltages []float64) {
	g := m.EventFunctions(voltages)
	vt := m.thermalVoltage(300.15)
	band := 5 * vt

	g1 := g[0]
	switch {
	case g1 < -band:
		m.region = CUTOFF
	case g1 > band:
		if g[1] < 0 {
			m.region = LINEAR
		} else {
			m.region = SATURATION
		}
	default:
		// Inside the hysteresis band: keep the previously latched region.
	}
}

func (m *Mosfet) Priority() int { return PriorityMOSFET }

var _ Switching = (*Mosfet)(nil)
var _ NonLinear = (*Mosfet)(nil)
var _ TimeDependent = (*Mosfet)(nil)
