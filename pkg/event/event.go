// Package event implements event-driven handling of piecewise-linear device
// regions (diodes, MOSFETs) within a time step: it scans a converged Newton
// solution for sign changes in a switching device's event functions, bisects
// in time to localize the crossing, and latches the new region there so the
// next full step starts from the correct linearization.
package event

import (
	"sort"

	"github.com/gopower/tranpice/pkg/device"
)

const (
	// Tol is the default bisection tolerance on the time step, in seconds.
	Tol = 1e-12
	// MaxBisections bounds the number of trial solves per detected event.
	MaxBisections = 50
)

// SolveFunc re-stamps and re-solves the circuit for a trial time step dt
// measured from the last accepted time, returning the raw node/branch
// solution vector (index 0 unused, matching CircuitMatrix.Solution).
type SolveFunc func(dt float64) ([]float64, error)

// Detector scans Newton solutions for device region crossings.
type Detector struct {
	Tol       float64
	MaxBisect int
}

// NewDetector returns a Detector configured with the package defaults.
func NewDetector() *Detector {
	return &Detector{Tol: Tol, MaxBisect: MaxBisections}
}

// Scan checks whether any switching device crossed a region boundary between
// prevSol (start of step) and newSol (converged end of step, advanced by
// dt). If so, it bisects using solve to locate the crossing to within the
// detector's time tolerance, latches every switching device's region at
// the located point (lowest Priority first), and returns the shortened step
// that should be accepted instead of dt. If nothing crossed, it returns
// (dt, false, nil) unchanged.
func (d *Detector) Scan(devices []device.Device, prevSol, newSol []float64, dt float64, solve SolveFunc) (float64, bool, error) {
	switches := collectSwitching(devices)
	if len(switches) == 0 {
		return dt, false, nil
	}
	if !anySignChange(switches, prevSol, newSol) {
		return dt, false, nil
	}

	lo, hi := 0.0, dt
	loSol, hiSol := prevSol, newSol

	for i := 0; i < d.maxBisect() && hi-lo > d.tol(); i++ {
		mid := 0.5 * (lo + hi)
		midSol, err := solve(mid)
		if err != nil {
			return dt, false, err
		}
		if anySignChange(switches, loSol, midSol) {
			hi, hiSol = mid, midSol
		} else {
			lo, loSol = mid, midSol
		}
	}

	sort.Slice(switches, func(i, j int) bool {
		return switches[i].Priority() < switches[j].Priority()
	})
	for _, sw := range switches {
		sw.LatchRegion(hiSol)
	}

	return hi, true, nil
}

func (d *Detector) tol() float64 {
	if d.Tol > 0 {
		return d.Tol
	}
	return Tol
}

func (d *Detector) maxBisect() int {
	if d.MaxBisect > 0 {
		return d.MaxBisect
	}
	return MaxBisections
}

func collectSwitching(devices []device.Device) []device.Switching {
	out := make([]device.Switching, 0, len(devices))
	for _, dev := range devices {
		if sw, ok := dev.(device.Switching); ok {
			out = append(out, sw)
		}
	}
	return out
}

// anySignChange reports whether any switching device's event function
// changed sign between the two solutions, i.e. crossed a region boundary.
func anySignChange(switches []device.Switching, a, b []float64) bool {
	for _, sw := range switches {
		fa := sw.EventFunctions(a)
		fb := sw.EventFunctions(b)
		for i := range fa {
			if i >= len(fb) {
				break
			}
			if (fa[i] >= 0) != (fb[i] >= 0) {
				return true
			}
		}
	}
	return false
}
