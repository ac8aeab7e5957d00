package analysis

import (
	"math"
	"math/cmplx"

	"github.com/gopower/tranpice/pkg/circuit"
	"github.com/gopower/tranpice/pkg/util"
)

const (
	OP int = iota
	TRAN
	AC
)

type Analysis interface {
	Setup(ckt *circuit.Circuit) error
	Execute() error
	GetResults() map[string][]float64
}

type BaseAnalysis struct {
	Circuit     *circuit.Circuit
	results     map[string][]float64 // key: variable name, value: result by time
	convergence struct {
		maxIter   int
		abstol    float64
		reltol    float64
		restol    float64
		vclamp    float64
		gmin      float64
		gminStart float64
		gminMin   float64
	}
}

func NewBaseAnalysis() *BaseAnalysis {
	ba := &BaseAnalysis{results: make(map[string][]float64)}

	ba.convergence.maxIter = 50
	ba.convergence.abstol = 1e-6
	ba.convergence.reltol = 1e-3
	ba.convergence.restol = 1e-9
	ba.convergence.vclamp = 0.5
	ba.convergence.gmin = 1e-12
	ba.convergence.gminStart = 1e-3
	ba.convergence.gminMin = 1e-12

	return ba
}

// clampStep limits the per-unknown Newton update to vclamp volts/amps,
// damping the step without discarding its direction.
func (a *BaseAnalysis) clampStep(oldSol, newSol []float64) {
	if oldSol == nil {
		return
	}
	for i := range newSol {
		if i >= len(oldSol) {
			break
		}
		delta := newSol[i] - oldSol[i]
		if delta > a.convergence.vclamp {
			newSol[i] = oldSol[i] + a.convergence.vclamp
		} else if delta < -a.convergence.vclamp {
			newSol[i] = oldSol[i] - a.convergence.vclamp
		}
	}
}

func (a *BaseAnalysis) CheckConvergence(oldSol, newSol []float64) bool {
	if len(oldSol) != len(newSol) {
		return false
	}

	for i := range oldSol {
		diff := math.Abs(newSol[i] - oldSol[i])
		if diff > a.convergence.abstol &&
			diff > a.convergence.reltol*math.Abs(newSol[i]) {
			return false
		}
	}
	return true
}

func (a *BaseAnalysis) StoreTimeResult(time float64, solution map[string]float64) {
	// Ignore same time
	if len(a.results["TIME"]) > 0 {
		lastTime := a.results["TIME"][len(a.results["TIME"])-1]
		if time == lastTime {
			return
		}
		// Compare rounded string. 1.999999e-05 == 2.000000e-05
		if util.FormatValueFactor(time, "s") == util.FormatValueFactor(lastTime, "s") {
			return
		}
	}

	if _, exists := a.results["TIME"]; !exists {
		a.results["TIME"] = make([]float64, 0)
	}
	a.results["TIME"] = append(a.results["TIME"], time)

	for name, value := range solution {
		if _, exists := a.results[name]; !exists {
			a.results[name] = make([]float64, 0)
		}
		a.results[name] = append(a.results[name], value)
	}
}

func (a *BaseAnalysis) StoreACResult(freq float64, solution map[string]complex128) {
	// Frequency
	if _, exists := a.results["FREQ"]; !exists {
		a.results["FREQ"] = make([]float64, 0)
	}
	a.results["FREQ"] = append(a.results["FREQ"], freq)

	for name, value := range solution {
		// Magnitude
		magName := name + "_MAG"
		if _, exists := a.results[magName]; !exists {
			a.results[magName] = make([]float64, 0)
		}
		magnitude := cmplx.Abs(value)
		a.results[magName] = append(a.results[magName], magnitude)

		// Phase - degree
		phaseName := name + "_PHASE"
		if _, exists := a.results[phaseName]; !exists {
			a.results[phaseName] = make([]float64, 0)
		}
		phase := cmplx.Phase(value) * 180.0 / math.Pi
		a.results[phaseName] = append(a.results[phaseName], phase)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}
