package analysis

import (
	"fmt"
	"math"

	"github.com/gopower/tranpice/pkg/circuit"
	"github.com/gopower/tranpice/pkg/device"
	"github.com/gopower/tranpice/pkg/event"
	"github.com/gopower/tranpice/pkg/simerr"
)

type Transient struct {
	BaseAnalysis
	op        *OperatingPoint
	time      float64
	startTime float64
	stopTime  float64
	timeStep  float64
	maxStep   float64
	minStep   float64
	useUIC    bool

	order int // integration method in device.BE/device.TR encoding

	events *event.Detector
}

func NewTransient(tStart, tStop, tStep, tMax float64, uic bool) *Transient {
	minStep := tStep / 50.0
	if tMax == 0 {
		tMax = tStep
	}
	return &Transient{
		BaseAnalysis: *NewBaseAnalysis(),
		op:           NewOP(),
		startTime:    tStart,
		stopTime:     tStop,
		timeStep:     tStep,
		maxStep:      tMax,
		minStep:      minStep,
		useUIC:       uic,
		time:         0,
		order:        device.BE,
		events:       event.NewDetector(),
	}
}

// SetMethod fixes the integration method (device.BE or device.TR) used to
// build the companion models every step.
func (tr *Transient) SetMethod(method int) {
	tr.order = method
}

func (tr *Transient) Setup(ckt *circuit.Circuit) error {
	tr.Circuit = ckt

	if !tr.useUIC {
		if err := tr.op.Setup(ckt); err != nil {
			return fmt.Errorf("operating point setup error: %v", err)
		}
		if err := tr.op.Execute(); err != nil {
			return fmt.Errorf("operating point analysis error: %v", err)
		}
	}

	tr.Circuit.SetTimeStep(tr.timeStep)
	return nil
}

func (tr *Transient) Execute() error {
	if tr.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}

	prevSol := append([]float64(nil), tr.Circuit.GetMatrix().Solution()...)

	for tr.time < tr.stopTime {
		nextTime := tr.time + tr.timeStep
		if nextTime > tr.stopTime {
			nextTime = tr.stopTime
			tr.timeStep = nextTime - tr.time
		}

		status := &device.CircuitStatus{
			Time:     tr.time,
			TimeStep: tr.timeStep,
			Mode:     device.TransientAnalysis,
			Method:   tr.order,
			Temp:     300.0,
			Gmin:     tr.convergence.gmin,
		}
		tr.Circuit.Status = status

		// Plain Newton first; if it fails, solve at progressively smaller Gmin
		// (Gmin stepping / homotopy), each level warm-started from the last,
		// and accept the step only if every level down to gminMin converges.
		solved := tr.doNRiter(tr.timeStep, tr.convergence.gmin, tr.convergence.maxIter) == nil
		if !solved {
			solved = true
			for gmin := tr.convergence.gminStart; gmin >= tr.convergence.gminMin; gmin /= 10 {
				status.Gmin = gmin
				if err := tr.doNRiter(tr.timeStep, gmin, tr.convergence.maxIter); err != nil {
					solved = false
					break
				}
			}
		}

		if !solved {
			if tr.timeStep > tr.minStep {
				tr.timeStep /= 2
				continue
			}
			return &simerr.TimestepTooSmallError{Time: tr.time, Dt: tr.timeStep}
		}

		// Scan for a switching-device region crossing within this step; if
		// one is found, bisect to localize it, latch the new region there,
		// and shorten the accepted step to the crossing time.
		newSol := append([]float64(nil), tr.Circuit.GetMatrix().Solution()...)
		acceptedDt, crossed, err := tr.events.Scan(tr.Circuit.GetDevices(), prevSol, newSol, tr.timeStep, func(trialDt float64) ([]float64, error) {
			if err := tr.doNRiter(trialDt, tr.convergence.gmin, tr.convergence.maxIter); err != nil {
				return nil, err
			}
			return append([]float64(nil), tr.Circuit.GetMatrix().Solution()...), nil
		})
		if err != nil {
			return fmt.Errorf("event scan failed at t=%g: %w", tr.time, err)
		}
		if crossed {
			tr.timeStep = acceptedDt
			nextTime = tr.time + tr.timeStep
			if err := tr.doNRiter(tr.timeStep, tr.convergence.gmin, tr.convergence.maxIter); err != nil {
				return fmt.Errorf("failed to resolve at latched event time t=%g: %w", nextTime, err)
			}
		}

		tr.Circuit.Update()
		tr.time = nextTime
		prevSol = append(prevSol[:0], tr.Circuit.GetMatrix().Solution()...)
		if tr.time >= tr.startTime {
			tr.StoreTimeResult(tr.time, tr.Circuit.GetSolution())
		}

		// Grow the step back toward maxStep, but never past an event crossing
		if tr.time < tr.stopTime && !crossed {
			if tr.timeStep < tr.maxStep {
				tr.timeStep *= 1.1
				if tr.timeStep > tr.maxStep {
					tr.timeStep = tr.maxStep
				}
			}
		}
	}

	return nil
}

func (tr *Transient) doNRiter(dt, gmin float64, maxIter int) error {
	ckt := tr.Circuit
	mat := ckt.GetMatrix()
	var oldSolution map[string]float64
	var oldVec []float64
	cktStatus := &device.CircuitStatus{
		Time:     tr.time,
		TimeStep: dt,
		Gmin:     gmin,
		Mode:     device.TransientAnalysis,
		Method:   tr.order, // BE or TR
	}

	for iter := 0; iter < maxIter; iter++ {
		mat.Clear()

		// First iteration have no previous solution so, skip
		if iter > 0 {
			if solution := mat.Solution(); solution != nil {
				if err := ckt.UpdateNonlinearVoltages(solution); err != nil {
					return fmt.Errorf("updating nonlinear voltages: %v", err)
				}
			}
		}

		// mat.Solution() still holds the vector Stamp just linearized
		// around (last iteration's result, or at iter 0 whatever the
		// previous solve left there, since Clear does not reset it);
		// capture it before Solve overwrites it, to residual-check against
		// the same point the matrix was built at.
		stampedAt := append([]float64(nil), mat.Solution()...)

		if err := ckt.Stamp(cktStatus); err != nil {
			return fmt.Errorf("stamping error: %v", err)
		}
		mat.LoadGmin(gmin)

		if err := mat.Solve(); err != nil {
			return fmt.Errorf("matrix solve error: %v", err)
		}

		if iter > 0 {
			tr.clampStep(oldVec, mat.Solution())
		}
		oldVec = append(oldVec[:0], mat.Solution()...)

		solution := ckt.GetSolution()

		if iter > 0 {
			allConverged := true
			for key, value := range solution {
				if oldValue, ok := oldSolution[key]; ok {
					diff := math.Abs(value - oldValue)
					reltol := tr.convergence.reltol*math.Max(
						math.Abs(value),
						math.Abs(oldValue)) + tr.convergence.abstol

					if diff > reltol {
						allConverged = false
						break
					}
				}
			}

			if allConverged && mat.Residual(stampedAt) < tr.convergence.restol {
				return nil
			}
		}

		if oldSolution == nil {
			oldSolution = make(map[string]float64)
		}
		for k, v := range solution {
			oldSolution[k] = v
		}
	}

	return &simerr.NonConvergenceError{Residual: mat.Residual(oldVec), Iterations: maxIter}
}
