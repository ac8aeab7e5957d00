// Package simerr defines the typed error kinds the simulator can fail with.
// Unlike the donor's plain fmt.Errorf strings, these carry structured fields
// so callers can distinguish kinds with errors.As instead of string matching.
package simerr

import "fmt"

// InvalidCircuitError covers unknown node references, duplicate names,
// missing ground, and disconnected islands. Non-SPD coupling matrices are
// reported as InvalidCouplingError instead.
type InvalidCircuitError struct {
	Reason string
}

func (e *InvalidCircuitError) Error() string {
	return fmt.Sprintf("invalid circuit: %s", e.Reason)
}

// InvalidParameterError covers non-positive R/L/C, malformed waveforms, and
// negative frequencies.
type InvalidParameterError struct {
	Device string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter on %s: %s", e.Device, e.Reason)
}

// InvalidCouplingError reports a coupled-inductor group whose coupling
// matrix fails to produce an SPD effective-inductance matrix.
type InvalidCouplingError struct {
	Group  string
	Reason string
}

func (e *InvalidCouplingError) Error() string {
	return fmt.Sprintf("invalid coupling for %s: %s", e.Group, e.Reason)
}

// SingularMatrixError reports an LU factorization that hit a zero pivot
// even after the Gmin rescue.
type SingularMatrixError struct {
	Row int
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("singular matrix at row %d", e.Row)
}

// NonConvergenceError reports Newton exhausting MaxIter at minimum Gmin.
type NonConvergenceError struct {
	Residual   float64
	Iterations int
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("newton iteration did not converge: residual=%g after %d iterations", e.Residual, e.Iterations)
}

// TimestepTooSmallError reports adaptive Δt reduction hitting MinΔt.
type TimestepTooSmallError struct {
	Time float64
	Dt   float64
}

func (e *TimestepTooSmallError) Error() string {
	return fmt.Sprintf("timestep too small at t=%g, dt=%g", e.Time, e.Dt)
}

// CancelledError reports a caller-supplied step/time budget expiring.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

// SinkError wraps a caller-supplied result sink's rejection of a sample.
type SinkError struct {
	Cause error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("result sink error: %v", e.Cause)
}

func (e *SinkError) Unwrap() error { return e.Cause }
