package fit

import (
	"errors"
	"fmt"
)

var (
	// ErrSolverNonConvergence marks a trial whose solver call failed. It is
	// routine and only surfaces through TrialOutcome.Err.
	ErrSolverNonConvergence = errors.New("solver did not converge")

	// ErrDegenerateScore marks a converged trial whose information criterion
	// is not finite (n-k-1 <= 0 or RSS not positive).
	ErrDegenerateScore = errors.New("degenerate information criterion")
)

// Failure reasons recorded in FitCollection.Failures.
const (
	ReasonPartitionFailure = "PartitionFailure"
	ReasonDataValidation   = "DataValidationError"
)

// InvalidBoundsError reports malformed parameter bounds. It is fatal and
// returned before any fitting begins.
type InvalidBoundsError struct {
	Param  string
	Reason string
}

func (e *InvalidBoundsError) Error() string {
	if e.Param == "" {
		return "invalid parameter bounds: " + e.Reason
	}
	return "invalid parameter bounds for " + e.Param + ": " + e.Reason
}

// DataValidationError reports a partition with too few observations to fit.
type DataValidationError struct {
	Partition string
	N         int
	K         int
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("partition %q has %d observation(s), need at least %d for the parameter(s)", e.Partition, e.N, e.K)
}
