package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// BackendErrorKind describes where a backend call broke down.
type BackendErrorKind string

const (
	BackendErrRequest BackendErrorKind = "request" // transport or client failure
	BackendErrStatus  BackendErrorKind = "status"  // non-success response
	BackendErrParse   BackendErrorKind = "parse"   // response did not match the expected shape
)

// BackendError reports a failed or unparseable analysis backend call.
type BackendError struct {
	Backend string
	Kind    BackendErrorKind
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s error: %v", e.Backend, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err as a BackendError.
func NewBackendError(backend string, kind BackendErrorKind, err error) *BackendError {
	return &BackendError{Backend: backend, Kind: kind, Err: err}
}

// Estimator names used in ConsensusError.
const (
	EstimatorVision   = "vision"
	EstimatorGeometry = "geometry"
)

// ErrDegenerateFacets is raised when the merged facet list cannot satisfy
// the facet invariants (positive, finite area).
var ErrDegenerateFacets = eris.New("consensus: merged facet list is degenerate")

// ConsensusError is the only error kind returned by the consensus engine.
// Estimator names the failed side, or is empty for integrity failures.
type ConsensusError struct {
	Estimator string
	Err       error
}

func (e *ConsensusError) Error() string {
	if e.Estimator == "" {
		return fmt.Sprintf("consensus could not be formed: %v", e.Err)
	}
	return fmt.Sprintf("consensus could not be formed: %s estimator failed: %v", e.Estimator, e.Err)
}

func (e *ConsensusError) Unwrap() error {
	return e.Err
}
