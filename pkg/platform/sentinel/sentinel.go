package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity or job does not exist in the store
// - ErrConflict: uniqueness constraint violated (e.g. second anchor txid)
// - ErrOwnershipLost: a lease-conditioned update matched no row because
//   another worker reclaimed the job after its lease expired
// - ErrInvalidState: entity in the wrong state for the requested transition
// - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrOwnershipLost = errors.New("ownership lost")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
