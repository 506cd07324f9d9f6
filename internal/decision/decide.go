// Package decision holds the pure rules of the protection pipeline: which
// jobs a document still needs, and which workflow transitions an actor may
// perform. No I/O, no side effects; callers own mutations and queue checks.
package decision

import (
	"custodia/internal/document"
	"custodia/internal/jobs"
)

// Reason explains a pipeline decision for logging and shadow comparison.
type Reason string

const (
	ReasonMissingRequest Reason = "noop_missing_request"
	ReasonComplete       Reason = "noop_complete"
	ReasonNeedsTSA       Reason = "needs_tsa"
	ReasonNeedsArtifact  Reason = "needs_artifact"
	ReasonNeedsAnchors   Reason = "needs_anchors"
)

// Protections is the desired evidence set for a document.
type Protections struct {
	Polygon bool
	Bitcoin bool
}

// ProtectionsFromEvidence builds the desired set from a required-evidence
// list ("tsa" is implicit: every protected document gets a TSA timestamp).
func ProtectionsFromEvidence(evidence []string) Protections {
	var p Protections
	for _, item := range evidence {
		switch item {
		case string(document.NetworkPolygon):
			p.Polygon = true
		case string(document.NetworkBitcoin):
			p.Bitcoin = true
		}
	}
	return p
}

// Decision is the minimal job set still required for a document.
type Decision struct {
	Jobs   []jobs.Type
	Reason Reason
}

// Decide computes the required jobs from the event set. Pure and
// order-insensitive: permuting the events never changes the outcome. It does
// not deduplicate against the queue; callers must consult dedupe keys before
// inserting.
//
// Rule chain:
//  1. No protection request -> nothing to do.
//  2. No TSA confirmation -> run_tsa first (anchors depend on it).
//  3. All requested anchors confirmed and no artifact -> build_artifact.
//  4. Otherwise one submit job per missing requested network.
func Decide(events []document.Event, protections Protections) Decision {
	if !document.HasKind(events, document.KindProtectedRequested) {
		return Decision{Reason: ReasonMissingRequest}
	}

	if !document.HasKind(events, document.KindTSAConfirmed) {
		return Decision{Jobs: []jobs.Type{jobs.TypeRunTSA}, Reason: ReasonNeedsTSA}
	}

	hasPolygon := document.HasConfirmedAnchor(events, document.NetworkPolygon)
	hasBitcoin := document.HasConfirmedAnchor(events, document.NetworkBitcoin)

	anchorsSatisfied := (!protections.Polygon || hasPolygon) &&
		(!protections.Bitcoin || hasBitcoin)

	if anchorsSatisfied {
		if !document.HasKind(events, document.KindArtifactFinalized) {
			return Decision{Jobs: []jobs.Type{jobs.TypeBuildArtifact}, Reason: ReasonNeedsArtifact}
		}
		return Decision{Reason: ReasonComplete}
	}

	var required []jobs.Type
	if protections.Polygon && !hasPolygon {
		required = append(required, jobs.TypeSubmitAnchorPolygon)
	}
	if protections.Bitcoin && !hasBitcoin {
		required = append(required, jobs.TypeSubmitAnchorBitcoin)
	}
	return Decision{Jobs: required, Reason: ReasonNeedsAnchors}
}
