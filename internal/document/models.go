package document

import (
	"strings"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// Network identifies a supported anchoring blockchain. Closed enum.
type Network string

const (
	NetworkPolygon Network = "polygon"
	NetworkBitcoin Network = "bitcoin"
)

// ParseNetwork validates an externally supplied network name.
func ParseNetwork(raw string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(raw))) {
	case NetworkPolygon:
		return NetworkPolygon, nil
	case NetworkBitcoin:
		return NetworkBitcoin, nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid network: must be polygon or bitcoin")
	}
}

// Kind is the closed vocabulary of canonical event kinds.
type Kind string

const (
	KindProtectedRequested      Kind = "document.protected.requested"
	KindTSAConfirmed            Kind = "tsa.confirmed"
	KindRekorConfirmed          Kind = "rekor.confirmed"
	KindAnchor                  Kind = "anchor"
	KindAnchorTimeout           Kind = "anchor.timeout"
	KindAnchorFailed            Kind = "anchor.failed"
	KindArtifactFinalized       Kind = "artifact.finalized"
	KindWorkflowCancelled       Kind = "workflow.cancelled"
	KindSignerRejected          Kind = "signer.rejected"
	KindSignerIdentityConfirmed Kind = "signer.identity_confirmed"
)

// Entity is the event-sourced document aggregate. Events are append-only;
// replaying them from empty always reproduces the current protection level.
type Entity struct {
	ID          string    `json:"id"`
	WitnessHash string    `json:"witness_hash"`
	Events      []Event   `json:"events"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is a tagged union: exactly one payload field matching Kind is set.
// An event's meaning is derivable from its own fields alone.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	Protection *ProtectionRequested `json:"protection,omitempty"`
	TSA        *TSAConfirmation     `json:"tsa,omitempty"`
	Rekor      *RekorConfirmation   `json:"rekor,omitempty"`
	Anchor     *AnchorConfirmation  `json:"anchor,omitempty"`
	AnchorFail *AnchorFailure       `json:"anchor_fail,omitempty"`
	Artifact   *ArtifactFinalized   `json:"artifact,omitempty"`
	Workflow   *WorkflowFact        `json:"workflow,omitempty"`
}

// ProtectionRequested records which evidence the owner asked for.
type ProtectionRequested struct {
	RequiredEvidence []string `json:"required_evidence"`
}

// TSAConfirmation records an RFC 3161 timestamp over the witness hash.
type TSAConfirmation struct {
	WitnessHash string    `json:"witness_hash"`
	Authority   string    `json:"authority,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// RekorConfirmation records a transparency-log inclusion proof.
type RekorConfirmation struct {
	WitnessHash string    `json:"witness_hash"`
	LogIndex    int64     `json:"log_index"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// AnchorConfirmation is the canonical blockchain-inclusion fact.
type AnchorConfirmation struct {
	Network     Network   `json:"network"`
	WitnessHash string    `json:"witness_hash"`
	TxID        string    `json:"txid"`
	BlockHeight *int64    `json:"block_height,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// AnchorFailure records a timeout or retryable failure of an anchoring
// attempt. Retryable signals that a manual or external retry may re-attempt
// outside the confirmation state machine.
type AnchorFailure struct {
	Network   Network `json:"network"`
	Reason    string  `json:"reason"`
	Retryable bool    `json:"retryable,omitempty"`
}

// ArtifactFinalized records that the downloadable evidence bundle was built.
type ArtifactFinalized struct {
	ArtifactURL string `json:"artifact_url"`
}

// WorkflowFact records a signature-workflow transition against the document.
type WorkflowFact struct {
	WorkflowID     string `json:"workflow_id"`
	SignerID       string `json:"signer_id,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Validate enforces the tagged-union shape at the store boundary: a known
// kind, a timestamp, and exactly the payload that kind requires.
func (e Event) Validate() error {
	if e.At.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "event timestamp is required")
	}
	switch e.Kind {
	case KindProtectedRequested:
		if e.Protection == nil {
			return missingPayload(e.Kind)
		}
	case KindTSAConfirmed:
		if e.TSA == nil {
			return missingPayload(e.Kind)
		}
	case KindRekorConfirmed:
		if e.Rekor == nil {
			return missingPayload(e.Kind)
		}
	case KindAnchor:
		if e.Anchor == nil {
			return missingPayload(e.Kind)
		}
		if _, err := ParseNetwork(string(e.Anchor.Network)); err != nil {
			return err
		}
		if e.Anchor.TxID == "" {
			return dErrors.New(dErrors.CodeBadRequest, "anchor event requires a txid")
		}
		if e.Anchor.ConfirmedAt.Before(e.At.Add(-time.Second)) {
			// Temporal causality: a confirmation cannot precede its recording.
			return dErrors.New(dErrors.CodeBadRequest, "anchor confirmed_at precedes event timestamp")
		}
	case KindAnchorTimeout, KindAnchorFailed:
		if e.AnchorFail == nil {
			return missingPayload(e.Kind)
		}
	case KindArtifactFinalized:
		if e.Artifact == nil {
			return missingPayload(e.Kind)
		}
	case KindWorkflowCancelled, KindSignerRejected, KindSignerIdentityConfirmed:
		if e.Workflow == nil {
			return missingPayload(e.Kind)
		}
	default:
		return dErrors.New(dErrors.CodeBadRequest, "unknown event kind: "+string(e.Kind))
	}
	return nil
}

func missingPayload(kind Kind) error {
	return dErrors.New(dErrors.CodeBadRequest, "event "+string(kind)+" is missing its payload")
}

// ProtectionLevel is the monotone ladder derived from the event set.
type ProtectionLevel int

const (
	LevelNone ProtectionLevel = iota
	LevelTSAConfirmed
	LevelTSARekorConfirmed
	LevelOneChainConfirmed
	LevelTwoChainsConfirmed
)

func (l ProtectionLevel) String() string {
	switch l {
	case LevelTSAConfirmed:
		return "TSA_CONFIRMED"
	case LevelTSARekorConfirmed:
		return "TSA_REKOR_CONFIRMED"
	case LevelOneChainConfirmed:
		return "ONE_CHAIN_CONFIRMED"
	case LevelTwoChainsConfirmed:
		return "TWO_CHAINS_CONFIRMED"
	default:
		return "NONE"
	}
}

// DeriveProtectionLevel computes the current level from the event set.
// Order-insensitive: only the presence of facts matters.
func DeriveProtectionLevel(events []Event) ProtectionLevel {
	hasTSA := HasKind(events, KindTSAConfirmed)
	hasRekor := HasKind(events, KindRekorConfirmed)
	hasPolygon := HasConfirmedAnchor(events, NetworkPolygon)
	hasBitcoin := HasConfirmedAnchor(events, NetworkBitcoin)

	chains := 0
	if hasPolygon {
		chains++
	}
	if hasBitcoin {
		chains++
	}

	switch {
	case chains == 2:
		return LevelTwoChainsConfirmed
	case chains == 1:
		return LevelOneChainConfirmed
	case hasTSA && hasRekor:
		return LevelTSARekorConfirmed
	case hasTSA:
		return LevelTSAConfirmed
	default:
		return LevelNone
	}
}

// HasKind reports whether any event of the given kind exists.
func HasKind(events []Event, kind Kind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// HasConfirmedAnchor reports whether a confirmed anchor exists for network.
func HasConfirmedAnchor(events []Event, network Network) bool {
	return FindAnchor(events, network) != nil
}

// FindAnchor returns the confirmed anchor payload for network, or nil.
func FindAnchor(events []Event, network Network) *AnchorConfirmation {
	for _, e := range events {
		if e.Kind == KindAnchor && e.Anchor != nil && e.Anchor.Network == network && !e.Anchor.ConfirmedAt.IsZero() {
			return e.Anchor
		}
	}
	return nil
}
