package workflow

import "time"

// Status is the workflow lifecycle enum.
type Status string

const (
	StatusReady     Status = "ready"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusArchived  Status = "archived"
)

// TerminalStatuses block further workflow mutations.
var TerminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusCancelled: true,
	StatusArchived:  true,
}

// SignerStatus is the per-signer lifecycle enum.
type SignerStatus string

const (
	SignerStatusPending   SignerStatus = "pending"
	SignerStatusSigned    SignerStatus = "signed"
	SignerStatusRejected  SignerStatus = "rejected"
	SignerStatusCancelled SignerStatus = "cancelled"
)

// TerminalSignerStatuses block further signer mutations.
var TerminalSignerStatuses = map[SignerStatus]bool{
	SignerStatusSigned:   true,
	SignerStatusRejected: true,
}

// DeliveryMode restricts how signer invitations are delivered.
type DeliveryMode string

const (
	DeliveryModeEmail DeliveryMode = "email"
	DeliveryModeLink  DeliveryMode = "link"
)

// Workflow is a signature workflow over one document.
type Workflow struct {
	ID             string
	OwnerID        string
	EntityID       string
	Status         Status
	ForensicConfig ForensicConfig
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ForensicConfig selects the evidence layers a workflow requests.
type ForensicConfig struct {
	RFC3161 bool `json:"rfc3161"`
	Polygon bool `json:"polygon"`
	Bitcoin bool `json:"bitcoin"`
}

// Signer is one participant in a workflow.
type Signer struct {
	ID           string
	WorkflowID   string
	Email        string
	Name         string
	SigningOrder int
	Status       SignerStatus
	UpdatedAt    time.Time
}

// StartRequest is the payload required to start a workflow.
type StartRequest struct {
	DocumentHash     string
	DocumentURL      string
	OriginalFilename string
	Signers          []StartSigner
	ForensicConfig   *ForensicConfig
	DeliveryMode     DeliveryMode // optional; empty means default
}

// StartSigner describes one signer in a start request.
type StartSigner struct {
	Email        string
	SigningOrder int
}

// IdentityConfirmation is the payload for confirming a signer's identity.
type IdentityConfirmation struct {
	FirstName          string
	LastName           string
	ConfirmedRecipient bool
	AcceptedLogging    bool
}
