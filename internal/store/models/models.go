// Package models holds the persisted record types shared by the campaign
// state store, the active call registry, and the billing ledger.
package models

import "time"

// CampaignStatus is the lifecycle status of a Campaign.
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// Terminal reports whether the status allows no further transitions.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignCompleted, CampaignCancelled, CampaignFailed:
		return true
	default:
		return false
	}
}

// PauseReason tags why a campaign was paused.
type PauseReason string

const (
	PauseReasonUser        PauseReason = "user"
	PauseReasonOutOfCredit PauseReason = "out_of_credit"
)

// Campaign is the persistent campaign record.
type Campaign struct {
	ID           string
	TenantID     string
	Name         string
	ListID       string
	FromNumber   string
	ProviderHint string // optional
	BotEndpoint  string

	TotalContacts int
	CurrentIndex  int

	ProcessedContacts int
	ConnectedCount    int
	FailedCount       int

	Status      CampaignStatus
	PauseReason PauseReason

	Heartbeat time.Time
	RunnerID  string // empty when paused or terminal

	PausedAt     *time.Time
	ResumedAt    *time.Time
	CancelledAt  *time.Time
	CancelledBy  string
	LastActivity time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallState is the lifecycle state of an ActiveCall.
type CallState string

const (
	CallInitiating CallState = "initiating"
	CallWarming    CallState = "warming"
	CallRinging    CallState = "ringing"
	CallOngoing    CallState = "ongoing"
	CallCompleted  CallState = "completed"
	CallFailed     CallState = "failed"
	CallTimeout    CallState = "timeout"
)

// Terminal reports whether no further transitions are allowed from this state.
func (s CallState) Terminal() bool {
	switch s {
	case CallCompleted, CallFailed, CallTimeout:
		return true
	default:
		return false
	}
}

// FailureReason tags why an ActiveCall ended in the failed state.
type FailureReason string

const (
	FailureNone             FailureReason = ""
	FailureBotNotReady      FailureReason = "bot_not_ready"
	FailureProviderRejected FailureReason = "provider_rejected"
	FailureNotAnswered      FailureReason = "not_answered"
)

// CallKind distinguishes the billing treatment of a call.
type CallKind string

const (
	KindCampaign CallKind = "campaign"
	KindTest     CallKind = "test"
	KindIncoming CallKind = "incoming"
)

// ActiveCall is the persistent active-call row.
type ActiveCall struct {
	CallID          string
	ProviderCallRef string

	TenantID     string
	CampaignID   string // empty for test/incoming calls
	ContactIndex int
	Kind         CallKind

	From     string
	To       string
	Provider string

	State      CallState
	StateSince time.Time

	StartedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time

	FailureReason   FailureReason
	BillingDuration int // seconds, set on hangup

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BillingEntry is an append-only ledger row.
type BillingEntry struct {
	ID              int64
	TenantID        string
	CallID          string // empty for aggregated campaign-completion rows
	CampaignID      string
	Kind            CallKind
	Credits         int64 // signed; debits negative
	BalanceAfter    int64
	DurationSeconds int
	At              time.Time
}

// TenantBalance is the per-tenant credit balance.
type TenantBalance struct {
	TenantID         string
	AvailableBalance int64 // integer credits, 1 credit = 1 second
	UpdatedAt        time.Time
}

// Contact is the opaque-to-the-engine record the runner pages through.
type Contact struct {
	Index        int
	PhoneNumber  string
	FirstName    string
	CustomFields map[string]string
}
