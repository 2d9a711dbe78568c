package billing

import "time"

// NormalizedSubscription is the provider-agnostic shape used by the billing
// service when syncing external subscription state into local tables.
type NormalizedSubscription struct {
	UserID                 uint
	Provider               string
	ProviderSubscriptionID string
	ProviderPlanRefs       []string
	BillingInterval        string
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
	RawPayloadJSON         string
	// ProviderUpdatedAt orders events; older snapshots never overwrite newer ones.
	ProviderUpdatedAt *time.Time
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// WebhookResult describes how a verified delivery was handled.
type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
	// HandlerErr is a permanent handler failure; it is journaled and the
	// delivery is still acknowledged.
	HandlerErr error
}
