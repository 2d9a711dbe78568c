package billing

import "errors"

var (
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrMalformedPayload            = errors.New("malformed webhook payload")
	ErrMissingAttribution          = errors.New("event carries no user attribution")
	ErrWebhookNotConfigured        = errors.New("webhook secret not configured")

	// ErrSubscriptionNotMirrored is returned for invoices that arrive before
	// their subscription; the provider is asked to redeliver.
	ErrSubscriptionNotMirrored = errors.New("subscription not mirrored yet")
)
