package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	EventSubscriptionCreated    stripe.EventType = "customer.subscription.created"
	EventSubscriptionUpdated    stripe.EventType = "customer.subscription.updated"
	EventSubscriptionDeleted    stripe.EventType = "customer.subscription.deleted"
	EventInvoicePaymentSuccess  stripe.EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed   stripe.EventType = "invoice.payment_failed"
	EventPaymentIntentSucceeded stripe.EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed    stripe.EventType = "payment_intent.payment_failed"
	EventCheckoutCompleted      stripe.EventType = "checkout.session.completed"
)

// VerifyEvent checks the Stripe-Signature header against the raw body and
// only then decodes the event envelope.
func VerifyEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrSignatureVerificationFailed)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureVerificationFailed, err)
		}
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" || event.Type == "" || event.Data == nil {
		return stripe.Event{}, fmt.Errorf("%w: event id, type and data are required", ErrMalformedPayload)
	}
	return event, nil
}

// Attribution is the typed form of the userId metadata attached when a
// subscription or payment intent is created.
type Attribution struct {
	UserID uint
}

// attributionFrom reads the user id from the first metadata map that has one.
func attributionFrom(metadata ...map[string]string) (Attribution, error) {
	for _, md := range metadata {
		for _, key := range []string{"userId", "user_id"} {
			raw := strings.TrimSpace(md[key])
			if raw == "" {
				continue
			}
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || id == 0 {
				return Attribution{}, fmt.Errorf("%w: invalid %s %q", ErrMissingAttribution, key, raw)
			}
			return Attribution{UserID: uint(id)}, nil
		}
	}
	return Attribution{}, ErrMissingAttribution
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// stripeSubscription is the subset of a subscription object the ledger reads.
// Period bounds moved from the subscription to its items in newer API
// versions, so both are decoded.
type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID        string `json:"id"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *stripeSubscription) priceIDs() []string {
	ids := make([]string, 0, len(s.Items.Data))
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *stripeSubscription) interval() string {
	for _, item := range s.Items.Data {
		if item.Price.Recurring != nil {
			return item.Price.Recurring.Interval
		}
	}
	return ""
}

func (s *stripeSubscription) period() (*time.Time, *time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if start == 0 && len(s.Items.Data) > 0 {
		start, end = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return unixTime(start), unixTime(end)
}

// stripeInvoice is the subset of an invoice object the ledger reads. The
// subscription reference lives under parent.subscription_details in newer
// API versions and at the top level in older ones.
type stripeInvoice struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	BillingReason string            `json:"billing_reason"`
	AmountPaid    int64             `json:"amount_paid"`
	AmountDue     int64             `json:"amount_due"`
	PeriodStart   int64             `json:"period_start"`
	PeriodEnd     int64             `json:"period_end"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`

	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	LastFinalizationError *struct {
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

func (i *stripeInvoice) subscriptionID() string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != "" {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return strings.TrimSpace(i.Subscription)
}

func (i *stripeInvoice) subscriptionMetadata() map[string]string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Metadata
	}
	if i.SubscriptionDetails != nil {
		return i.SubscriptionDetails.Metadata
	}
	return nil
}

// billingPeriodStart is the start of the service period the invoice pays for.
func (i *stripeInvoice) billingPeriodStart() time.Time {
	for _, line := range i.Lines.Data {
		if line.Period.Start > 0 {
			return time.Unix(line.Period.Start, 0).UTC()
		}
	}
	return time.Unix(i.PeriodStart, 0).UTC()
}

type stripePaymentIntent struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Invoice          string            `json:"invoice"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeCheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func decodeObject(event stripe.Event, v interface{}) error {
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, event.Type, err)
	}
	return nil
}
