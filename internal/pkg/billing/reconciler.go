package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/database"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

// CommissionLedger is the part of the affiliate ledger the reconciler drives.
type CommissionLedger interface {
	CreditBillingEventTx(ctx context.Context, tx *gorm.DB, in affiliate.CommissionInput) (*models.Commission, bool, error)
	NotifyCommission(ctx context.Context, c *models.Commission)
}

// Reconciler applies verified Stripe webhook events to the local subscription,
// payment and commission state. Every handler runs in one transaction, so a
// failing handler leaves no partial writes behind.
type Reconciler struct {
	db      *gorm.DB
	cfg     *Config
	billing *Service
	ledger  CommissionLedger
}

// NewReconciler wires the reconciler to the database and the commission ledger.
func NewReconciler(db *gorm.DB, cfg *Config, ledger CommissionLedger) *Reconciler {
	return &Reconciler{
		db:      db,
		cfg:     cfg,
		billing: NewServiceFromDB(db),
		ledger:  ledger,
	}
}

// HandlerTimeout bounds the processing of a single delivery.
func (r *Reconciler) HandlerTimeout() time.Duration {
	if r.cfg == nil || r.cfg.HandlerTimeout <= 0 {
		return 10 * time.Second
	}
	return r.cfg.HandlerTimeout
}

// ProcessWebhook verifies a delivery, journals it and dispatches it. The
// returned error is either a verification/parse failure (reject the request)
// or a transient failure (ask the provider to redeliver). Permanent handler
// failures are reported in WebhookResult.HandlerErr instead.
func (r *Reconciler) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	event, err := VerifyEvent(payload, sigHeader, r.cfg.WebhookSecret, r.cfg.WebhookTolerance)
	if err != nil {
		return nil, err
	}
	res := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}

	created, journal, err := r.billing.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event %s: %w", event.ID, err)
	}
	if !created && journal.Succeeded() {
		log.Infof("[Billing] Duplicate delivery of %s (%s) acknowledged", event.ID, event.Type)
		res.Duplicate = true
		return res, nil
	}

	handlerErr := r.HandleEvent(ctx, event)
	if markErr := r.billing.MarkWebhookProcessed(ctx, journal.ID, handlerErr); markErr != nil {
		log.Warnf("[Billing] Failed to journal outcome of %s: %v", event.ID, markErr)
	}
	if handlerErr != nil {
		if IsTransient(handlerErr) {
			log.Warnf("[Billing] Transient failure handling %s (%s), requesting redelivery: %v", event.ID, event.Type, handlerErr)
			return res, handlerErr
		}
		log.Errorf("[Billing] Handler for %s (%s) failed: %v", event.ID, event.Type, handlerErr)
		res.HandlerErr = handlerErr
	}
	return res, nil
}

// IsTransient reports whether a handler error should make the provider redeliver.
func IsTransient(err error) bool {
	return database.IsTransient(err) ||
		errors.Is(err, ErrSubscriptionNotMirrored) ||
		errors.Is(err, context.DeadlineExceeded)
}

// HandleEvent dispatches one verified event to its handler. Unknown types
// are acknowledged without changes.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return r.handleSubscription(ctx, event)
	case EventInvoicePaymentSuccess:
		return r.handleInvoicePaid(ctx, event)
	case EventInvoicePaymentFailed:
		return r.handleInvoiceFailed(ctx, event)
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		return r.handlePaymentIntent(ctx, event)
	case EventCheckoutCompleted:
		var session stripeCheckoutSession
		if err := decodeObject(event, &session); err != nil {
			return err
		}
		log.Infof("[Billing] Checkout %s completed (mode=%s subscription=%s)", session.ID, session.Mode, session.Subscription)
		return nil
	default:
		log.Infof("[Billing] Ignoring unhandled event type %s (%s)", event.Type, event.ID)
		return nil
	}
}

func (r *Reconciler) handleSubscription(ctx context.Context, event stripe.Event) error {
	var sub stripeSubscription
	if err := decodeObject(event, &sub); err != nil {
		return err
	}
	if strings.TrimSpace(sub.ID) == "" {
		return fmt.Errorf("%w: subscription id missing", ErrMalformedPayload)
	}

	attr, attrErr := attributionFrom(sub.Metadata)
	if attrErr != nil && event.Type == EventSubscriptionCreated {
		return fmt.Errorf("subscription %s: %w", sub.ID, attrErr)
	}

	status := sub.Status
	canceledAt := unixTime(sub.CanceledAt)
	if event.Type == EventSubscriptionDeleted {
		status = models.BillingStatusCanceled
		if canceledAt == nil {
			canceledAt = unixTime(event.Created)
		}
	}
	start, end := sub.period()

	return database.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		svc := NewServiceFromDB(tx)
		userID := attr.UserID
		if attrErr != nil {
			existing, err := svc.FindSubscription(ctx, models.BillingProviderStripe, sub.ID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("subscription %s: %w", sub.ID, attrErr)
			}
			if err != nil {
				return err
			}
			userID = existing.UserID
		}

		stored, plan, err := svc.SyncSubscription(ctx, NormalizedSubscription{
			UserID:                 userID,
			Provider:               models.BillingProviderStripe,
			ProviderSubscriptionID: sub.ID,
			ProviderPlanRefs:       sub.priceIDs(),
			BillingInterval:        sub.interval(),
			Status:                 status,
			CurrentPeriodStart:     start,
			CurrentPeriodEnd:       end,
			CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
			CanceledAt:             canceledAt,
			RawPayloadJSON:         string(event.Data.Raw),
			ProviderUpdatedAt:      unixTime(event.Created),
		})
		if err != nil {
			return err
		}
		log.Infof("[Billing] Subscription %s for user %d is %s, effective plan %s", stored.ProviderSubscriptionID, userID, stored.Status, plan)
		return nil
	})
}

// resolveInvoiceUser prefers the subscription metadata copied onto the
// invoice and falls back to the local subscription mirror.
func (r *Reconciler) resolveInvoiceUser(ctx context.Context, svc *Service, inv *stripeInvoice) (uint, error) {
	if attr, err := attributionFrom(inv.subscriptionMetadata(), inv.Metadata); err == nil {
		return attr.UserID, nil
	}
	subID := inv.subscriptionID()
	if subID == "" {
		return 0, fmt.Errorf("invoice %s: %w", inv.ID, ErrMissingAttribution)
	}
	sub, err := svc.FindSubscription(ctx, models.BillingProviderStripe, subID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("invoice %s for %s: %w", inv.ID, subID, ErrSubscriptionNotMirrored)
	}
	if err != nil {
		return 0, err
	}
	return sub.UserID, nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripeInvoice
	if err := decodeObject(event, &inv); err != nil {
		return err
	}
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("%w: invoice id missing", ErrMalformedPayload)
	}
	currency := strings.ToLower(inv.Currency)
	amount := affiliate.MinorToDecimal(inv.AmountPaid, currency)
	subID := inv.subscriptionID()

	var credited *models.Commission
	err := database.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		credited = nil
		svc := NewServiceFromDB(tx)
		userID, err := r.resolveInvoiceUser(ctx, svc, &inv)
		if err != nil {
			return err
		}

		if _, err := svc.RecordPayment(ctx, &models.BillingPayment{
			UserID:                 userID,
			Provider:               models.BillingProviderStripe,
			Kind:                   models.PaymentKindInvoice,
			ProviderRef:            inv.ID,
			ProviderSubscriptionID: subID,
			Amount:                 amount,
			Currency:               currency,
			Status:                 models.PaymentStatusSucceeded,
		}); err != nil {
			return err
		}
		if _, err := svc.RecordInvoice(ctx, &models.BillingInvoice{
			UserID:                 userID,
			Provider:               models.BillingProviderStripe,
			ProviderInvoiceID:      inv.ID,
			ProviderSubscriptionID: subID,
			BillingReason:          inv.BillingReason,
			AmountPaid:             amount,
			Currency:               currency,
			Status:                 inv.Status,
			PeriodStart:            unixTime(inv.PeriodStart),
			PeriodEnd:              unixTime(inv.PeriodEnd),
		}); err != nil {
			return err
		}

		if subID == "" || !amount.IsPositive() {
			return nil
		}
		c, created, err := r.ledger.CreditBillingEventTx(ctx, tx, affiliate.CommissionInput{
			UserID:         userID,
			SubscriptionID: subID,
			IdempotencyKey: inv.ID,
			Amount:         amount,
			Currency:       currency,
			PeriodStart:    inv.billingPeriodStart(),
		})
		if err != nil {
			return err
		}
		if created {
			credited = c
		}
		return nil
	})
	if err != nil {
		return err
	}
	if credited != nil {
		r.ledger.NotifyCommission(ctx, credited)
	}
	return nil
}

func (r *Reconciler) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var inv stripeInvoice
	if err := decodeObject(event, &inv); err != nil {
		return err
	}
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("%w: invoice id missing", ErrMalformedPayload)
	}
	reason := "invoice payment failed"
	if inv.LastFinalizationError != nil && inv.LastFinalizationError.Message != "" {
		reason = inv.LastFinalizationError.Message
	}
	currency := strings.ToLower(inv.Currency)

	return database.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		svc := NewServiceFromDB(tx)
		userID, err := r.resolveInvoiceUser(ctx, svc, &inv)
		if err != nil {
			// a failed charge is audited even when it cannot be attributed
			log.Warnf("[Billing] Recording unattributed failed invoice %s: %v", inv.ID, err)
			userID = 0
		}
		_, err = svc.RecordPayment(ctx, &models.BillingPayment{
			UserID:                 userID,
			Provider:               models.BillingProviderStripe,
			Kind:                   models.PaymentKindInvoice,
			ProviderRef:            inv.ID,
			ProviderSubscriptionID: inv.subscriptionID(),
			Amount:                 affiliate.MinorToDecimal(inv.AmountDue, currency),
			Currency:               currency,
			Status:                 models.PaymentStatusFailed,
			FailureMessage:         reason,
		})
		return err
	})
}

func (r *Reconciler) handlePaymentIntent(ctx context.Context, event stripe.Event) error {
	var pi stripePaymentIntent
	if err := decodeObject(event, &pi); err != nil {
		return err
	}
	if strings.TrimSpace(pi.ID) == "" {
		return fmt.Errorf("%w: payment intent id missing", ErrMalformedPayload)
	}
	if pi.Invoice != "" {
		log.Debugf("[Billing] Payment intent %s belongs to invoice %s, handled by invoice events", pi.ID, pi.Invoice)
		return nil
	}
	attr, err := attributionFrom(pi.Metadata)
	if err != nil {
		// subscription charges carry their attribution on the subscription
		log.Infof("[Billing] Payment intent %s has no user attribution, skipping", pi.ID)
		return nil
	}

	currency := strings.ToLower(pi.Currency)
	payment := &models.BillingPayment{
		UserID:      attr.UserID,
		Provider:    models.BillingProviderStripe,
		Kind:        models.PaymentKindPaymentIntent,
		ProviderRef: pi.ID,
		Amount:      affiliate.MinorToDecimal(pi.AmountReceived, currency),
		Currency:    currency,
		Status:      models.PaymentStatusSucceeded,
	}
	if event.Type == EventPaymentIntentFailed {
		payment.Amount = affiliate.MinorToDecimal(pi.Amount, currency)
		payment.Status = models.PaymentStatusFailed
		payment.FailureMessage = "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
			payment.FailureMessage = pi.LastPaymentError.Message
		}
	}

	return database.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		created, err := NewServiceFromDB(tx).RecordPayment(ctx, payment)
		if err == nil && created {
			log.Infof("[Billing] Recorded %s payment %s for user %d", payment.Status, pi.ID, attr.UserID)
		}
		return err
	})
}
