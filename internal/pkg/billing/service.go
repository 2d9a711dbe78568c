package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Service provides provider-neutral billing synchronization and reconciliation.
type Service struct {
	repo Repository
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// ResolveMappedPlan resolves provider plan references to an internal plan.
func (s *Service) ResolveMappedPlan(ctx context.Context, provider, providerPlanRef, interval string) (string, error) {
	_ = ctx
	p := strings.ToLower(strings.TrimSpace(provider))
	ref := strings.TrimSpace(providerPlanRef)
	i := normalizeInterval(interval)
	if p == "" || ref == "" {
		return string(entitlements.PlanFree), errors.New("provider and provider plan ref are required")
	}

	// Prefer exact interval match.
	m, err := s.repo.FindActivePlanMapping(p, ref, i)
	if err == nil {
		return normalizePlan(m.InternalPlan), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	// Fallback for mappings that intentionally use "unknown".
	m, err = s.repo.FindActivePlanMapping(p, ref, models.BillingIntervalUnknown)
	if err == nil {
		return normalizePlan(m.InternalPlan), nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return string(entitlements.PlanFree), gorm.ErrRecordNotFound
	}
	return "", err
}

// ResolveBestMappedTier selects the best mapped internal plan from a list of
// provider plan refs and returns the winning provider plan ref + internal plan.
func (s *Service) ResolveBestMappedTier(ctx context.Context, provider string, providerPlanRefs []string, interval string) (string, string, error) {
	if len(providerPlanRefs) == 0 {
		return "", string(entitlements.PlanFree), gorm.ErrRecordNotFound
	}

	bestTier := ""
	bestPlan := string(entitlements.PlanFree)
	foundMapped := false
	seen := make(map[string]struct{}, len(providerPlanRefs))

	for _, raw := range providerPlanRefs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}

		plan, err := s.ResolveMappedPlan(ctx, provider, ref, interval)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return "", "", err
		}

		if !foundMapped || planRank(plan) > planRank(bestPlan) {
			foundMapped = true
			bestTier = ref
			bestPlan = plan
		}
	}

	if foundMapped {
		return bestTier, bestPlan, nil
	}

	// Fallback: keep the first valid tier ref with free plan.
	for _, raw := range providerPlanRefs {
		ref := strings.TrimSpace(raw)
		if ref != "" {
			return ref, string(entitlements.PlanFree), gorm.ErrRecordNotFound
		}
	}
	return "", string(entitlements.PlanFree), gorm.ErrRecordNotFound
}

// SyncSubscription upserts provider subscription data and reconciles user plan.
// A snapshot older than the stored one is ignored.
func (s *Service) SyncSubscription(ctx context.Context, in NormalizedSubscription) (*models.BillingSubscription, string, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if in.UserID == 0 || provider == "" || strings.TrimSpace(in.ProviderSubscriptionID) == "" {
		return nil, "", errors.New("user_id, provider and provider_subscription_id are required")
	}

	interval := normalizeInterval(in.BillingInterval)
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = models.BillingStatusActive
	}

	planRef, internalPlan, err := s.ResolveBestMappedTier(ctx, provider, in.ProviderPlanRefs, interval)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}
	if internalPlan == "" {
		internalPlan = string(entitlements.PlanFree)
	}

	sub := &models.BillingSubscription{
		UserID:                 in.UserID,
		Provider:               provider,
		ProviderSubscriptionID: strings.TrimSpace(in.ProviderSubscriptionID),
		ProviderPlanRef:        planRef,
		InternalPlan:           internalPlan,
		BillingInterval:        interval,
		Status:                 status,
		CurrentPeriodStart:     in.CurrentPeriodStart,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		CanceledAt:             in.CanceledAt,
		RawPayloadJSON:         in.RawPayloadJSON,
		ProviderUpdatedAt:      in.ProviderUpdatedAt,
	}
	applied, err := s.repo.UpsertSubscription(sub)
	if err != nil {
		return nil, "", err
	}
	if !applied {
		log.Infof("[Billing] Ignoring stale snapshot of subscription %s", sub.ProviderSubscriptionID)
	}

	effectivePlan, err := s.ReconcileUserPlan(ctx, sub.UserID)
	if err != nil {
		return sub, "", err
	}
	return sub, effectivePlan, nil
}

// FindSubscription returns the local mirror of a provider subscription.
func (s *Service) FindSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	_ = ctx
	return s.repo.FindSubscription(strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(providerSubscriptionID))
}

// RecordPayment appends a payment audit row. Replays are no-ops.
func (s *Service) RecordPayment(ctx context.Context, p *models.BillingPayment) (bool, error) {
	_ = ctx
	if p.Provider == "" || p.Kind == "" || p.ProviderRef == "" {
		return false, errors.New("provider, kind and provider_ref are required")
	}
	return s.repo.InsertPayment(p)
}

// RecordInvoice appends an invoice mirror row. Replays are no-ops.
func (s *Service) RecordInvoice(ctx context.Context, inv *models.BillingInvoice) (bool, error) {
	_ = ctx
	if inv.Provider == "" || inv.ProviderInvoiceID == "" {
		return false, errors.New("provider and provider_invoice_id are required")
	}
	return s.repo.InsertInvoice(inv)
}

// ReconcileUserPlan computes and writes the best effective plan for a user.
func (s *Service) ReconcileUserPlan(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	subs, err := s.repo.ListSubscriptionsByUser(userID)
	if err != nil {
		return "", err
	}

	best := string(entitlements.PlanFree)
	for _, sub := range subs {
		if !isEntitlingStatus(sub.Status) {
			continue
		}
		candidate := normalizePlan(sub.InternalPlan)
		if planRank(candidate) > planRank(best) {
			best = candidate
		}
	}

	us, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return "", err
	}
	if normalizePlan(us.Plan) == best {
		return best, nil
	}
	us.Plan = best
	if err := s.repo.SaveUserSettings(us); err != nil {
		return "", err
	}
	return best, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}
