package billing

import (
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	FindActivePlanMapping(provider, providerPlanRef, interval string) (*models.BillingPlanMapping, error)
	UpsertSubscription(sub *models.BillingSubscription) (bool, error)
	FindSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error)
	ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error)
	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(us *models.UserSettings) error
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	InsertPayment(p *models.BillingPayment) (bool, error)
	InsertInvoice(inv *models.BillingInvoice) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPlanRef, interval string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.
		Where("provider = ? AND provider_plan_ref = ? AND billing_interval = ? AND is_active = ?", provider, providerPlanRef, interval, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertSubscription inserts the row or, when it exists, overwrites it only if
// the incoming snapshot is not older than the stored one. On equal timestamps
// a canceled row wins. It reports whether the stored row now reflects sub.
func (r *gormRepository) UpsertSubscription(sub *models.BillingSubscription) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoNothing: true,
	}).Create(sub)
	if res.Error != nil {
		return false, res.Error
	}
	applied := res.RowsAffected > 0

	if !applied {
		q := r.db.Model(&models.BillingSubscription{}).
			Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID)
		if sub.ProviderUpdatedAt != nil {
			at := *sub.ProviderUpdatedAt
			if sub.Status == models.BillingStatusCanceled {
				q = q.Where("(provider_updated_at IS NULL OR provider_updated_at <= ?)", at)
			} else {
				// same-second snapshots never revive a canceled subscription
				q = q.Where("(provider_updated_at IS NULL OR provider_updated_at < ? OR (provider_updated_at = ? AND status <> ?))",
					at, at, models.BillingStatusCanceled)
			}
		}
		upd := q.Updates(map[string]interface{}{
			"user_id":              sub.UserID,
			"provider_plan_ref":    sub.ProviderPlanRef,
			"internal_plan":        sub.InternalPlan,
			"billing_interval":     sub.BillingInterval,
			"status":               sub.Status,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"canceled_at":          sub.CanceledAt,
			"raw_payload_json":     sub.RawPayloadJSON,
			"provider_updated_at":  sub.ProviderUpdatedAt,
		})
		if upd.Error != nil {
			return false, upd.Error
		}
		applied = upd.RowsAffected > 0
	}

	// Ensure ID and stored state are populated after upsert.
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
	return applied, err
}

func (r *gormRepository) FindSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(us *models.UserSettings) error {
	return r.db.Model(us).Update("plan", us.Plan).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// InsertPayment appends an audit row; a replayed provider id with the same
// outcome is a no-op.
func (r *gormRepository) InsertPayment(p *models.BillingPayment) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	return res.RowsAffected > 0, res.Error
}

// InsertInvoice appends an invoice mirror row; a replayed invoice id is a no-op.
func (r *gormRepository) InsertInvoice(inv *models.BillingInvoice) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(inv)
	return res.RowsAffected > 0, res.Error
}
