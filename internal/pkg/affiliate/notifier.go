package affiliate

import (
	"context"

	"github.com/ManuelReschke/PropFox/app/models"
)

// Notifier receives ledger events after they are committed. Implementations
// must not block: e-mails and statements are queued, not sent inline.
type Notifier interface {
	CommissionEarned(ctx context.Context, affiliate *models.AffiliateProfile, commission *models.Commission)
	PayoutCompleted(ctx context.Context, affiliate *models.AffiliateProfile, payout *models.Payout, commissions []models.Commission)
	PayoutFailed(ctx context.Context, affiliate *models.AffiliateProfile, payout *models.Payout)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) CommissionEarned(context.Context, *models.AffiliateProfile, *models.Commission) {}

func (NopNotifier) PayoutCompleted(context.Context, *models.AffiliateProfile, *models.Payout, []models.Commission) {
}

func (NopNotifier) PayoutFailed(context.Context, *models.AffiliateProfile, *models.Payout) {}
