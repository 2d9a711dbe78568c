package jobqueue

import (
	"context"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// Enqueuer accepts jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error)
}

// Notifier turns ledger events into queued e-mail and statement jobs. Enqueue
// failures are logged; they never fail the ledger operation that triggered
// them.
type Notifier struct {
	queue Enqueuer
}

func NewNotifier(queue Enqueuer) *Notifier {
	return &Notifier{queue: queue}
}

func (n *Notifier) CommissionEarned(ctx context.Context, affiliate *models.AffiliateProfile, commission *models.Commission) {
	n.enqueue(ctx, JobTypeCommissionEarnedEmail, CommissionEmailJobPayload{
		CommissionID: commission.ID,
		AffiliateID:  affiliate.ID,
	}.ToMap())
}

func (n *Notifier) PayoutCompleted(ctx context.Context, affiliate *models.AffiliateProfile, payout *models.Payout, _ []models.Commission) {
	payload := PayoutJobPayload{PayoutID: payout.ID, AffiliateID: affiliate.ID}.ToMap()
	n.enqueue(ctx, JobTypePayoutCompletedEmail, payload)
	n.enqueue(ctx, JobTypePayoutStatement, payload)
}

func (n *Notifier) PayoutFailed(ctx context.Context, affiliate *models.AffiliateProfile, payout *models.Payout) {
	n.enqueue(ctx, JobTypePayoutFailedEmail, PayoutJobPayload{
		PayoutID:    payout.ID,
		AffiliateID: affiliate.ID,
	}.ToMap())
}

func (n *Notifier) enqueue(ctx context.Context, jobType JobType, payload map[string]interface{}) {
	if _, err := n.queue.Enqueue(context.WithoutCancel(ctx), jobType, payload); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue %s job: %v", jobType, err)
	}
}
