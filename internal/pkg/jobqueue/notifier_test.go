package jobqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	jobType JobType
	payload map[string]interface{}
	ctxErr  error
}

type recordingEnqueuer struct {
	jobs []enqueued
	err  error
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	r.jobs = append(r.jobs, enqueued{jobType: jobType, payload: payload, ctxErr: ctx.Err()})
	if r.err != nil {
		return nil, r.err
	}
	return &Job{ID: "job", Type: jobType, Payload: payload}, nil
}

func TestNotifierCommissionEarned(t *testing.T) {
	q := &recordingEnqueuer{}
	n := NewNotifier(q)

	n.CommissionEarned(context.Background(), &models.AffiliateProfile{ID: 3}, &models.Commission{ID: 8})

	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobTypeCommissionEarnedEmail, q.jobs[0].jobType)
	payload, err := CommissionEmailJobPayloadFromMap(q.jobs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, CommissionEmailJobPayload{CommissionID: 8, AffiliateID: 3}, *payload)
}

func TestNotifierPayoutCompletedQueuesMailAndStatement(t *testing.T) {
	q := &recordingEnqueuer{}
	n := NewNotifier(q)

	n.PayoutCompleted(context.Background(), &models.AffiliateProfile{ID: 3}, &models.Payout{ID: 4}, nil)

	require.Len(t, q.jobs, 2)
	assert.Equal(t, JobTypePayoutCompletedEmail, q.jobs[0].jobType)
	assert.Equal(t, JobTypePayoutStatement, q.jobs[1].jobType)
	payload, err := PayoutJobPayloadFromMap(q.jobs[1].payload)
	require.NoError(t, err)
	assert.Equal(t, uint(4), payload.PayoutID)
}

func TestNotifierSurvivesCanceledContextAndQueueErrors(t *testing.T) {
	q := &recordingEnqueuer{err: errors.New("redis down")}
	n := NewNotifier(q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() {
		n.PayoutFailed(ctx, &models.AffiliateProfile{ID: 3}, &models.Payout{ID: 5})
	})
	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobTypePayoutFailedEmail, q.jobs[0].jobType)
	assert.NoError(t, q.jobs[0].ctxErr)
}
