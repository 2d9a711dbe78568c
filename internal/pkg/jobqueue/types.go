package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeCommissionEarnedEmail JobType = "commission_earned_email"
	JobTypePayoutCompletedEmail  JobType = "payout_completed_email"
	JobTypePayoutFailedEmail     JobType = "payout_failed_email"
	JobTypePayoutStatement       JobType = "payout_statement"
	JobTypeMonthlyPayouts        JobType = "monthly_payouts"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// CommissionEmailJobPayload identifies the commission an affiliate is told about
type CommissionEmailJobPayload struct {
	CommissionID uint `json:"commission_id"`
	AffiliateID  uint `json:"affiliate_id"`
}

func (p CommissionEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"commission_id": p.CommissionID,
		"affiliate_id":  p.AffiliateID,
	}
}

func CommissionEmailJobPayloadFromMap(data map[string]interface{}) (*CommissionEmailJobPayload, error) {
	var payload CommissionEmailJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PayoutJobPayload identifies a payout for the e-mail and statement jobs
type PayoutJobPayload struct {
	PayoutID    uint `json:"payout_id"`
	AffiliateID uint `json:"affiliate_id"`
}

func (p PayoutJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"payout_id":    p.PayoutID,
		"affiliate_id": p.AffiliateID,
	}
}

func PayoutJobPayloadFromMap(data map[string]interface{}) (*PayoutJobPayload, error) {
	var payload PayoutJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// MonthlyPayoutsJobPayload names the month a scheduled payout run belongs to (YYYY-MM)
type MonthlyPayoutsJobPayload struct {
	Period string `json:"period"`
}

func (p MonthlyPayoutsJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"period": p.Period,
	}
}

func MonthlyPayoutsJobPayloadFromMap(data map[string]interface{}) (*MonthlyPayoutsJobPayload, error) {
	var payload MonthlyPayoutsJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// decodePayload round-trips through JSON because stored payload numbers come
// back as float64.
func decodePayload(data map[string]interface{}, v interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, v)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
