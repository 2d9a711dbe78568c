package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAffiliateProfileValidate(t *testing.T) {
	p := &AffiliateProfile{UserID: 1, Email: "agent@example.com", Status: AffiliateStatusPending, CommissionRate: decimal.RequireFromString("0.25")}
	assert.NoError(t, p.Validate())

	p.Email = "nope"
	assert.Error(t, p.Validate())

	p.Email = "agent@example.com"
	p.Status = "banned"
	assert.Error(t, p.Validate())
}

func TestAffiliateProfileAccessors(t *testing.T) {
	var nilProfile *AffiliateProfile
	assert.False(t, nilProfile.IsApproved())
	assert.Equal(t, "", nilProfile.PromoCodeValue())

	code := "ABC123"
	link := "https://app.example.com/signup?ref=ABC123"
	p := &AffiliateProfile{Status: AffiliateStatusApproved, PromoCode: &code, ReferralLink: &link}
	assert.True(t, p.IsApproved())
	assert.False(t, p.HasPayoutDestination())
	assert.Equal(t, code, p.PromoCodeValue())
	assert.Equal(t, link, p.ReferralLinkValue())
}

func TestBillingWebhookEventSucceeded(t *testing.T) {
	var e *BillingWebhookEvent
	assert.False(t, e.Succeeded())

	e = &BillingWebhookEvent{}
	assert.False(t, e.Succeeded())

	now := e.CreatedAt
	e.ProcessedAt = &now
	assert.True(t, e.Succeeded())

	e.ProcessingError = "boom"
	assert.False(t, e.Succeeded())
}
