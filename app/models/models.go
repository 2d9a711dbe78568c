package models

// AllModels lists every table owned by the ledger in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&UserSettings{},
		&AffiliateProfile{},
		&Referral{},
		&Commission{},
		&Payout{},
		&BillingSubscription{},
		&BillingPlanMapping{},
		&BillingPayment{},
		&BillingInvoice{},
		&BillingWebhookEvent{},
	}
}
