package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

const (
	PaymentKindInvoice       = "invoice"
	PaymentKindPaymentIntent = "payment_intent"
)

// BillingPayment is an append-only audit row for a provider charge attempt.
// Rows are unique per provider reference and outcome, so a failed attempt
// and the later successful retry of the same invoice are both kept.
type BillingPayment struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 uint            `gorm:"not null;index" json:"user_id"`
	Provider               string          `gorm:"type:varchar(20);not null;index:ux_billing_payments_provider_ref,unique,priority:1" json:"provider"`
	Kind                   string          `gorm:"type:varchar(20);not null;index:ux_billing_payments_provider_ref,unique,priority:2" json:"kind"`
	ProviderRef            string          `gorm:"type:varchar(191);not null;index:ux_billing_payments_provider_ref,unique,priority:3" json:"provider_ref"`
	ProviderSubscriptionID string          `gorm:"type:varchar(191);default:'';index" json:"provider_subscription_id"`
	Amount                 decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency               string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status                 string          `gorm:"type:varchar(20);not null;index;index:ux_billing_payments_provider_ref,unique,priority:4" json:"status"`
	FailureMessage         string          `gorm:"type:text" json:"failure_message,omitempty"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// BillingInvoice mirrors a provider invoice; never updated after creation.
type BillingInvoice struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 uint            `gorm:"not null;index" json:"user_id"`
	Provider               string          `gorm:"type:varchar(20);not null;index:ux_billing_invoices_provider_invoice,unique,priority:1" json:"provider"`
	ProviderInvoiceID      string          `gorm:"type:varchar(191);not null;index:ux_billing_invoices_provider_invoice,unique,priority:2" json:"provider_invoice_id"`
	ProviderSubscriptionID string          `gorm:"type:varchar(191);default:'';index" json:"provider_subscription_id"`
	BillingReason          string          `gorm:"type:varchar(64);default:''" json:"billing_reason"`
	AmountPaid             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount_paid"`
	Currency               string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status                 string          `gorm:"type:varchar(20);not null" json:"status"`
	PeriodStart            *time.Time      `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd              *time.Time      `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
