package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropFox/internal/pkg/billing"
)

// WebhookProcessor verifies and applies one provider delivery.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) (*billing.WebhookResult, error)
	HandlerTimeout() time.Duration
}

// WebhookController receives billing provider webhooks
type WebhookController struct {
	processor WebhookProcessor
}

func NewWebhookController(processor WebhookProcessor) *WebhookController {
	return &WebhookController{processor: processor}
}

// HandleStripeWebhook answers 200 once the delivery is applied or can never
// be applied, 400 when it cannot be verified and 5xx when Stripe should
// deliver it again.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(c.UserContext(), wc.processor.HandlerTimeout())
	defer cancel()

	result, err := wc.processor.ProcessWebhook(ctx, rawBody, signature)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrWebhookNotConfigured):
		log.Error("[Billing] Stripe webhook received but STRIPE_WEBHOOK_SECRET is not set")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook_not_configured"})
	case errors.Is(err, billing.ErrSignatureVerificationFailed):
		log.Warnf("[Billing] Rejected webhook from %s: %v", c.IP(), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, billing.ErrMalformedPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	response := fiber.Map{"received": true}
	if result != nil && result.Duplicate {
		response["duplicate"] = true
	}
	return c.Status(fiber.StatusOK).JSON(response)
}
