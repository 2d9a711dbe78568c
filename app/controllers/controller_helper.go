package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var validate = validator.New()

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// handleLedgerError maps affiliate ledger errors to HTTP responses.
func handleLedgerError(c *fiber.Ctx, err error) error {
	var providerErr *affiliate.PayoutProviderError
	switch {
	case errors.Is(err, affiliate.ErrAffiliateNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Affiliate not found")
	case errors.Is(err, affiliate.ErrInvalidInput):
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, affiliate.ErrAlreadyCustomer):
		return jsonError(c, fiber.StatusConflict, "already_customer", err.Error())
	case errors.Is(err, affiliate.ErrAffiliateExists), errors.Is(err, affiliate.ErrNotPending):
		return jsonError(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, affiliate.ErrInvalidRate),
		errors.Is(err, affiliate.ErrInvalidReferralCode),
		errors.Is(err, affiliate.ErrBelowMinimumThreshold),
		errors.Is(err, affiliate.ErrNoPayoutDestination):
		return jsonError(c, fiber.StatusUnprocessableEntity, "unprocessable_entity", err.Error())
	case errors.As(err, &providerErr):
		return jsonError(c, fiber.StatusBadGateway, "payout_provider_error", providerErr.Error())
	default:
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Request failed")
	}
}

// pagination reads page/page_size query values, falling back to defaults.
func pagination(c *fiber.Ctx) (int, int) {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	size := c.QueryInt("page_size", defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func paramID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
