package constants

// Route constants shared by the router, controllers and e-mail links
const (
	StripeWebhookRoute      = "/webhooks/stripe"
	APIRoute                = "/api"
	APIV1Route              = "/v1"
	AffiliateDashboardRoute = "/affiliate"
	SignupRoute             = "/signup"
)
