package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "commission_earned"}}<p>Hi,</p>
<p>You earned a commission of <strong>{{.Amount}} {{.Currency}}</strong>{{if .Recurring}} from a renewing subscription{{else}} from a new customer{{end}}.</p>
<p>Pending balance: {{.Pending}} {{.Currency}}. Payouts run monthly once your balance reaches {{.Threshold}} {{.Currency}}.</p>
<p><a href="{{.DashboardURL}}">Open your affiliate dashboard</a></p>{{end}}
{{define "payout_completed"}}<p>Hi,</p>
<p>We sent you <strong>{{.Amount}} {{.Currency}}</strong> for {{.CommissionCount}} commission(s).</p>
<p>Transfer reference: {{.Reference}}</p>
<p><a href="{{.DashboardURL}}">Open your affiliate dashboard</a></p>{{end}}
{{define "payout_failed"}}<p>Hi,</p>
<p>Your payout of <strong>{{.Amount}} {{.Currency}}</strong> could not be sent: {{.Reason}}</p>
<p>Your commissions stay pending and are included in the next payout run. Please check your payout account.</p>{{end}}
`))

// CommissionEarnedData fills the "commission earned" mail.
type CommissionEarnedData struct {
	Amount       string
	Currency     string
	Recurring    bool
	Pending      string
	Threshold    string
	DashboardURL string
}

// PayoutCompletedData fills the "payout completed" mail.
type PayoutCompletedData struct {
	Amount          string
	Currency        string
	CommissionCount int
	Reference       string
	DashboardURL    string
}

// PayoutFailedData fills the "payout failed" mail.
type PayoutFailedData struct {
	Amount   string
	Currency string
	Reason   string
}

func CommissionEarnedMessage(to string, data CommissionEarnedData) (Message, error) {
	return render(to, fmt.Sprintf("You earned %s %s", data.Amount, data.Currency), "commission_earned", data)
}

func PayoutCompletedMessage(to string, data PayoutCompletedData) (Message, error) {
	return render(to, fmt.Sprintf("Your payout of %s %s is on its way", data.Amount, data.Currency), "payout_completed", data)
}

func PayoutFailedMessage(to string, data PayoutFailedData) (Message, error) {
	return render(to, "Your affiliate payout could not be sent", "payout_failed", data)
}

func render(to, subject, name string, data interface{}) (Message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{To: to, Subject: subject, Body: buf.String()}, nil
}
