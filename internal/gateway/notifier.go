package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domain"
)

const notificationSender = "payment-orchestrator"

// Notifier tells the owning order service about settled bills and pushes
// templated messages to retailers.
type Notifier struct {
	owner        *Client
	push         *Client
	serviceToken string
}

var _ domain.Notifier = (*Notifier)(nil)

func NewNotifier(ownerURL, pushURL, serviceToken string, opts Options) *Notifier {
	return &Notifier{
		owner:        NewClient("order_owner", ownerURL, opts),
		push:         NewClient("push", pushURL, opts),
		serviceToken: serviceToken,
	}
}

func (n *Notifier) NotifyOwner(ctx context.Context, idempotencyKey string) error {
	return n.owner.do(ctx, "notify_owner", call{
		method: http.MethodPut,
		headers: callerHeaders(domain.Headers{
			Authorization:  n.serviceToken,
			IdempotencyKey: idempotencyKey,
		}),
	}, nil)
}

type pushBody struct {
	CustomerID   []string          `json:"customerId"`
	TemplateName string            `json:"templateName"`
	Language     string            `json:"language"`
	Sender       string            `json:"sender"`
	Args         map[string]string `json:"args"`
}

func (n *Notifier) Push(ctx context.Context, msg domain.PushMessage) error {
	return n.push.do(ctx, "push", call{
		method: http.MethodPost,
		body: pushBody{
			CustomerID:   []string{msg.Account},
			TemplateName: msg.Template,
			Language:     "EN",
			Sender:       notificationSender,
			Args: map[string]string{
				"amount":   FormatAmount(msg.Money),
				"currency": string(msg.Money.Currency),
			},
		},
	}, nil)
}

// FormatAmount renders minor units as a major-unit amount with two decimals
// and thousands separators, e.g. 123456789 -> "1,234,567.89".
func FormatAmount(m domain.Money) string {
	major := decimal.New(m.Amount, 0).Div(decimal.New(m.Currency.MinorUnits(), 0))
	fixed := major.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}
