package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

// Lending is the client of the BNPL loan service.
type Lending struct {
	client *Client
}

var _ domain.LendingGateway = (*Lending)(nil)

func NewLending(baseURL string, opts Options) *Lending {
	return &Lending{client: NewClient("lending", baseURL, opts)}
}

// unknownOrderMessage is reported when the loan service rejects an order
// without saying why.
const unknownOrderMessage = "consumer number does not exists"

type validationFailure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// rejection turns a permanent loan service failure into ProviderRejected
// carrying the service's own validation message. Transient failures pass
// through untouched.
func rejection(err error) error {
	if !errors.Is(err, errors.ProviderRejected) {
		return err
	}
	message := unknownOrderMessage
	var statusErr *StatusError
	if stderrors.As(err, &statusErr) {
		var body struct {
			ValidationFailures []validationFailure `json:"validationFailures"`
		}
		if json.Unmarshal(statusErr.Body, &body) == nil && len(body.ValidationFailures) > 0 && body.ValidationFailures[0].Message != "" {
			message = body.ValidationFailures[0].Message
		}
	}
	return errors.Wrap(errors.ProviderRejected, message, err)
}

type liabilityResponse struct {
	RetailerID         json.Number         `json:"retailerId"`
	RemainingLiability decimal.Decimal     `json:"remaingLiabilityAmount"`
	Currency           domain.Currency     `json:"currency"`
	ValidationFailures []validationFailure `json:"validationFailures"`
}

func (l *Lending) RemainingLiability(ctx context.Context, h domain.Headers, orderID string) (*domain.Liability, error) {
	var resp liabilityResponse
	if err := l.client.do(ctx, "remaining_liability", call{
		method:  http.MethodGet,
		path:    "/loanTransaction/getRemainingLiabilityAmountByOrderId",
		query:   url.Values{"orderId": {orderID}},
		headers: callerHeaders(h),
	}, &resp); err != nil {
		return nil, rejection(err)
	}
	if len(resp.ValidationFailures) > 0 {
		return nil, errors.NewAppError(errors.ProviderRejected, resp.ValidationFailures[0].Message)
	}
	return &domain.Liability{
		Account:  resp.RetailerID.String(),
		Amount:   resp.RemainingLiability.IntPart(),
		Currency: resp.Currency,
	}, nil
}

type repaymentBody struct {
	RetailerID          json.Number          `json:"retailerId"`
	RepaymentAmount     int64                `json:"repaymentAmount"`
	CurrencyCode        domain.Currency      `json:"currencyCode"`
	OrderID             json.Number          `json:"orderId"`
	LoanRepaymentMethod domain.PaymentMethod `json:"loanRepaymentMethod"`
}

func (l *Lending) Settle(ctx context.Context, h domain.Headers, repayments []domain.Repayment) (bool, error) {
	body := make([]repaymentBody, len(repayments))
	for i, r := range repayments {
		body[i] = repaymentBody{
			RetailerID:          json.Number(r.Account),
			RepaymentAmount:     r.Amount,
			CurrencyCode:        r.Currency,
			OrderID:             json.Number(r.OrderID),
			LoanRepaymentMethod: r.Method,
		}
	}

	var resp struct {
		Success            bool                `json:"success"`
		ValidationFailures []validationFailure `json:"validationFailures"`
	}
	if err := l.client.do(ctx, "settle", call{
		method:  http.MethodPost,
		path:    "/loanTransaction/loanRepaymentThroughThirdParties",
		headers: callerHeaders(h),
		body:    body,
	}, &resp); err != nil {
		return false, rejection(err)
	}
	if len(resp.ValidationFailures) > 0 {
		return false, errors.NewAppError(errors.ProviderRejected, resp.ValidationFailures[0].Message)
	}
	return resp.Success, nil
}
