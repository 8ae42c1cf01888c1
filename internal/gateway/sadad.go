package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const sadadDateLayout = "2006-01-02"

type SadadCredentials struct {
	Username         string
	Password         string
	EntityActivityID string
}

// Sadad is the client of the EEFA bill presentment API in front of SADAD.
type Sadad struct {
	client *Client
	creds  SadadCredentials
}

var _ domain.BillerGateway = (*Sadad)(nil)

func NewSadad(baseURL string, creds SadadCredentials, opts Options) *Sadad {
	return &Sadad{client: NewClient("sadad", baseURL, opts), creds: creds}
}

type sadadBillItem struct {
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
	Discount     float64 `json:"discount"`
	DiscountType string  `json:"discountType"`
	VAT          string  `json:"vat"`
}

type sadadUpload struct {
	BillNumber           string          `json:"billNumber"`
	EntityActivityID     string          `json:"entityActivityId"`
	CustomerFullName     string          `json:"customerFullName"`
	CustomerIDNumber     string          `json:"customerIdNumber"`
	CustomerEmailAddress string          `json:"customerEmailAddress"`
	CustomerMobileNumber string          `json:"customerMobileNumber"`
	IssueDate            string          `json:"issueDate"`
	ExpireDate           string          `json:"expireDate"`
	BillItemList         []sadadBillItem `json:"billItemList"`
}

func (s *Sadad) CreateBill(ctx context.Context, req domain.BillRequest) (string, error) {
	price := decimal.New(req.Money.Amount, 0).Div(decimal.New(req.Money.Currency.MinorUnits(), 0))
	payload := sadadUpload{
		BillNumber:           req.BillNumber,
		EntityActivityID:     s.creds.EntityActivityID,
		CustomerFullName:     req.Customer.Name,
		CustomerIDNumber:     req.Customer.ID,
		CustomerEmailAddress: req.Customer.Email,
		CustomerMobileNumber: req.Customer.Phone,
		IssueDate:            req.IssueDate.Format(sadadDateLayout),
		ExpireDate:           req.ExpiryDate.Format(sadadDateLayout),
		BillItemList: []sadadBillItem{{
			Name:         "Invoice " + req.BillNumber,
			Quantity:     1,
			UnitPrice:    price.InexactFloat64(),
			DiscountType: "FIXED",
			VAT:          "0",
		}},
	}

	var resp struct {
		Data struct {
			SadadNumber string `json:"sadadNumber"`
		} `json:"data"`
	}
	if err := s.client.do(ctx, "create_bill", call{
		method:  http.MethodPost,
		path:    "/simple/upload",
		headers: s.headers(),
		body:    payload,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Data.SadadNumber == "" {
		return "", errors.NewAppError(errors.ProviderRejected, "biller returned no reference number")
	}
	return resp.Data.SadadNumber, nil
}

func (s *Sadad) CancelBill(ctx context.Context, billNumber string) error {
	return s.client.do(ctx, "cancel_bill", call{
		method:  http.MethodPut,
		path:    "/cancel",
		query:   url.Values{"billNumber": {billNumber}},
		headers: s.headers(),
	}, nil)
}

func (s *Sadad) FetchBill(ctx context.Context, billNumber string) (*domain.BillStatus, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := s.client.do(ctx, "fetch_bill", call{
		method:  http.MethodGet,
		path:    "/bill/info",
		query:   url.Values{"billNumber": {billNumber}},
		headers: s.headers(),
	}, &resp); err != nil {
		return nil, err
	}

	var info struct {
		BillNumber  string `json:"billNumber"`
		StatusCode  string `json:"statusCode"`
		SadadNumber string `json:"sadadNumber"`
	}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &info); err != nil {
			return nil, errors.Wrap(errors.ProviderRejected, "unexpected bill info shape", err)
		}
	}
	return &domain.BillStatus{
		BillNumber:  info.BillNumber,
		StatusCode:  info.StatusCode,
		ProviderRef: info.SadadNumber,
		Raw:         resp.Data,
	}, nil
}

func (s *Sadad) headers() map[string]string {
	return map[string]string{
		"username": s.creds.Username,
		"password": s.creds.Password,
	}
}
