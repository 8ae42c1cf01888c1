package gateway

import (
	"context"
	"net/http"
	"net/url"

	"payment-orchestrator/internal/domain"
)

// Wallet talks to the wallet ledger service.
type Wallet struct {
	client *Client
}

var _ domain.WalletGateway = (*Wallet)(nil)

func NewWallet(baseURL string, opts Options) *Wallet {
	return &Wallet{client: NewClient("wallet", baseURL, opts)}
}

type walletBody struct {
	RetailerID      string                 `json:"retailerId"`
	Money           domain.Money           `json:"money"`
	TransactionType domain.TransactionType `json:"transactionType,omitempty"`
	Comments        string                 `json:"comments,omitempty"`
}

func (w *Wallet) Balance(ctx context.Context, h domain.Headers, account string, currency domain.Currency) (int64, error) {
	var resp struct {
		Data domain.Money `json:"data"`
	}
	err := w.client.do(ctx, "balance", call{
		method:  http.MethodGet,
		path:    "/balance/" + url.PathEscape(account),
		query:   url.Values{"currency": {string(currency)}},
		headers: callerHeaders(h),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Data.Amount, nil
}

func (w *Wallet) Charge(ctx context.Context, h domain.Headers, m domain.WalletMovement) error {
	return w.move(ctx, "charge", h, m)
}

func (w *Wallet) Recharge(ctx context.Context, h domain.Headers, m domain.WalletMovement) error {
	return w.move(ctx, "recharge", h, m)
}

func (w *Wallet) move(ctx context.Context, op string, h domain.Headers, m domain.WalletMovement) error {
	return w.client.do(ctx, op, call{
		method:  http.MethodPost,
		path:    "/" + op,
		headers: callerHeaders(h),
		body: walletBody{
			RetailerID:      m.Account,
			Money:           m.Money,
			TransactionType: m.TransactionType,
			Comments:        m.Comments,
		},
	}, nil)
}
