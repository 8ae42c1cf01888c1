package gateway

import (
	"context"
	"net/http"
	"net/url"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

// Users looks retailers up in the user directory.
type Users struct {
	client *Client
}

var _ domain.UserDirectory = (*Users)(nil)

func NewUsers(baseURL string, opts Options) *Users {
	return &Users{client: NewClient("users", baseURL, opts)}
}

func (u *Users) FetchUser(ctx context.Context, h domain.Headers, account string) (*domain.User, error) {
	var resp struct {
		Data *domain.User `json:"data"`
	}
	err := u.client.do(ctx, "fetch_user", call{
		method:  http.MethodGet,
		path:    "/" + url.PathEscape(account),
		headers: callerHeaders(h),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, errors.NewAppErrorf(errors.NotFound, "user %s not found", account)
	}
	if resp.Data.ID == "" {
		resp.Data.ID = account
	}
	return resp.Data, nil
}
