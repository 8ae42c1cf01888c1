package service

import (
	"context"

	"payment-orchestrator/internal/domain"
)

const (
	templateWalletCharge   = "SUCCESS_WALLET_CHARGE"
	templateWalletTopUp    = "WALLET_TOP_UP"
	templateWalletRefund   = "WALLET_REFUND"
	templateWalletReversal = "WALLET_REVERSAL"
)

// templateFor picks the push template for a wallet movement. Untyped
// movements get no notification.
func templateFor(t domain.TransactionType) string {
	switch t {
	case domain.TypeOrderPayment, domain.TypeEasyLoadTransaction, domain.TypeMobileLoadPayment:
		return templateWalletCharge
	case domain.TypePromotionalTopup, domain.TypeSelfTopup, domain.TypeRewards, domain.TypeEasyLoadEarning,
		domain.TypeGoodsReturn, domain.TypeMobileLoadBonus, domain.TypeMobileLoadCommission,
		domain.TypeWalletCashback, domain.TypeEasypaisaSelfTopup:
		return templateWalletTopUp
	case domain.TypeOrderRefund:
		return templateWalletRefund
	case domain.TypeReversal:
		return templateWalletReversal
	default:
		return ""
	}
}

// push is best effort: the money has already moved.
func (s *PaymentService) push(ctx context.Context, account string, money domain.Money, t domain.TransactionType) {
	template := templateFor(t)
	if template == "" || s.gateways.Notifier == nil {
		return
	}
	if err := s.gateways.Notifier.Push(ctx, domain.PushMessage{Account: account, Template: template, Money: money}); err != nil {
		s.logger.Warn("Failed to send push notification", "account", account, "template", template, "error", err)
	}
}
