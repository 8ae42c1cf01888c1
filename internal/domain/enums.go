package domain

import "fmt"

// Action is the kind of money movement a ledger row records.
type Action string

const (
	ActionHold     Action = "HOLD"
	ActionRelease  Action = "RELEASE"
	ActionCharge   Action = "CHARGE"
	ActionRollback Action = "ROLLBACK"
)

func (a Action) Valid() bool {
	switch a {
	case ActionHold, ActionRelease, ActionCharge, ActionRollback:
		return true
	}
	return false
}

// IsOut reports whether a is one of the out-leg actions accepted by the out procedure.
func (a Action) IsOut() bool {
	return a == ActionRelease || a == ActionCharge
}

type Impact string

const (
	ImpactIn  Impact = "IN"
	ImpactOut Impact = "OUT"
)

func (i Impact) Valid() bool {
	return i == ImpactIn || i == ImpactOut
}

// TransactionState is the persisted state of a ledger row. StateAbsent is never
// stored; it stands for "no row yet" in the orchestrator's dispatch.
type TransactionState string

const (
	StateAbsent    TransactionState = ""
	StatePending   TransactionState = "PENDING"
	StateCompleted TransactionState = "COMPLETED"
)

type IntentState string

const (
	IntentAbsent    IntentState = ""
	IntentPending   IntentState = "PENDING"
	IntentCompleted IntentState = "COMPLETED"
	IntentCancelled IntentState = "CANCELLED"
)

// Terminal reports whether s can no longer change.
func (s IntentState) Terminal() bool {
	return s == IntentCompleted || s == IntentCancelled
}

type PaymentMethod string

const (
	MethodWallet    PaymentMethod = "WALLET"
	MethodCash      PaymentMethod = "CASH"
	MethodSadad     PaymentMethod = "SADAD"
	MethodEasypaisa PaymentMethod = "EASYPAISA"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodCash, MethodSadad, MethodEasypaisa:
		return true
	}
	return false
}

// ThirdParty reports whether funds for m are collected by an external biller.
func (m PaymentMethod) ThirdParty() bool {
	return m == MethodSadad || m == MethodEasypaisa
}

type Currency string

const (
	CurrencyPKR Currency = "PKR"
	CurrencySAR Currency = "SAR"
	CurrencyAED Currency = "AED"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyPKR, CurrencySAR, CurrencyAED:
		return true
	}
	return false
}

// MinorUnits is the number of minor units in one major unit of c.
func (c Currency) MinorUnits() int64 {
	return 100
}

type TransactionType string

const (
	TypeOrderPayment         TransactionType = "ORDER_PAYMENT"
	TypeOrderRefund          TransactionType = "ORDER_REFUND"
	TypeReversal             TransactionType = "REVERSAL"
	TypePromotionalTopup     TransactionType = "PROMOTIONAL_TOPUP"
	TypeSelfTopup            TransactionType = "SELF_TOPUP"
	TypeRewards              TransactionType = "REWARDS"
	TypeEasyLoadTransaction  TransactionType = "EASY_LOAD_TRANSACTION"
	TypeEasyLoadEarning      TransactionType = "EASY_LOAD_EARNING"
	TypeGoodsReturn          TransactionType = "GOODS_RETURN"
	TypeMobileLoadPayment    TransactionType = "MOBILE_LOAD_PAYMENT"
	TypeMobileLoadBonus      TransactionType = "MOBILE_LOAD_BONUS"
	TypeMobileLoadCommission TransactionType = "MOBILE_LOAD_COMMISSION"
	TypeWalletCashback       TransactionType = "WALLET_CASHBACK"
	TypeEasypaisaSelfTopup   TransactionType = "EASYPAISA_SELF_TOPUP"
)

var transactionTypes = map[TransactionType]struct{}{
	TypeOrderPayment: {}, TypeOrderRefund: {}, TypeReversal: {}, TypePromotionalTopup: {},
	TypeSelfTopup: {}, TypeRewards: {}, TypeEasyLoadTransaction: {}, TypeEasyLoadEarning: {},
	TypeGoodsReturn: {}, TypeMobileLoadPayment: {}, TypeMobileLoadBonus: {},
	TypeMobileLoadCommission: {}, TypeWalletCashback: {}, TypeEasypaisaSelfTopup: {},
}

func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

// ParseTransactionType validates s against the known transaction types.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}
