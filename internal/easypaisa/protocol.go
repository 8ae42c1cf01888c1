// Package easypaisa holds the wire format of the Easypaisa bill-payment
// protocol: request and response envelopes, response codes and the
// fixed-width field encodings the biller expects.
package easypaisa

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"payment-orchestrator/internal/errors"
)

// WalletTopupPrefix marks consumer numbers that top up a retailer wallet.
// Purely numeric consumer numbers are loan order ids.
const WalletTopupPrefix = "WT"

const (
	CodeSuccess            = "00"
	CodeNotFound           = "01"
	CodePaymentBad         = "02"
	CodeDuplicate          = "03"
	CodeInquiryBad         = "03"
	CodeInvalidCredentials = "04"
)

const (
	StatusUnpaid = "U"
	StatusPaid   = "P"
)

const (
	dueDateLayout      = "20060102"
	billingMonthLayout = "0601"
)

type InquiryRequest struct {
	Username       string `json:"username" validate:"required"`
	Password       string `json:"password" validate:"required"`
	ConsumerNumber string `json:"Consumer_number" validate:"required"`
	BankMnemonic   string `json:"Bank_Mnemonic" validate:"required"`
	Reserved       string `json:"Reserved"`
}

type ConfirmationRequest struct {
	Username          string `json:"username" validate:"required"`
	Password          string `json:"password" validate:"required"`
	ConsumerNumber    string `json:"consumer_number" validate:"required"`
	TransactionAuthID string `json:"tran_auth_id" validate:"required"`
	TransactionAmount string `json:"transaction_amount" validate:"required"`
	TransactionDate   string `json:"tran_date" validate:"required,len=8,numeric"`
	TransactionTime   string `json:"tran_time" validate:"required,len=6,numeric"`
	BankMnemonic      string `json:"bank_mnemonic" validate:"required"`
	Reserved          string `json:"reserved"`
}

type InquiryResponse struct {
	ResponseCode      string `json:"response_Code"`
	ConsumerDetail    string `json:"consumer_Detail"`
	DueDate           string `json:"due_date"`
	AmountWithinDue   string `json:"amount_within_dueDate"`
	AmountAfterDue    string `json:"amount_after_dueDate"`
	BillingMonth      string `json:"billing_month"`
	BillStatus        string `json:"bill_status"`
	DatePaid          string `json:"date_paid"`
	AmountPaid        string `json:"amount_paid"`
	TransactionAuthID string `json:"tran_auth_Id"`
	Reserved          string `json:"reserved"`
}

type PaymentResponse struct {
	ResponseCode            string `json:"response_Code"`
	IdentificationParameter string `json:"Identification_parameter"`
	Reserved                string `json:"reserved"`
}

type InquiryError struct {
	ResponseCode string `json:"response_Code"`
	Status       string `json:"status"`
	Message      string `json:"Response_Message"`
}

// Bill is what an inquiry reports about one consumer number.
type Bill struct {
	Consumer          string
	Amount            int64
	Status            string
	IssuedAt          time.Time
	TTL               time.Duration
	DatePaid          string
	AmountPaid        int64
	TransactionAuthID string
	Reserved          string
}

// InquiryResponseFor renders b in the biller's fixed-width format.
func InquiryResponseFor(b Bill) *InquiryResponse {
	due := b.IssuedAt.Add(b.TTL)
	resp := &InquiryResponse{
		ResponseCode:      CodeSuccess,
		ConsumerDetail:    b.Consumer,
		DueDate:           due.Format(dueDateLayout),
		AmountWithinDue:   FormatAmount(b.Amount),
		AmountAfterDue:    FormatAmount(b.Amount),
		BillingMonth:      due.Format(billingMonthLayout),
		BillStatus:        b.Status,
		DatePaid:          b.DatePaid,
		TransactionAuthID: b.TransactionAuthID,
		Reserved:          b.Reserved,
	}
	if b.Status == StatusPaid {
		resp.AmountWithinDue = FormatAmount(0)
		resp.AmountAfterDue = FormatAmount(0)
		resp.AmountPaid = FormatAmountPaid(b.AmountPaid)
	}
	return resp
}

func PaymentSuccess(consumerNumber string) *PaymentResponse {
	return &PaymentResponse{
		ResponseCode:            CodeSuccess,
		IdentificationParameter: fmt.Sprintf("consumer number %s paid", consumerNumber),
		Reserved:                "payment successful",
	}
}

// FormatAmount is a signed amount zero-padded to 13 digits.
func FormatAmount(amount int64) string {
	return fmt.Sprintf("+%013d", amount)
}

// FormatAmountPaid is an unsigned amount zero-padded to 12 digits.
func FormatAmountPaid(amount int64) string {
	return fmt.Sprintf("%012d", amount)
}

// ParseAmount reads a fixed-width signed amount such as "+0000000010000".
func ParseAmount(s string) (int64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "+")
	if trimmed == "" || !IsNumeric(trimmed) {
		return 0, errors.NewAppErrorf(errors.ValidationFailure, "invalid amount %q", s)
	}
	// Zero padded, always base 10.
	amount, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Wrap(errors.ValidationFailure, "invalid amount", err)
	}
	return amount, nil
}

func IsWalletTopup(consumerNumber string) bool {
	return strings.HasPrefix(consumerNumber, WalletTopupPrefix)
}

// AccountFromConsumerNumber strips the wallet top-up prefix.
func AccountFromConsumerNumber(consumerNumber string) string {
	return strings.TrimPrefix(consumerNumber, WalletTopupPrefix)
}

func WalletTopupConsumerNumber(account string) string {
	return WalletTopupPrefix + account
}

func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// InquiryErrorFor maps a failed inquiry onto the protocol's fixed codes.
func InquiryErrorFor(err error) *InquiryError {
	appErr, _ := errors.As(err)
	switch errors.CodeOf(err) {
	case errors.NotFound:
		return &InquiryError{ResponseCode: CodeNotFound, Status: "invalid consumer number", Message: messageOr(appErr, "consumer number does not exists")}
	case errors.IntentExpired:
		return &InquiryError{ResponseCode: CodeNotFound, Status: "invalid consumer number", Message: "topup intent expired"}
	case errors.InvalidCredentials:
		return &InquiryError{ResponseCode: CodeInvalidCredentials, Status: "invalid data", Message: "invalid credentials"}
	default:
		return &InquiryError{ResponseCode: CodeInquiryBad, Status: "unknown error/bad transaction", Message: "Something went wrong"}
	}
}

// PaymentErrorFor maps a failed confirmation onto the protocol's fixed codes.
func PaymentErrorFor(err error) *PaymentResponse {
	switch errors.CodeOf(err) {
	case errors.NotFound:
		return &PaymentResponse{ResponseCode: CodeNotFound, IdentificationParameter: "invalid consumer number", Reserved: "consumer number does not exists"}
	case errors.DuplicateRequest:
		return &PaymentResponse{ResponseCode: CodeDuplicate, IdentificationParameter: "duplicate transaction", Reserved: "transaction has already been processed"}
	case errors.InvalidCredentials:
		return &PaymentResponse{ResponseCode: CodeInvalidCredentials, IdentificationParameter: "invalid data", Reserved: "invalid credentials"}
	default:
		return &PaymentResponse{ResponseCode: CodePaymentBad, IdentificationParameter: "unknown error/bad transaction", Reserved: "Something went wrong"}
	}
}

func messageOr(appErr *errors.AppError, fallback string) string {
	if appErr == nil || appErr.Message == "" || appErr.Message == errors.ErrIntentNotFound.Message {
		return fallback
	}
	return appErr.Message
}
