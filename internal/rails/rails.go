// Package rails holds the engine's narrow interfaces to external money
// movement: the disbursement rail, the platform backstop fund, and the
// payment gateway used to debit members directly. The engine never retries
// inside a state transition; transient failures are retried here, at the
// boundary.
package rails

import (
	"context"
	"errors"
	"fmt"

	"tanda/internal/core"
)

const (
	Standard Speed = "standard"
	Instant  Speed = "instant"
)

const (
	Delivered DeliveryStatus = "delivered"
	Queued    DeliveryStatus = "queued"
	Failed    DeliveryStatus = "failed"
)

// Gateway decline codes. Network and bank errors are transient and safe to
// retry; the others are decisions, not failures, and must never be retried.
const (
	CodeNetworkError      = "network_error"
	CodeBankError         = "bank_error"
	CodeInsufficientFunds = "insufficient_funds"
	CodeCardDeclined      = "card_declined"
)

type (
	Speed          string
	DeliveryStatus string
)

// DisbursementRail delivers a payout to a member's destination. The rail is
// eventually consistent and handles its own redelivery once it accepts the
// request.
type DisbursementRail interface {
	Disburse(ctx context.Context, destination string, amount core.Money, speed Speed) (DeliveryStatus, error)
}

// BackstopFund covers a defaulting member's shortfall so the rest of the
// circle is not delayed. A false result means insufficient balance.
type BackstopFund interface {
	CoverShortfall(ctx context.Context, circleID string, amount core.Money) (bool, error)
}

// PaymentGateway debits a user's funding source. Declines come back as
// *GatewayError with a code from the table above.
type PaymentGateway interface {
	Debit(ctx context.Context, userID string, amount core.Money) error
}

// GatewayError is a typed decline from the payment gateway.
type GatewayError struct {
	Code string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway declined: %s", e.Code)
}

// Transient reports whether the decline is safe to retry.
func (e *GatewayError) Transient() bool {
	return e.Code == CodeNetworkError || e.Code == CodeBankError
}

// IsTransient reports whether err is a retryable gateway or rail failure.
func IsTransient(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Transient()
	}
	return false
}
