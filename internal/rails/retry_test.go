package rails

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
)

type scriptedRail struct {
	errs  []error
	calls int
}

func (r *scriptedRail) Disburse(context.Context, string, core.Money, Speed) (DeliveryStatus, error) {
	r.calls++
	if r.calls <= len(r.errs) && r.errs[r.calls-1] != nil {
		return Failed, r.errs[r.calls-1]
	}
	return Delivered, nil
}

func TestRetryingRailRetriesTransientFailures(t *testing.T) {
	inner := &scriptedRail{errs: []error{
		&GatewayError{Code: CodeNetworkError},
		&GatewayError{Code: CodeBankError},
		nil,
	}}
	rail := NewRetryingRail(inner, clockwork.NewRealClock(), 3, time.Millisecond)

	status, err := rail.Disburse(context.Background(), "m1", core.Money{Cents: 100}, Standard)
	require.NoError(t, err)
	assert.Equal(t, Delivered, status)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingRailGivesUpAfterAttempts(t *testing.T) {
	inner := &scriptedRail{errs: []error{
		&GatewayError{Code: CodeNetworkError},
		&GatewayError{Code: CodeNetworkError},
		&GatewayError{Code: CodeNetworkError},
		nil,
	}}
	rail := NewRetryingRail(inner, clockwork.NewRealClock(), 3, time.Millisecond)

	status, err := rail.Disburse(context.Background(), "m1", core.Money{Cents: 100}, Standard)
	require.Error(t, err)
	assert.Equal(t, Failed, status)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingRailNeverRetriesDeclines(t *testing.T) {
	for _, code := range []string{CodeInsufficientFunds, CodeCardDeclined} {
		t.Run(code, func(t *testing.T) {
			inner := &scriptedRail{errs: []error{&GatewayError{Code: code}, nil}}
			rail := NewRetryingRail(inner, clockwork.NewRealClock(), 3, time.Millisecond)

			_, err := rail.Disburse(context.Background(), "m1", core.Money{Cents: 100}, Standard)
			require.Error(t, err)
			assert.Equal(t, 1, inner.calls)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&GatewayError{Code: CodeNetworkError}))
	assert.True(t, IsTransient(&GatewayError{Code: CodeBankError}))
	assert.False(t, IsTransient(&GatewayError{Code: CodeInsufficientFunds}))
	assert.False(t, IsTransient(&GatewayError{Code: CodeCardDeclined}))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
