package apperror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"record not found", gorm.ErrRecordNotFound, KindNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"already categorized", New(KindQuotaExceeded, ""), KindQuotaExceeded},
		{"wrapped categorized", fmt.Errorf("ctx: %w", New(KindContentPolicyBlocked, "")), KindContentPolicyBlocked},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err).Kind)
		})
	}
	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindNetwork, "")))
	assert.True(t, IsRetryable(New(KindDatabase, "")))
	assert.True(t, IsRetryable(New(KindPaymentFailed, "")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))

	for _, k := range []Kind{KindAuth, KindValidation, KindContentPolicyBlocked, KindQuotaExceeded, KindNoCredits, KindInvalidOAuthState} {
		assert.False(t, IsRetryable(New(k, "")), k)
	}
	assert.False(t, IsRetryable(nil))
}

func TestFromHTTPStatus(t *testing.T) {
	assert.Equal(t, KindAuth, FromHTTPStatus(http.StatusUnauthorized, "x").Kind)
	assert.Equal(t, KindNetwork, FromHTTPStatus(http.StatusBadGateway, "x").Kind)
	assert.Equal(t, KindNetwork, FromHTTPStatus(http.StatusTooManyRequests, "x").Kind)
	assert.Equal(t, KindValidation, FromHTTPStatus(http.StatusUnprocessableEntity, "x").Kind)
	assert.Equal(t, KindNotFound, FromHTTPStatus(http.StatusNotFound, "x").Kind)
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("sync: %w", Wrap(KindIntegrationDisconnected, errors.New("invalid_grant"), ""))
	assert.True(t, errors.Is(err, Sentinel(KindIntegrationDisconnected)))
	assert.False(t, errors.Is(err, Sentinel(KindAuth)))
	assert.True(t, IsKind(err, KindIntegrationDisconnected))
}

func TestDefaultMessageUsed(t *testing.T) {
	assert.Equal(t, "authorization was cancelled", New(KindOAuthCancelled, "").Message)
}
