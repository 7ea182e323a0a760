// Package apperror is the error taxonomy shared by every MockupSuite component.
// Collaborator errors are categorized into a Kind before they cross a package
// boundary so callers branch on the kind, never on provider-specific shapes.
package apperror

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"gorm.io/gorm"
)

type Kind string

const (
	KindAuth                    Kind = "auth_error"
	KindNetwork                 Kind = "network_error"
	KindStorage                 Kind = "storage_error"
	KindDatabase                Kind = "database_error"
	KindValidation              Kind = "validation_error"
	KindNotFound                Kind = "not_found"
	KindQuotaExceeded           Kind = "quota_exceeded"
	KindNoCredits               Kind = "no_credits"
	KindSubscriptionExpired     Kind = "subscription_expired"
	KindPaymentFailed           Kind = "payment_failed"
	KindPaymentCancelled        Kind = "payment_cancelled"
	KindInvalidCard             Kind = "invalid_card"
	KindInsufficientFunds       Kind = "insufficient_funds"
	KindIntegrationDisconnected Kind = "integration_disconnected"
	KindInvalidOAuthState       Kind = "invalid_oauth_state"
	KindOAuthCancelled          Kind = "oauth_cancelled"
	KindGenerationTimeout       Kind = "generation_timeout"
	KindContentPolicyBlocked    Kind = "content_policy_blocked"
	KindUnknown                 Kind = "unknown_error"
)

// Error is a categorized error. Err keeps the original cause for logging; it is
// never shown to end users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperror.New(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func New(kind Kind, message string) *Error {
	if message == "" {
		message = DefaultMessage(kind)
	}
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	if message == "" {
		message = DefaultMessage(kind)
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinel returns a kind-only error for use with errors.Is.
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

// KindOf reports the kind of err without categorizing raw errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && Categorize(err).Kind == kind
}

// Categorize maps any error onto the taxonomy. Already categorized errors are
// returned unchanged.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, sql.ErrNoRows):
		return Wrap(KindNotFound, err, "")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Wrap(KindValidation, err, "record already exists")
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, gorm.ErrInvalidDB):
		return Wrap(KindDatabase, err, "")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindNetwork, err, "request timed out")
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return Wrap(KindNetwork, err, "")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Wrap(KindNetwork, err, "")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Wrap(KindNetwork, err, "")
	}

	return Wrap(KindUnknown, err, "")
}

// FromHTTPStatus categorizes a failed upstream HTTP response.
func FromHTTPStatus(status int, message string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(KindAuth, message)
	case status == http.StatusNotFound:
		return New(KindNotFound, message)
	case status == http.StatusPaymentRequired:
		return New(KindPaymentFailed, message)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return New(KindNetwork, message)
	case status >= 400:
		return New(KindValidation, message)
	default:
		return New(KindUnknown, message)
	}
}

// IsRetryable is the single retry policy: retryability belongs to the kind.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch Categorize(err).Kind {
	case KindNetwork, KindDatabase, KindStorage, KindPaymentFailed:
		return true
	default:
		return false
	}
}

// IsNetwork reports network-class failures, the ones the offline queue buffers.
func IsNetwork(err error) bool {
	return err != nil && Categorize(err).Kind == KindNetwork
}

func DefaultMessage(kind Kind) string {
	switch kind {
	case KindAuth:
		return "authentication required"
	case KindNetwork:
		return "network unavailable"
	case KindStorage:
		return "storage operation failed"
	case KindDatabase:
		return "database unavailable"
	case KindValidation:
		return "invalid request"
	case KindNotFound:
		return "not found"
	case KindQuotaExceeded:
		return "monthly quota exhausted"
	case KindNoCredits:
		return "no credits left"
	case KindSubscriptionExpired:
		return "subscription expired"
	case KindPaymentFailed:
		return "payment failed"
	case KindPaymentCancelled:
		return "payment was cancelled"
	case KindInvalidCard:
		return "card was declined"
	case KindInsufficientFunds:
		return "insufficient funds"
	case KindIntegrationDisconnected:
		return "integration disconnected, please reconnect"
	case KindInvalidOAuthState:
		return "invalid or expired authorization state"
	case KindOAuthCancelled:
		return "authorization was cancelled"
	case KindGenerationTimeout:
		return "generation timed out"
	case KindContentPolicyBlocked:
		return "content blocked by provider policy"
	default:
		return "unexpected error"
	}
}

// HTTPStatus maps a kind to the status code returned by the JSON API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation, KindInvalidOAuthState, KindContentPolicyBlocked:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded, KindNoCredits, KindSubscriptionExpired,
		KindPaymentFailed, KindPaymentCancelled, KindInvalidCard, KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindIntegrationDisconnected:
		return http.StatusConflict
	case KindOAuthCancelled:
		return http.StatusOK
	case KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case KindNetwork, KindStorage:
		return http.StatusBadGateway
	case KindDatabase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Known reports whether k is one of the declared kinds, for kinds read off the wire.
func (k Kind) Known() bool {
	return k == KindUnknown || DefaultMessage(k) != DefaultMessage(KindUnknown)
}
