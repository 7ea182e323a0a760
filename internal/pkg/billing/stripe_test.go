package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

func testBackends(url string) *stripe.Backends {
	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &stripe.Backends{API: b, Connect: b, Uploads: b}
}

func TestStripeCheckoutAndVerify(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			assert.NoError(t, r.ParseForm())
			form = r.PostForm
			_, _ = io.WriteString(w, `{"id":"cs_test_9","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_9","status":"open","payment_status":"unpaid"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_test_9":
			_, _ = io.WriteString(w, `{"id":"cs_test_9","object":"checkout.session","status":"complete","payment_status":"paid","client_reference_id":"9","metadata":{"reference":"pro"}}`)
		case r.URL.Path == "/v1/checkout/sessions/cs_expired":
			_, _ = io.WriteString(w, `{"id":"cs_expired","object":"checkout.session","status":"expired","payment_status":"unpaid"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`)
		}
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test_123", map[string]string{"pro": "price_pro"}, testBackends(srv.URL))
	purchase, _ := ResolvePurchase("pro")
	co, err := g.CreateCheckout(context.Background(), CheckoutRequest{UserID: 9, Purchase: purchase, SuccessURL: "https://app/ok", CancelURL: "https://app/no"})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_9", co.ID)
	assert.Equal(t, []string{"subscription"}, form["mode"])
	assert.Equal(t, []string{"9"}, form["client_reference_id"])
	assert.Equal(t, []string{"pro"}, form["metadata[reference]"])

	v, err := g.Verify(context.Background(), "cs_test_9")
	require.NoError(t, err)
	assert.True(t, v.Paid)
	assert.Equal(t, "9", v.UserRef)
	assert.Equal(t, "pro", v.Reference)

	_, err = g.Verify(context.Background(), "cs_expired")
	assert.Equal(t, apperror.KindPaymentCancelled, apperror.KindOf(err))

	_, err = g.Verify(context.Background(), "cs_nope")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = g.CreateCheckout(context.Background(), CheckoutRequest{UserID: 9, Purchase: Purchase{Reference: "business"}})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCategorizeStripeError(t *testing.T) {
	tests := []struct {
		err  *stripe.Error
		want apperror.Kind
	}{
		{&stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "insufficient_funds"}, apperror.KindInsufficientFunds},
		{&stripe.Error{Type: stripe.ErrorTypeCard, Code: "card_declined"}, apperror.KindInvalidCard},
		{&stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 503}, apperror.KindNetwork},
		{&stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 401}, apperror.KindAuth},
		{&stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 402}, apperror.KindPaymentFailed},
	}
	for _, tt := range tests {
		got := apperror.KindOf(CategorizeStripeError(tt.err))
		if got != tt.want {
			t.Fatalf("CategorizeStripeError(%+v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleWebhook(t *testing.T) {
	g := &fakeGateway{}
	r := newMemRecords()
	l := &fakeLedger{}
	s := newTestService(g, r, l)
	_, err := s.StartCheckout(context.Background(), 9, "credits_500", "", "")
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session","client_reference_id":"9"}}}`)
	secret := "whsec_test"

	_, err = s.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef", secret)
	assert.Equal(t, apperror.KindAuth, apperror.KindOf(err))

	out, err := s.HandleWebhook(context.Background(), payload, sign(payload, secret, time.Now()), secret)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 500, l.credits)

	other := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{}}}`)
	out, err = s.HandleWebhook(context.Background(), other, sign(other, secret, time.Now()), secret)
	assert.NoError(t, err)
	assert.Nil(t, out)
}
