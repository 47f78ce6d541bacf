package gatewayb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const (
	testPassphrase = "jt7NOE43FZPn"
	allowedIP      = "197.97.145.150"
)

func validateServer(t *testing.T, answer string, gotBody *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if gotBody != nil {
			*gotBody = string(b)
		}
		_, _ = io.WriteString(w, answer)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(t *testing.T, validateURL string) *Adapter {
	t.Helper()
	a, err := New(Config{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  testPassphrase,
		ValidateURL: validateURL,
		NotifyURL:   "https://api.shop.test/api/webhooks/gateway-b",
		Timeout:     time.Second,
	}, nil)
	require.NoError(t, err)
	return a
}

func signedITN(status, amount string) url.Values {
	f := url.Values{}
	f.Set("m_payment_id", "ref-0002")
	f.Set("pf_payment_id", "1089250")
	f.Set("payment_status", status)
	f.Set("item_name", "Order ORD-20261018-0A1B2C")
	f.Set("amount_gross", amount)
	f.Set("amount_fee", "-11.85")
	f.Set("amount_net", "503.15")
	f.Set("custom_str1", "7a1f3f2e-3d52-4b8e-9d43-0a1d5e0c6b11")
	f.Set("custom_str2", "")
	f.Set("merchant_id", "10000100")
	f.Set("signature", Sign(f, testPassphrase))
	return f
}

func TestParamString_SortedEncodedSkipsEmpty(t *testing.T) {
	v := url.Values{}
	v.Set("merchant_id", "10000100")
	v.Set("amount", "515.00")
	v.Set("item_name", " Logo design #1 ")
	v.Set("custom_str2", "")
	v.Set("signature", "ignored")

	assert.Equal(t, "amount=515.00&item_name=Logo+design+%231&merchant_id=10000100", ParamString(v))
}

func TestSign_AppendsPassphrase(t *testing.T) {
	v := url.Values{}
	v.Set("amount", "1.00")

	withPass := Sign(v, "secret pass")
	withoutPass := Sign(v, "")
	assert.NotEqual(t, withPass, withoutPass)
	assert.Len(t, withPass, 32)
}

func TestInitiate_SignsParameters(t *testing.T) {
	a := newTestAdapter(t, "")
	raw, err := a.Initiate(context.Background(), gateway.PaymentRequest{
		Reference: "ref-0002",
		Amount:    51500,
		ItemName:  "Order ORD-20261018-0A1B2C",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "515.00", q.Get("amount"))
	assert.Equal(t, "ref-0002", q.Get("m_payment_id"))
	assert.Equal(t, Sign(q, testPassphrase), q.Get("signature"))
}

func TestVerifyWebhook_Valid(t *testing.T) {
	var body string
	srv := validateServer(t, "VALID", &body)
	a := newTestAdapter(t, srv.URL)

	form := signedITN("COMPLETE", "515.00")
	ev, err := a.VerifyWebhook(context.Background(), gateway.Webhook{Form: form, SourceIP: allowedIP})
	require.NoError(t, err)

	assert.Equal(t, "ref-0002", ev.Reference)
	assert.Equal(t, "1089250", ev.ProviderTransactionID)
	assert.Equal(t, int64(51500), ev.Amount)
	assert.Equal(t, gateway.StatusSuccess, ev.Status)
	assert.Nil(t, ev.MilestoneID)
	assert.Equal(t, ParamString(form), body)
}

func TestVerifyWebhook_RejectsUnknownSource(t *testing.T) {
	srv := validateServer(t, "VALID", nil)
	a := newTestAdapter(t, srv.URL)

	_, err := a.VerifyWebhook(context.Background(), gateway.Webhook{Form: signedITN("COMPLETE", "515.00"), SourceIP: "8.8.8.8"})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidSignature))
}

func TestVerifyWebhook_RejectsBadSignature(t *testing.T) {
	srv := validateServer(t, "VALID", nil)
	a := newTestAdapter(t, srv.URL)

	form := signedITN("COMPLETE", "515.00")
	form.Set("amount_gross", "1.00")

	_, err := a.VerifyWebhook(context.Background(), gateway.Webhook{Form: form, SourceIP: allowedIP})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidSignature))
}

func TestVerifyWebhook_ProviderSaysInvalid(t *testing.T) {
	srv := validateServer(t, "INVALID", nil)
	a := newTestAdapter(t, srv.URL)

	_, err := a.VerifyWebhook(context.Background(), gateway.Webhook{Form: signedITN("COMPLETE", "515.00"), SourceIP: allowedIP})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidSignature))
}

func TestVerifyWebhook_ValidateUnavailable(t *testing.T) {
	srv := validateServer(t, "VALID", nil)
	a := newTestAdapter(t, srv.URL)
	srv.Close()

	_, err := a.VerifyWebhook(context.Background(), gateway.Webhook{Form: signedITN("COMPLETE", "515.00"), SourceIP: allowedIP})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeGatewayUnavailable))
}

func TestNew_InvalidCIDR(t *testing.T) {
	_, err := New(Config{AllowedCIDRs: []string{"not-a-cidr"}}, nil)
	assert.Error(t, err)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, gateway.StatusSuccess, MapStatus("COMPLETE"))
	assert.Equal(t, gateway.StatusFailed, MapStatus("CANCELLED"))
	assert.Equal(t, gateway.StatusFailed, MapStatus("FAILED"))
	assert.Equal(t, gateway.StatusPending, MapStatus("PENDING"))
}
