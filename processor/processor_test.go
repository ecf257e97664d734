package processor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/alovak/p24flow/p24"
	"github.com/alovak/p24flow/processor"
)

type fakeOrder struct {
	email string
}

func (o fakeOrder) BuyerEmail() string { return o.email }

// fakePayment records the transitions the processor requests. A transition is
// permitted when its name is in allow; attempts outside allow are refused the
// way a host state machine refuses an out-of-order transition.
type fakePayment struct {
	id         string
	currency   string
	required   decimal.Decimal
	paid       decimal.Decimal
	refunded   decimal.Decimal
	externalID string

	allow     map[string]bool
	requested []string
	applied   []string
}

func (f *fakePayment) ID() string                      { return f.id }
func (f *fakePayment) Currency() string                { return f.currency }
func (f *fakePayment) Description() string             { return "Payment " + f.id }
func (f *fakePayment) AmountRequired() decimal.Decimal { return f.required }
func (f *fakePayment) AmountPaid() decimal.Decimal     { return f.paid }
func (f *fakePayment) AmountLocked() decimal.Decimal   { return decimal.Zero }
func (f *fakePayment) AmountRefunded() decimal.Decimal { return f.refunded }
func (f *fakePayment) ExternalID() string              { return f.externalID }
func (f *fakePayment) SetExternalID(id string)         { f.externalID = id }
func (f *fakePayment) Order() processor.Order          { return fakeOrder{email: "buyer@example.com"} }

func (f *fakePayment) AttemptTransition(name string) (bool, error) {
	f.requested = append(f.requested, name)
	if !f.allow[name] {
		return false, nil
	}
	f.applied = append(f.applied, name)
	return true, nil
}

func newPayment() *fakePayment {
	return &fakePayment{
		id:       "pay-1",
		currency: "PLN",
		required: decimal.RequireFromString("10.00"),
		allow:    map[string]bool{},
	}
}

func newProcessor(t *testing.T, handler http.HandlerFunc) *processor.Processor {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard))

	return processor.New(logger, processor.Config{
		Gateway: p24.Config{
			MerchantID: 12345,
			PosID:      12345,
			APIKey:     "test-api-key",
			CRCKey:     "test-crc-key",
			Sandbox:    true,
			BaseURL:    srv.URL,
		},
		URLReturn:       "https://shop.example.com/payments/{payment_id}/return",
		URLStatus:       "https://shop.example.com/payments/{payment_id}/callback",
		RefundURLStatus: "https://shop.example.com/payments/{payment_id}/refund-callback",
	}, nil)
}

func signedNotification(crcKey string) p24.Notification {
	n := p24.Notification{
		MerchantID:   12345,
		PosID:        12345,
		SessionID:    "pay-1",
		Amount:       1000,
		OriginAmount: 1000,
		Currency:     "PLN",
		OrderID:      999,
		MethodID:     25,
		Statement:    "p24-pay-1",
	}
	n.Sign = n.ExpectedSign(crcKey)
	return n
}

func respond(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func TestPrepareTransaction(t *testing.T) {
	var body map[string]any
	proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/transaction/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		respond(w, map[string]any{"data": map[string]any{"token": "TKN-ABC123"}})
	})

	intent, err := proc.PrepareTransaction(context.Background(), newPayment())
	require.NoError(t, err)

	require.Equal(t, http.MethodGet, intent.Method)
	require.True(t, len(intent.RedirectURL) > 0)
	require.Contains(t, intent.RedirectURL, "/trnRequest/TKN-ABC123")

	require.Equal(t, "pay-1", body["sessionId"])
	require.Equal(t, float64(1000), body["amount"])
	require.Equal(t, "buyer@example.com", body["email"])
	require.Equal(t, "https://shop.example.com/payments/pay-1/return", body["urlReturn"])
	require.Equal(t, "https://shop.example.com/payments/pay-1/callback", body["urlStatus"])
}

func TestPrepareTransaction_RegistrationRejected(t *testing.T) {
	proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		respond(w, map[string]any{"error": "invalid data"})
	})

	_, err := proc.PrepareTransaction(context.Background(), newPayment())
	require.ErrorIs(t, err, p24.ErrLockFailure)
}

func TestVerifyNotification(t *testing.T) {
	proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, proc.VerifyNotification(signedNotification("test-crc-key")))
	})

	t.Run("missing sign", func(t *testing.T) {
		n := signedNotification("test-crc-key")
		n.Sign = ""
		err := proc.VerifyNotification(n)
		require.ErrorIs(t, err, p24.ErrInvalidCallback)
		require.Contains(t, err.Error(), "missing sign")
	})

	t.Run("missing fields", func(t *testing.T) {
		n := signedNotification("test-crc-key")
		n.OrderID = 0
		n.Statement = ""
		err := proc.VerifyNotification(n)
		require.ErrorIs(t, err, p24.ErrInvalidCallback)
		require.Contains(t, err.Error(), "orderId")
		require.Contains(t, err.Error(), "statement")
	})

	t.Run("tampered amount", func(t *testing.T) {
		n := signedNotification("test-crc-key")
		n.Amount = 99999
		err := proc.VerifyNotification(n)
		require.ErrorIs(t, err, p24.ErrInvalidCallback)
		require.Contains(t, err.Error(), "signature mismatch")
	})

	t.Run("wrong crc key", func(t *testing.T) {
		err := proc.VerifyNotification(signedNotification("other-crc-key"))
		require.ErrorIs(t, err, p24.ErrInvalidCallback)
	})
}

func TestHandleNotification(t *testing.T) {
	t.Run("confirms payment", func(t *testing.T) {
		var verifyBody map[string]any
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			require.Equal(t, "/api/v1/transaction/verify", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&verifyBody))
			respond(w, map[string]any{"data": map[string]any{"status": "success"}})
		})

		payment := newPayment()
		payment.allow[processor.TransitionConfirmPayment] = true

		err := proc.HandleNotification(context.Background(), payment, signedNotification("test-crc-key"))
		require.NoError(t, err)

		require.Equal(t, "999", payment.ExternalID())
		require.Equal(t, []string{processor.TransitionConfirmPayment}, payment.applied)

		require.Equal(t, "pay-1", verifyBody["sessionId"])
		require.Equal(t, float64(999), verifyBody["orderId"])
		require.Equal(t, float64(1000), verifyBody["amount"])
	})

	t.Run("gateway verify failure keeps state", func(t *testing.T) {
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			respond(w, map[string]any{"error": "verification failed"})
		})

		payment := newPayment()
		payment.allow[processor.TransitionConfirmPayment] = true

		err := proc.HandleNotification(context.Background(), payment, signedNotification("test-crc-key"))
		require.ErrorIs(t, err, p24.ErrCommunication)

		// The gateway order id is recorded even when verification fails,
		// so the payment stays traceable for the pull path.
		require.Equal(t, "999", payment.ExternalID())
		require.Empty(t, payment.applied)
	})

	t.Run("duplicate notification is a no-op", func(t *testing.T) {
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			respond(w, map[string]any{"data": map[string]any{"status": "success"}})
		})

		payment := newPayment() // confirm_payment not permitted: already paid

		err := proc.HandleNotification(context.Background(), payment, signedNotification("test-crc-key"))
		require.NoError(t, err)
		require.Equal(t, []string{processor.TransitionConfirmPayment}, payment.requested)
		require.Empty(t, payment.applied)
	})

	t.Run("invalid notification never reaches the gateway", func(t *testing.T) {
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		payment := newPayment()
		n := signedNotification("test-crc-key")
		n.Amount = 99999

		err := proc.HandleNotification(context.Background(), payment, n)
		require.ErrorIs(t, err, p24.ErrInvalidCallback)
		require.Empty(t, payment.ExternalID())
		require.Empty(t, payment.requested)
	})
}

func TestFetchStatus(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{0, ""},
		{1, processor.TransitionConfirmPrepared},
		{2, processor.TransitionConfirmPayment},
		{3, processor.TransitionConfirmRefund},
	}

	for _, c := range cases {
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/transaction/by/sessionId/pay-1", r.URL.Path)
			respond(w, map[string]any{"data": map[string]any{"status": c.status}})
		})

		got, err := proc.FetchStatus(context.Background(), newPayment())
		require.NoError(t, err)
		require.Equal(t, c.want, got, "status %d", c.status)
	}
}

func TestFetchStatus_UnknownStatus(t *testing.T) {
	proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"data": map[string]any{"status": 7}})
	})

	_, err := proc.FetchStatus(context.Background(), newPayment())
	require.ErrorIs(t, err, p24.ErrCommunication)
}

func TestStartRefund(t *testing.T) {
	t.Run("defaults to amount paid", func(t *testing.T) {
		var body map[string]any
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/transaction/refund", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			respond(w, map[string]any{"data": []map[string]any{}, "responseCode": 0})
		})

		payment := newPayment()
		payment.paid = decimal.RequireFromString("10.00")
		payment.externalID = "999"

		refunded, err := proc.StartRefund(context.Background(), payment, decimal.Zero)
		require.NoError(t, err)
		require.True(t, refunded.Equal(decimal.RequireFromString("10.00")))

		refunds := body["refunds"].([]any)
		require.Len(t, refunds, 1)
		item := refunds[0].(map[string]any)
		require.Equal(t, float64(999), item["orderId"])
		require.Equal(t, "pay-1", item["sessionId"])
		require.Equal(t, float64(1000), item["amount"])
		require.Equal(t, "https://shop.example.com/payments/pay-1/refund-callback", body["urlStatus"])
	})

	t.Run("partial amount", func(t *testing.T) {
		var body map[string]any
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			respond(w, map[string]any{"data": []map[string]any{}, "responseCode": 0})
		})

		payment := newPayment()
		payment.paid = decimal.RequireFromString("10.00")
		payment.externalID = "999"

		refunded, err := proc.StartRefund(context.Background(), payment, decimal.RequireFromString("2.50"))
		require.NoError(t, err)
		require.True(t, refunded.Equal(decimal.RequireFromString("2.50")))
		require.Equal(t, float64(250), body["refunds"].([]any)[0].(map[string]any)["amount"])
	})

	t.Run("fresh identifiers per attempt", func(t *testing.T) {
		var requestIDs, batchIDs []string
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			requestIDs = append(requestIDs, body["requestId"].(string))
			batchIDs = append(batchIDs, body["refundsUuid"].(string))
			respond(w, map[string]any{"data": []map[string]any{}, "responseCode": 0})
		})

		payment := newPayment()
		payment.paid = decimal.RequireFromString("10.00")
		payment.externalID = "999"

		for i := 0; i < 2; i++ {
			_, err := proc.StartRefund(context.Background(), payment, decimal.Zero)
			require.NoError(t, err)
		}

		require.Len(t, requestIDs, 2)
		require.NotEqual(t, requestIDs[0], requestIDs[1])
		require.NotEqual(t, batchIDs[0], batchIDs[1])
	})

	t.Run("rejected by gateway", func(t *testing.T) {
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			respond(w, map[string]any{"error": "refund failed"})
		})

		payment := newPayment()
		payment.paid = decimal.RequireFromString("10.00")
		payment.externalID = "999"

		_, err := proc.StartRefund(context.Background(), payment, decimal.Zero)
		require.ErrorIs(t, err, p24.ErrRefund)
	})

	t.Run("no gateway order id", func(t *testing.T) {
		proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		payment := newPayment()
		payment.paid = decimal.RequireFromString("10.00")

		_, err := proc.StartRefund(context.Background(), payment, decimal.Zero)
		require.Error(t, err)
	})
}

func TestChargeNotSupported(t *testing.T) {
	proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := proc.Charge(context.Background(), newPayment(), decimal.RequireFromString("10.00"))
	require.ErrorIs(t, err, p24.ErrNotSupported)
}

func TestReleaseLockNotSupported(t *testing.T) {
	proc := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := proc.ReleaseLock(context.Background(), newPayment())
	require.ErrorIs(t, err, p24.ErrNotSupported)
}
