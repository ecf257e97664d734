package merchant

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/alovak/p24flow/merchant/models"
	"github.com/alovak/p24flow/p24"
)

// API is the HTTP API for the merchant service, including the inbound
// notification endpoint the gateway posts to.
type API struct {
	service *Service
}

func NewAPI(service *Service) *API {
	return &API{
		service: service,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", a.createPayment)
		r.Route("/{paymentID}", func(r chi.Router) {
			r.Get("/", a.getPayment)
			r.Post("/refund", a.startRefund)
			r.Post("/reconcile", a.reconcile)
			r.Post("/callback", a.gatewayCallback)
		})
	})
}

type paymentResponse struct {
	*models.Payment
	RedirectURL string `json:"redirect_url,omitempty"`
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	create := CreatePayment{}
	err := json.NewDecoder(r.Body).Decode(&create)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, redirectURL, err := a.service.CreatePayment(r.Context(), create)
	if err != nil {
		if errors.Is(err, p24.ErrLockFailure) {
			// Registration was rejected by the gateway; the checkout
			// attempt cannot proceed.
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(paymentResponse{Payment: payment, RedirectURL: redirectURL})
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	payment, err := a.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payment)
}

func (a *API) startRefund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	refunded, err := a.service.StartRefund(r.Context(), paymentID, body.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, p24.ErrRefund):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		AmountRefunded decimal.Decimal `json:"amount_refunded"`
	}{refunded})
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	transition, err := a.service.Reconcile(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Transition string `json:"transition,omitempty"`
	}{transition})
}

// gatewayCallback receives the gateway's asynchronous transaction
// notification. A 200 acknowledges the delivery; any other status makes the
// gateway redeliver, which is exactly what a failed verify needs.
func (a *API) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	notification, err := decodeNotification(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = a.service.HandleNotification(r.Context(), paymentID, notification)
	if err != nil {
		switch {
		case errors.Is(err, p24.ErrInvalidCallback):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeNotification accepts the notification as JSON or as a classic
// form-encoded POST; the gateway has used both.
func decodeNotification(r *http.Request) (p24.Notification, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var n p24.Notification
		err := json.NewDecoder(r.Body).Decode(&n)
		return n, err
	}

	if err := r.ParseForm(); err != nil {
		return p24.Notification{}, err
	}

	// Unparseable numbers decode to zero and fail field validation later.
	formInt := func(key string) int64 {
		v, _ := strconv.ParseInt(r.PostForm.Get(key), 10, 64)
		return v
	}

	return p24.Notification{
		MerchantID:   int(formInt("merchantId")),
		PosID:        int(formInt("posId")),
		SessionID:    r.PostForm.Get("sessionId"),
		Amount:       formInt("amount"),
		OriginAmount: formInt("originAmount"),
		Currency:     r.PostForm.Get("currency"),
		OrderID:      formInt("orderId"),
		MethodID:     int(formInt("methodId")),
		Statement:    r.PostForm.Get("statement"),
		Sign:         r.PostForm.Get("sign"),
	}, nil
}
