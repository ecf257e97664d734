package p24

import "github.com/shopspring/decimal"

// TransactionStatus is the gateway-side lifecycle status returned by
// GET /api/v1/transaction/by/sessionId. These are integer codes on the wire.
type TransactionStatus int

const (
	StatusNoPayment       TransactionStatus = 0
	StatusAdvancePayment  TransactionStatus = 1
	StatusPaymentMade     TransactionStatus = 2
	StatusPaymentReturned TransactionStatus = 3
)

// Refund status codes reported for items of a refund batch.
const (
	RefundCompleted = 0
	RefundRejected  = 1
)

// RegisterTransaction is the input for Client.RegisterTransaction. SessionID
// is the caller-chosen idempotency key for one checkout attempt; it must stay
// stable across retries of the same attempt.
type RegisterTransaction struct {
	SessionID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Email       string
	URLReturn   string
	URLStatus   string

	// Optional fields, omitted from the request body when zero.
	Country       string
	Language      string
	TimeLimit     int
	Channel       int
	WaitForResult *bool
	TransferLabel string
	MethodRefID   string
}

type registerPayload struct {
	MerchantID    int    `json:"merchantId"`
	PosID         int    `json:"posId"`
	SessionID     string `json:"sessionId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	Email         string `json:"email"`
	URLReturn     string `json:"urlReturn"`
	URLStatus     string `json:"urlStatus"`
	Country       string `json:"country,omitempty"`
	Language      string `json:"language,omitempty"`
	TimeLimit     int    `json:"timeLimit,omitempty"`
	Channel       int    `json:"channel,omitempty"`
	WaitForResult *bool  `json:"waitForResult,omitempty"`
	TransferLabel string `json:"transferLabel,omitempty"`
	MethodRefID   string `json:"methodRefId,omitempty"`
	Sign          string `json:"sign"`
}

type registerResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

type verifyPayload struct {
	MerchantID int    `json:"merchantId"`
	PosID      int    `json:"posId"`
	SessionID  string `json:"sessionId"`
	OrderID    int64  `json:"orderId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Sign       string `json:"sign"`
}

// VerifyResult confirms that the gateway moved the funds from the advance
// state to settled.
type VerifyResult struct {
	Status string `json:"status"`
}

type verifyResponse struct {
	Data VerifyResult `json:"data"`
}

// TransactionInfo is the transaction record returned by the by-session lookup.
type TransactionInfo struct {
	OrderID     int64             `json:"orderId"`
	SessionID   string            `json:"sessionId"`
	Status      TransactionStatus `json:"status"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Email       string            `json:"clientEmail"`
	MethodID    int               `json:"paymentMethod"`
	Statement   string            `json:"statement"`
}

type transactionInfoResponse struct {
	Data TransactionInfo `json:"data"`
}

// RefundItem is a single refund of a refund batch.
type RefundItem struct {
	OrderID   int64  `json:"orderId"`
	SessionID string `json:"sessionId"`
	Amount    int64  `json:"amount"`
}

type refundPayload struct {
	RequestID   string       `json:"requestId"`
	RefundsUUID string       `json:"refundsUuid"`
	URLStatus   string       `json:"urlStatus,omitempty"`
	Refunds     []RefundItem `json:"refunds"`
}

// RefundResult reports the outcome for one item of a refund batch.
type RefundResult struct {
	OrderID     int64  `json:"orderId"`
	SessionID   string `json:"sessionId"`
	Amount      int64  `json:"amount"`
	Status      int    `json:"status"`
	Description string `json:"description,omitempty"`
}

// RefundResponse is the gateway's answer to a refund batch.
type RefundResponse struct {
	Data         []RefundResult `json:"data"`
	ResponseCode int            `json:"responseCode"`
}

// RefundInfo is a refund record returned by the by-order lookup.
type RefundInfo struct {
	OrderID   int64  `json:"orderId"`
	SessionID string `json:"sessionId"`
	Amount    int64  `json:"amount"`
	Status    int    `json:"status"`
}

type refundInfoResponse struct {
	Data []RefundInfo `json:"data"`
}

// PaymentMethod describes one payment method offered by the gateway.
type PaymentMethod struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status bool   `json:"status"`
	ImgURL string `json:"imgUrl,omitempty"`
}

type paymentMethodsResponse struct {
	Data []PaymentMethod `json:"data"`
}
