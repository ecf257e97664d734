package p24

import "github.com/alovak/p24flow/internal/sign"

// Notification is the asynchronous payload the gateway POSTs to the merchant's
// status URL after a transaction event. It is untrusted until its signature
// has been verified against the CRC key.
type Notification struct {
	MerchantID   int    `json:"merchantId"`
	PosID        int    `json:"posId"`
	SessionID    string `json:"sessionId"`
	Amount       int64  `json:"amount"`
	OriginAmount int64  `json:"originAmount"`
	Currency     string `json:"currency"`
	OrderID      int64  `json:"orderId"`
	MethodID     int    `json:"methodId"`
	Statement    string `json:"statement"`
	Sign         string `json:"sign"`
}

// MissingFields lists the signed fields the notification did not carry.
// All nine enter the signature, so an absent one makes verification
// impossible.
func (n Notification) MissingFields() []string {
	var missing []string

	if n.MerchantID == 0 {
		missing = append(missing, "merchantId")
	}
	if n.PosID == 0 {
		missing = append(missing, "posId")
	}
	if n.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if n.Amount == 0 {
		missing = append(missing, "amount")
	}
	if n.OriginAmount == 0 {
		missing = append(missing, "originAmount")
	}
	if n.Currency == "" {
		missing = append(missing, "currency")
	}
	if n.OrderID == 0 {
		missing = append(missing, "orderId")
	}
	if n.MethodID == 0 {
		missing = append(missing, "methodId")
	}
	if n.Statement == "" {
		missing = append(missing, "statement")
	}

	return missing
}

// ExpectedSign recomputes the signature the gateway should have produced for
// this notification with the given CRC key.
func (n Notification) ExpectedSign(crcKey string) string {
	return sign.Sum([]sign.Field{
		{Key: "merchantId", Value: n.MerchantID},
		{Key: "posId", Value: n.PosID},
		{Key: "sessionId", Value: n.SessionID},
		{Key: "amount", Value: n.Amount},
		{Key: "originAmount", Value: n.OriginAmount},
		{Key: "currency", Value: n.Currency},
		{Key: "orderId", Value: n.OrderID},
		{Key: "methodId", Value: n.MethodID},
		{Key: "statement", Value: n.Statement},
	}, crcKey)
}
