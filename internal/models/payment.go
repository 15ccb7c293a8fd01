package models

import "time"

// PaymentStatusSuccess is the only callback status that settles an order
const PaymentStatusSuccess = "success"

// CallbackForm carries the fields the provider posts to the callback endpoint
type CallbackForm struct {
	Status           string `json:"status"`
	PaymentID        string `json:"paymentId"`
	ConversationID   string `json:"conversationId"`
	ConversationData string `json:"conversationData"`
	MDStatus         string `json:"mdStatus"`
	Signature        string `json:"-"`
}

// Succeeded reports whether the provider settled the payment
func (f CallbackForm) Succeeded() bool {
	return f.Status == PaymentStatusSuccess
}

// PaymentSession is returned to the client that started a payment
type PaymentSession struct {
	ConversationID string `json:"conversationId"`
	HTMLContent    string `json:"htmlContent"`
}

// PaymentOutcome is pushed to the client connection waiting on a conversation
type PaymentOutcome struct {
	CallbackForm
	OrderFound bool `json:"orderFound"`
	// Settled is true only when the order ends up Paid
	Settled bool       `json:"settled"`
	PaidAt  *time.Time `json:"paidAt,omitempty"`
}
