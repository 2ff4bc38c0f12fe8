// Package sms sends text messages through pluggable providers.
package sms

import "context"

// Message is one outgoing text message. An empty From falls back to the
// provider's configured sender number or messaging service.
type Message struct {
	To   string
	From string
	Body string
}

// Sender delivers a message through one provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
