// Package emailing sends transactional email through pluggable providers.
package emailing

import "context"

// Message is one outgoing email. TemplateID and Variables drive providers
// with server-side templating; Subject plus the body parts drive plain
// delivery. A message may carry both, the provider uses what it supports.
type Message struct {
	From       string
	To         []string
	Subject    string
	TextBody   string
	HTMLBody   string
	TemplateID int64
	Variables  map[string]any
}

// Sender delivers a message through one provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
