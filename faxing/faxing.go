// Package faxing sends fax documents through pluggable providers.
package faxing

import "context"

// Recipient is the destination of a fax.
type Recipient struct {
	Name   string
	Number string
}

// Document is one file attached to a fax. Data carries the file content
// inline; URL points the provider at a fetchable copy instead. Exactly one
// of the two should be set.
type Document struct {
	Filename string
	Data     []byte
	URL      string
}

// Message is one outgoing fax.
type Message struct {
	Recipient Recipient
	Subject   string
	Body      string
	Quality   string
	Documents []Document
}

// Sender delivers a fax through one provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
