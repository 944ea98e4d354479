// Package sms delivers text messages through an HTTP SMS gateway or Twilio.
package sms

import "context"

// Sender delivers a single text message to a phone number.
type Sender interface {
	SendSMS(ctx context.Context, phone, message string) error
}
