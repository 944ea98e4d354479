package domain

import "time"

// Channel is the delivery channel of a code.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Challenge is an issued code waiting for verification. The code itself is never
// stored, only its hash. Target is the phone number or email the code was sent to.
type Challenge struct {
	Target    string
	UserID    string
	Channel   Channel
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
