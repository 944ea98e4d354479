package loki

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// pushTimeout bounds one Loki push.
const pushTimeout = 10 * time.Second

// Reader yields Kafka messages. *kafka.Reader satisfies it.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Shipper copies audit events from a Kafka topic into Loki.
type Shipper struct {
	reader Reader
	client *Client
	logger *slog.Logger
}

// NewShipper returns a Shipper. A nil logger uses slog.Default.
func NewShipper(reader Reader, client *Client, logger *slog.Logger) *Shipper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shipper{reader: reader, client: client, logger: logger}
}

// Run consumes until ctx is cancelled. Push failures are logged and the message is
// skipped; the reader commits offsets on its own schedule.
func (s *Shipper) Run(ctx context.Context) {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("audit shipper: kafka read failed", "error", err)
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := s.client.PushAuditJSON(pushCtx, msg.Value); err != nil {
			s.logger.Warn("audit shipper: loki push failed", "offset", msg.Offset, "error", err)
		}
		cancel()
	}
}
