// Package bus is the named-channel rendezvous between the backend processes.
// It rides on Postgres NOTIFY/LISTEN: no durable queue, no delivery guarantee
// when nobody is listening. Consumers must treat every received message as
// "something changed, re-derive from storage", never as a full delta.
package bus

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	// ChannelTriggerMatching wakes the matching engine. Published by the
	// harvester after an ingestion run and by the HTTP boundary after a new
	// subscription is stored.
	ChannelTriggerMatching = "trigger_matching"

	// ChannelTriggerNotifying wakes the notification dispatcher. Published by
	// the matching engine after producing at least one new match.
	ChannelTriggerNotifying = "trigger_notifying"
)

// Sender publishes a textual payload on a named channel, fire-and-forget.
type Sender interface {
	Send(ctx context.Context, channel, payload string) error
}

// EncodePayload armors a payload for the NOTIFY command channel. NOTIFY
// carries plain text and does not escape anything, so a payload containing
// quotes or control characters would corrupt the message in transit. This is
// a correctness requirement of the transport, not cosmetics.
func EncodePayload(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// DecodePayload reverses EncodePayload.
func DecodePayload(data string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode channel payload: %w", err)
	}
	return string(decoded), nil
}

// PGSender publishes over the store's own connection pool via pg_notify.
type PGSender struct {
	db *gorm.DB
}

func NewPGSender(db *gorm.DB) *PGSender {
	return &PGSender{db: db}
}

func (s *PGSender) Send(ctx context.Context, channel, payload string) error {
	err := s.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", channel, EncodePayload(payload)).Error
	if err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// Listener blocks on one channel of one Postgres connection. Receive is a
// one-shot wait, not a persistent subscription: each call resolves on the
// next message and the worker loop calls it again.
type Listener struct {
	pl      *pq.Listener
	channel string
}

// NewListener opens a dedicated listening connection and subscribes it to the
// given channel.
func NewListener(dsn, channel string) (*Listener, error) {
	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, nil)
	if err := pl.Listen(channel); err != nil {
		_ = pl.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}
	return &Listener{pl: pl, channel: channel}, nil
}

// Receive blocks until one message arrives and returns its decoded payload.
// After a connection drop lib/pq reconnects and delivers a nil notification;
// messages may have been lost in between, so that is surfaced as an empty
// payload, which decodes to an empty scope and forces a full rescan.
func (l *Listener) Receive(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case n, ok := <-l.pl.Notify:
		if !ok {
			return "", fmt.Errorf("listener for %s closed", l.channel)
		}
		if n == nil {
			return "", nil
		}
		return DecodePayload(n.Extra)
	}
}

func (l *Listener) Close() error {
	return l.pl.Close()
}
