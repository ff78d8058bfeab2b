// Package events publishes cache store notifications on NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// PushedSubject receives one message per stored archive.
const PushedSubject = "volt.cache.pushed"

// Pushed describes an archive that replaced a slot's entry.
type Pushed struct {
	Slot        string    `json:"slot"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	At          time.Time `json:"at"`
}

type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

// Bus wraps a NATS connection for publishing events. A nil *Bus is valid
// and drops every event.
type Bus struct {
	conn conn
}

// New connects to the NATS server at url.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("volt-server")}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close drains pending messages and shuts the connection down.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to subj.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return nil
	}
	if subj == "" {
		return errors.New("empty subject")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}

// PublishPushed announces a stored archive.
func (b *Bus) PublishPushed(ctx context.Context, e Pushed) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return b.Publish(ctx, PushedSubject, e)
}
