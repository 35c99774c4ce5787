// Package relay publishes proof records to NATS for the distributed-ledger
// submitter.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/prover"
)

// DefaultSubject is where envelopes go unless configured otherwise.
const DefaultSubject = "psychescore.records"

// Envelope is the published message.
type Envelope struct {
	RecordHash string          `json:"record_hash"`
	Record     json.RawMessage `json:"record"`
	Proof      *prover.Proof   `json:"proof,omitempty"`
}

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Relay publishes envelopes on one subject.
type Relay struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

// Connect dials NATS at url.
func Connect(url, subject string) (*Relay, error) {
	nc, err := nats.Connect(url, nats.Name("psychescore-ledgerd"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	r := New(nc, subject)
	r.conn = nc
	return r, nil
}

// New wraps an existing publisher.
func New(pub Publisher, subject string) *Relay {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Relay{pub: pub, subject: subject}
}

func (r *Relay) Subject() string { return r.subject }

// Publish sends env as JSON.
func (r *Relay) Publish(env Envelope) error {
	if len(env.Record) == 0 {
		return errors.New("relay: envelope has no record")
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.pub.Publish(r.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", r.subject, err)
	}
	return nil
}

// Close drains the connection when the relay owns one.
func (r *Relay) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Drain()
}
