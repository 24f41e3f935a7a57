// Package idempotency remembers responses to client-keyed requests so a retried
// request gets the original answer instead of being applied twice.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Result      []byte `json:"result"`
}

// Get returns the stored response for key, or nil if there is none.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	data, ok, err := i.backend.Load(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrapf(err, "decode idempotent response %s", key)
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.backend.Save(ctx, key, data, i.ttl)
}
