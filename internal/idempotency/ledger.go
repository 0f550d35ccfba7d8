package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Backend persists ledger records. Implementations must make Insert fail with
// ErrKeyExists when the key hash is already present, and make TakeOver and
// Release conditional on the record being PENDING under the given owner.
type Backend interface {
	Get(ctx context.Context, keyHash string) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	TakeOver(ctx context.Context, keyHash, prevOwner, newOwner string, attempts int, at time.Time) error
	Release(ctx context.Context, keyHash, owner string) error
}

// Options tune the ledger.
type Options struct {
	// TTL is written to expires_at as a retention hint.
	TTL time.Duration
	// StaleAfter is how long a PENDING record without response may sit before
	// a retry is allowed to take it over. Zero disables takeover.
	StaleAfter time.Duration
	// MaxAttempts bounds how many requests may own the same key.
	MaxAttempts int
}

// Ledger decides whether a create request runs, replays or is rejected.
type Ledger struct {
	backend Backend
	opts    Options
	nowFunc func() time.Time
	ownerFn func() string
}

const beginRounds = 3

// NewLedger returns a Ledger over backend.
func NewLedger(backend Backend, opts Options) *Ledger {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Ledger{
		backend: backend,
		opts:    opts,
		nowFunc: time.Now,
		ownerFn: uuid.NewString,
	}
}

// Begin claims key for a request with the given body, or reports what the
// caller must answer instead. A lost insert race is resolved by re-reading the
// winner's record, so concurrent duplicates never surface as storage errors.
func (l *Ledger) Begin(ctx context.Context, key string, body []byte) (Decision, error) {
	keyHash, bodyHash := HashKey(key), HashBody(body)

	var last *Record
	for round := 0; round < beginRounds; round++ {
		rec, err := l.backend.Get(ctx, keyHash)
		if err != nil {
			return Decision{}, fmt.Errorf("read idempotency record: %w", err)
		}

		now := l.nowFunc().UTC()
		if rec == nil {
			owner := l.ownerFn()
			err := l.backend.Insert(ctx, Record{
				KeyHash:   keyHash,
				BodyHash:  bodyHash,
				Status:    StatusPending,
				Owner:     owner,
				Attempts:  1,
				CreatedAt: now,
				UpdatedAt: now,
				ExpiresAt: now.Add(l.opts.TTL).Unix(),
			})
			if errors.Is(err, ErrKeyExists) {
				continue
			}
			if err != nil {
				return Decision{}, fmt.Errorf("insert idempotency record: %w", err)
			}
			return Decision{Outcome: Proceed, KeyHash: keyHash, BodyHash: bodyHash, Owner: owner}, nil
		}

		last = rec
		d := l.Evaluate(rec, bodyHash, now)
		if d.Outcome != Proceed {
			return d, nil
		}

		owner := l.ownerFn()
		err = l.backend.TakeOver(ctx, keyHash, rec.Owner, owner, rec.Attempts+1, now)
		if errors.Is(err, ErrOwnershipLost) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("take over idempotency record: %w", err)
		}
		return Decision{Outcome: Proceed, KeyHash: keyHash, BodyHash: bodyHash, Owner: owner}, nil
	}

	// Still contended after re-reading; another request is actively working on it.
	return Decision{Outcome: InProgress, KeyHash: keyHash, BodyHash: bodyHash, Record: last}, nil
}

// Evaluate decides the outcome for an existing record. Proceed is only
// returned for a stale PENDING record the caller may take over.
func (l *Ledger) Evaluate(rec *Record, bodyHash string, now time.Time) Decision {
	d := Decision{KeyHash: rec.KeyHash, BodyHash: bodyHash, Record: rec}
	switch {
	case rec.BodyHash != bodyHash:
		d.Outcome = Conflict
	case rec.Status == StatusDone || rec.HasResponse():
		d.Outcome = Replay
	case l.opts.StaleAfter > 0 &&
		now.Sub(rec.UpdatedAt) >= l.opts.StaleAfter &&
		rec.Attempts < l.opts.MaxAttempts:
		d.Outcome = Proceed
	default:
		d.Outcome = InProgress
	}
	return d
}

// Release gives up an owned PENDING record so the client may retry at once.
// It is a no-op for decisions that do not own the key.
func (l *Ledger) Release(ctx context.Context, d Decision) error {
	if d.Outcome != Proceed || d.Owner == "" {
		return nil
	}
	err := l.backend.Release(ctx, d.KeyHash, d.Owner)
	if err != nil && !errors.Is(err, ErrOwnershipLost) {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	return nil
}

// Complete builds the completion for a Proceed decision.
func (d Decision) Complete(orderID string, statusCode int, body []byte) Completion {
	return Completion{
		KeyHash:    d.KeyHash,
		Owner:      d.Owner,
		OrderID:    orderID,
		StatusCode: statusCode,
		Body:       body,
	}
}
