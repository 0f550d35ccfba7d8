package idempotency

import (
	"errors"
	"time"
)

// Status values for ledger records.
const (
	StatusPending = "PENDING"
	StatusDone    = "DONE"
)

// Record is one ledger entry, keyed by the hash of the client's idempotency key.
type Record struct {
	KeyHash        string    `dynamodbav:"key_hash"` // PK
	BodyHash       string    `dynamodbav:"body_hash"`
	Status         string    `dynamodbav:"status"`
	Owner          string    `dynamodbav:"owner,omitempty"`
	Attempts       int       `dynamodbav:"attempts"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	ResponseBody   []byte    `dynamodbav:"response_body,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// HasResponse reports whether a replayable response is stored.
func (r *Record) HasResponse() bool {
	return r.ResponseStatus != 0 && len(r.ResponseBody) > 0
}

// Outcome is the ledger's verdict for an incoming request.
type Outcome int

const (
	// Proceed means the caller owns the key and must run the operation.
	Proceed Outcome = iota + 1
	// Replay means a response is stored and must be returned as is.
	Replay
	// InProgress means another request holds the key and has not finished.
	InProgress
	// Conflict means the key was already used with a different body.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Replay:
		return "replay"
	case InProgress:
		return "in_progress"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Decision is the result of Ledger.Begin.
type Decision struct {
	Outcome  Outcome
	KeyHash  string
	BodyHash string
	// Owner is set on Proceed and must accompany the Completion or Release.
	Owner string
	// Record is the stored entry for Replay, InProgress and Conflict.
	Record *Record
}

// Completion marks an owned PENDING record DONE with the response to replay.
// It is applied in the same atomic write as the side effect it guards.
type Completion struct {
	KeyHash    string
	Owner      string
	OrderID    string
	StatusCode int
	Body       []byte
}

var (
	// ErrKeyExists is returned by Backend.Insert when the key hash is taken.
	ErrKeyExists = errors.New("idempotency key already exists")
	// ErrOwnershipLost means the record is no longer PENDING under the given owner.
	ErrOwnershipLost = errors.New("idempotency record ownership lost")
)
