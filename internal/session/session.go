// Package session pairs consecutive uploads from the same submitter.
//
// Each submitter key is either empty or holding one value. A Submit on an
// empty key starts holding; a Submit on a holding key hands back the held
// value and empties the key, so a held value is paired at most once.
package session

import (
	"context"
	"errors"
)

var ErrEmptyKey = errors.New("submitter key is required")

type Role int

const (
	// RoleFirst means the value is now held, waiting for a partner.
	RoleFirst Role = iota + 1
	// RoleSecond means the value completes a pair with Submission.First.
	RoleSecond
)

func (r Role) String() string {
	switch r {
	case RoleFirst:
		return "first"
	case RoleSecond:
		return "second"
	default:
		return "unknown"
	}
}

type Submission[V any] struct {
	Role  Role
	First V
}

type ResetOutcome int

const (
	NothingToReset ResetOutcome = iota
	Cleared
	// SessionExpired means a value was still present but had outlived the TTL.
	SessionExpired
)

func (o ResetOutcome) String() string {
	switch o {
	case Cleared:
		return "cleared"
	case SessionExpired:
		return "session_expired"
	default:
		return "nothing_to_reset"
	}
}

type Store[V any] interface {
	Submit(ctx context.Context, key string, value V) (Submission[V], error)
	Reset(ctx context.Context, key string) (ResetOutcome, error)
}
