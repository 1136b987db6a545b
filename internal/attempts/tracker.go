// Package attempts counts failed logins per identity over a sliding window.
package attempts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hipaa-training/internal/audit"
)

const (
	DefaultMaxFailures = 5
	DefaultWindow      = 15 * time.Minute
	MaxIdentityLength  = 100
)

var ErrInvalidIdentity = errors.New("invalid identity")

type Store interface {
	Insert(ctx context.Context, identity, ip string, at time.Time) error
	Reserve(ctx context.Context, identity, ip string, at, since time.Time, maxFailures int) (int, bool, error)
	CountSince(ctx context.Context, identity string, since time.Time) (int, error)
	OldestSince(ctx context.Context, identity string, since time.Time) (time.Time, bool, error)
	DeleteIdentity(ctx context.Context, identity string) error
}

type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) audit.Event
}

// Tracker blocks an identity once MaxFailures failures fall inside the trailing
// window. Old failures age out on their own, so no unlock step exists.
type Tracker struct {
	store       Store
	audit       Auditor
	maxFailures int
	window      time.Duration
	now         func() time.Time
}

func NewTracker(store Store, auditor Auditor) *Tracker {
	return &Tracker{
		store:       store,
		audit:       auditor,
		maxFailures: DefaultMaxFailures,
		window:      DefaultWindow,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) WithPolicy(maxFailures int, window time.Duration) *Tracker {
	if maxFailures > 0 {
		t.maxFailures = maxFailures
	}
	if window > 0 {
		t.window = window
	}
	return t
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Window() time.Duration { return t.window }

// Check reports whether identity may attempt a login. Store errors deny.
func (t *Tracker) Check(ctx context.Context, identity string) (bool, error) {
	if !validIdentity(identity) {
		return false, nil
	}

	count, err := t.store.CountSince(ctx, identity, t.now().Add(-t.window))
	if err != nil {
		return false, err
	}
	if count < t.maxFailures {
		return true, nil
	}

	t.lockedOut(ctx, identity, count)
	return false, nil
}

// Reserve is Check and RecordFailure as one serialized step: when identity is
// not locked out a failure is recorded before the credentials are examined,
// and a successful login removes it again through Clear.
func (t *Tracker) Reserve(ctx context.Context, identity, ip string) (bool, error) {
	if !validIdentity(identity) {
		return false, nil
	}
	if ip == "" {
		ip = audit.UnknownIP
	}

	now := t.now()
	count, ok, err := t.store.Reserve(ctx, identity, ip, now, now.Add(-t.window), t.maxFailures)
	if err != nil {
		return false, err
	}
	if !ok {
		t.lockedOut(ctx, identity, count)
	}
	return ok, nil
}

func (t *Tracker) lockedOut(ctx context.Context, identity string, count int) {
	if t.audit == nil {
		return
	}
	t.audit.Log(ctx, audit.Entry{
		EventType: audit.EventBruteForceLockout,
		Details:   fmt.Sprintf("Login blocked for %s: %d failed attempts in last %d minutes", identity, count, int(t.window.Minutes())),
		Severity:  audit.SeverityWarning,
	})
}

func (t *Tracker) RecordFailure(ctx context.Context, identity, ip string) error {
	if !validIdentity(identity) {
		return ErrInvalidIdentity
	}
	if ip == "" {
		ip = audit.UnknownIP
	}
	return t.store.Insert(ctx, identity, ip, t.now())
}

func (t *Tracker) Clear(ctx context.Context, identity string) error {
	if !validIdentity(identity) {
		return ErrInvalidIdentity
	}
	return t.store.DeleteIdentity(ctx, identity)
}

// RetryAfter is the time until the oldest counted failure leaves the window.
func (t *Tracker) RetryAfter(ctx context.Context, identity string) (time.Duration, error) {
	if !validIdentity(identity) {
		return 0, ErrInvalidIdentity
	}

	now := t.now()
	oldest, ok, err := t.store.OldestSince(ctx, identity, now.Add(-t.window))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	wait := oldest.Add(t.window).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait, nil
}

func validIdentity(identity string) bool {
	return identity != "" && len(identity) <= MaxIdentityLength
}
