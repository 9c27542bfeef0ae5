package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("doctor day lock not acquired")

// Locker serializes booking writes for one doctor on one calendar day.
// It only narrows contention; the database constraint is the final arbiter.
type Locker interface {
	WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error
}

// DoctorDayLocker holds a SET NX key per doctor and day. The value is a
// per-holder token so an expired holder cannot delete a successor's key.
type DoctorDayLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

type LockOption func(*DoctorDayLocker)

// WithWait lets a contender retry for up to d before giving up.
func WithWait(d time.Duration) LockOption {
	return func(l *DoctorDayLocker) { l.wait = d }
}

func NewRedisDoctorDayLocker(client *redis.Client, ttl time.Duration, opts ...LockOption) *DoctorDayLocker {
	l := &DoctorDayLocker{client: client, ttl: ttl, poll: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func DoctorDayKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:doctor:%s:%s", doctorID, day.Format(time.DateOnly))
}

func (l *DoctorDayLocker) WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := DoctorDayKey(doctorID, day)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		_, _ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Result()
	}()

	// fn must not outlive the key.
	held, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(held)
}

func (l *DoctorDayLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire doctor day lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// NoopLocker runs fn directly. Used by tools that talk to the database only.
type NoopLocker struct{}

func (NoopLocker) WithDoctorDayLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
