// Package lock provides named, timeout-bounded mutual exclusion used to
// serialize concurrent mutations of the same ticket.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrAcquisition is matched by every failure to obtain a lock within its blocking window.
var ErrAcquisition = errors.New("lock acquisition timed out")

// AcquisitionError carries the lock name and how long the caller waited.
type AcquisitionError struct {
	Name   string
	Waited time.Duration
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("could not acquire lock %q within %s", e.Name, e.Waited)
}

func (e *AcquisitionError) Is(target error) bool {
	return target == ErrAcquisition
}

// Options bounds a single acquisition.
type Options struct {
	// Timeout is how long the lock stays held once acquired if never released.
	Timeout time.Duration
	// BlockingTimeout is how long Acquire waits for a contended lock.
	BlockingTimeout time.Duration
}

// Handle is an acquired lock.
type Handle interface {
	Name() string
	Release(ctx context.Context) error
}

// Locker hands out named locks.
type Locker interface {
	Acquire(ctx context.Context, name string, opts Options) (Handle, error)
}

// WithLock runs fn while holding name. The lock is released on every exit path,
// including panics inside fn. Release errors are not returned because the lock
// expires on its own after opts.Timeout.
func WithLock(ctx context.Context, locker Locker, name string, opts Options, fn func(ctx context.Context) error) error {
	handle, err := locker.Acquire(ctx, name, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = handle.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

// TicketKey is the lock name shared by every mutation of one ticket.
func TicketKey(ticketID int64) string {
	return "ticket_assign:" + strconv.FormatInt(ticketID, 10)
}

// BulkKey names a lock over a set of ids; ordering of ids does not matter.
func BulkKey(prefix string, ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return prefix + ":" + strings.Join(parts, ",")
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextDelay(retry time.Duration, deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if remaining < retry {
		return remaining
	}
	return retry
}
