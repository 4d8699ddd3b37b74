package broadcast

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultDedupSize bounds the number of remembered operations.
const DefaultDedupSize = 4096

// Operation ids are chosen by clients, so they are only unique per client.
type dedupKey struct {
	clientID   string
	clientOpID string
}

func (k dedupKey) String() string {
	return k.clientID + "\x00" + k.clientOpID
}

// Dedup remembers completed operations per client and clientOpId for a TTL
// and coalesces concurrent submissions of the same operation.
type Dedup struct {
	ttl   time.Duration
	done  *expirable.LRU[dedupKey, OperationRecord]
	group singleflight.Group
}

// NewDedup creates a dedup store holding at most size records.
func NewDedup(ttl time.Duration, size int) *Dedup {
	if size <= 0 {
		size = DefaultDedupSize
	}
	return &Dedup{
		ttl:  ttl,
		done: expirable.NewLRU[dedupKey, OperationRecord](size, nil, ttl),
	}
}

// Do returns the record of a completed operation with the same client and
// id, waits for an in-flight one, or runs fn. hit reports that fn was not
// run. Runs that return an error are not remembered.
func (d *Dedup) Do(ctx context.Context, clientID, clientOpID string, fn func() (OperationRecord, error)) (rec OperationRecord, hit bool, err error) {
	key := dedupKey{clientID: clientID, clientOpID: clientOpID}
	if r, ok := d.done.Get(key); ok {
		return r, true, nil
	}

	ran := false
	ch := d.group.DoChan(key.String(), func() (any, error) {
		// A flight finishing between Get and DoChan has already stored its record.
		if r, ok := d.done.Get(key); ok {
			return r, nil
		}
		ran = true
		r, err := fn()
		if err != nil {
			return r, err
		}
		r.ExpiresAt = time.Now().Add(d.ttl)
		d.done.Add(key, r)
		return r, nil
	})

	select {
	case res := <-ch:
		r, _ := res.Val.(OperationRecord)
		return r, !ran, res.Err
	case <-ctx.Done():
		return OperationRecord{}, false, ctx.Err()
	}
}

// Len returns the number of remembered operations.
func (d *Dedup) Len() int {
	return d.done.Len()
}
