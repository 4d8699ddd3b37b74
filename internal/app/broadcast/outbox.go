package broadcast

import (
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OutboxEntry is one envelope pending delivery to one client.
type OutboxEntry struct {
	EventID     string
	ClientID    string
	TargetRoom  string // empty for direct deliveries
	Envelope    Envelope
	Attempts    int
	MaxAttempts int
	NextRetryAt time.Time

	// Superseded by a newer entry of the same event type, never retried.
	supersedable bool
	// Snapshot delivered on join.
	snapshot bool
}

type clientQueue struct {
	entries []*OutboxEntry
	backoff *backoff.ExponentialBackOff
}

// Outbox holds per-client FIFO queues so each client sees envelopes in
// serverSeq order. Only the head of a queue is retried.
type Outbox struct {
	maxAttempts  int
	retryInitial time.Duration
	retryMax     time.Duration
	queues       map[string]*clientQueue
	size         int
}

// NewOutbox creates an outbox.
func NewOutbox(maxAttempts int, retryInitial, retryMax time.Duration) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Outbox{
		maxAttempts:  maxAttempts,
		retryInitial: retryInitial,
		retryMax:     retryMax,
		queues:       make(map[string]*clientQueue),
	}
}

// Enqueue appends an entry to its client's queue. Queued supersedable
// entries of the same event type are replaced; their count is returned.
func (o *Outbox) Enqueue(e *OutboxEntry) int {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = o.maxAttempts
	}
	if e.supersedable {
		e.MaxAttempts = 1
	}

	q := o.queues[e.ClientID]
	if q == nil {
		q = &clientQueue{}
		o.queues[e.ClientID] = q
	}

	superseded := 0
	if e.supersedable {
		kept := q.entries[:0]
		for _, old := range q.entries {
			if old.supersedable && old.Envelope.EventType == e.Envelope.EventType && old.Attempts == 0 {
				superseded++
				continue
			}
			kept = append(kept, old)
		}
		q.entries = kept
		o.size -= superseded
	}

	q.entries = append(q.entries, e)
	o.size++
	return superseded
}

// Ready returns, per client, the queued entries when the head is due.
func (o *Outbox) Ready(now time.Time, batch int) map[string][]*OutboxEntry {
	ready := make(map[string][]*OutboxEntry)
	for id, q := range o.queues {
		if len(q.entries) == 0 {
			continue
		}
		head := q.entries[0]
		if !head.NextRetryAt.IsZero() && head.NextRetryAt.After(now) {
			continue
		}
		n := len(q.entries)
		if batch > 0 && n > batch {
			n = batch
		}
		ready[id] = append([]*OutboxEntry(nil), q.entries[:n]...)
	}
	return ready
}

// Delivered removes the first n entries of a client's queue.
func (o *Outbox) Delivered(clientID string, n int) {
	q := o.queues[clientID]
	if q == nil || n <= 0 {
		return
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	q.entries = q.entries[n:]
	o.size -= n
	if q.backoff != nil {
		q.backoff.Reset()
	}
	o.cleanup(clientID)
}

// Failed records a failed attempt of the head entry. The head is dropped and
// returned once it has used up its attempts.
func (o *Outbox) Failed(clientID string, now time.Time) *OutboxEntry {
	q := o.queues[clientID]
	if q == nil || len(q.entries) == 0 {
		return nil
	}
	head := q.entries[0]
	head.Attempts++

	if head.Attempts >= head.MaxAttempts {
		q.entries = q.entries[1:]
		o.size--
		if q.backoff != nil {
			q.backoff.Reset()
		}
		o.cleanup(clientID)
		return head
	}

	if q.backoff == nil {
		q.backoff = o.newBackoff()
	}
	head.NextRetryAt = now.Add(q.backoff.NextBackOff())
	return nil
}

func (o *Outbox) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInitial
	b.MaxInterval = o.retryMax
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Abandon drops every pending entry of a client and returns how many.
func (o *Outbox) Abandon(clientID string) int {
	q := o.queues[clientID]
	if q == nil {
		return 0
	}
	n := len(q.entries)
	o.size -= n
	delete(o.queues, clientID)
	return n
}

// NextRetryAt returns when the earliest queue head is due. Heads never
// attempted are due at now.
func (o *Outbox) NextRetryAt(now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, q := range o.queues {
		if len(q.entries) == 0 {
			continue
		}
		at := q.entries[0].NextRetryAt
		if at.IsZero() {
			at = now
		}
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

// Pending returns copies of a client's queued entries.
func (o *Outbox) Pending(clientID string) []OutboxEntry {
	q := o.queues[clientID]
	if q == nil {
		return nil
	}
	out := make([]OutboxEntry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Clients returns the clients with pending entries, sorted.
func (o *Outbox) Clients() []string {
	out := make([]string, 0, len(o.queues))
	for id := range o.queues {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of pending entries.
func (o *Outbox) Len() int {
	return o.size
}

func (o *Outbox) cleanup(clientID string) {
	if q := o.queues[clientID]; q != nil && len(q.entries) == 0 {
		delete(o.queues, clientID)
	}
}
