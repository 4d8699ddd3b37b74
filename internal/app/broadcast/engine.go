package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/eventq"
)

// ErrEngineClosed is returned after Close.
var ErrEngineClosed = errors.New("broadcast engine closed")

// CodeInternal is the ack code of failures without an OperationError.
const CodeInternal = "internal"

// Target addresses an emission to a room or to a single client.
type Target struct {
	Room     string
	ClientID string
}

// Transport delivers envelopes to connected clients.
type Transport interface {
	JoinRoom(clientID, room string)
	LeaveRoom(clientID, room string)
	// Emit reports whether the envelope was written to every addressed client.
	Emit(target Target, env Envelope) bool
}

// Executor runs client operations.
type Executor interface {
	Execute(ctx context.Context, clientID string, op Operation) (any, error)
}

// SnapshotFunc returns the full-state payload for a room.
type SnapshotFunc func(room string) any

// Config holds broadcast engine configuration.
type Config struct {
	MaxAttempts      int           // Delivery attempts per envelope and client
	RetryInitial     time.Duration // First retry delay
	RetryMax         time.Duration // Retry delay cap
	DedupTTL         time.Duration // How long completed operations are remembered
	DedupSize        int           // Most operations remembered at once
	PositionInterval time.Duration // Minimum interval between position events
	QueueSize        int           // Request queue size
	Batch            int           // Envelopes written per client per flush
}

// Engine serializes sequencing, subscriptions and delivery on one goroutine.
type Engine struct {
	cfg       Config
	transport Transport
	exec      Executor
	snapshot  SnapshotFunc
	metrics   Metrics
	now       func() time.Time

	queue *eventq.Queue[request]
	seq   *Sequencer
	subs  *Subscriptions
	dedup *Dedup

	pending atomic.Int64

	// Owned by the loop goroutine.
	runCtx     context.Context
	outbox     *Outbox
	throttle   *PositionThrottle
	retryTimer *time.Timer
}

// NewEngine creates a broadcast engine. metrics may be nil.
func NewEngine(cfg Config, transport Transport, exec Executor, snapshot SnapshotFunc, metrics Metrics) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 5 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 32
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if snapshot == nil {
		snapshot = func(string) any { return nil }
	}

	return &Engine{
		cfg:       cfg,
		transport: transport,
		exec:      exec,
		snapshot:  snapshot,
		metrics:   metrics,
		now:       time.Now,
		queue:     eventq.New[request](cfg.QueueSize, isLowValue),
		seq:       NewSequencer(),
		subs:      NewSubscriptions(),
		dedup:     NewDedup(cfg.DedupTTL, cfg.DedupSize),
		outbox:    NewOutbox(cfg.MaxAttempts, cfg.RetryInitial, cfg.RetryMax),
		throttle:  NewPositionThrottle(cfg.PositionInterval),
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// PublishState broadcasts a full-state event for the active playlist.
func (e *Engine) PublishState(ctx context.Context, playlistID string, data any) error {
	return e.push(ctx, stateRequest{playlistID: playlistID, data: data})
}

// PublishPosition broadcasts a throttled position event.
func (e *Engine) PublishPosition(ctx context.Context, playlistID string, data any) error {
	return e.push(ctx, positionRequest{item: positionItem{playlistID: playlistID, data: data}})
}

// PublishCollectionChanged broadcasts a collection change of a playlist, or
// of the whole collection when playlistID is empty.
func (e *Engine) PublishCollectionChanged(ctx context.Context, playlistID string, data any) error {
	return e.push(ctx, collectionRequest{playlistID: playlistID, data: data})
}

// Join subscribes a client to a room. The room snapshot is queued for the
// client before the subscription becomes active; the snapshot serverSeq is
// returned.
func (e *Engine) Join(ctx context.Context, clientID, room string) (uint64, error) {
	if _, err := ParseRoom(room); err != nil {
		return 0, err
	}
	reply := make(chan uint64, 1)
	if err := e.push(ctx, joinRequest{clientID: clientID, room: room, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case seq := <-reply:
		return seq, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Leave unsubscribes a client from a room.
func (e *Engine) Leave(ctx context.Context, clientID, room string) error {
	done := make(chan struct{})
	if err := e.push(ctx, leaveRequest{clientID: clientID, room: room, done: done}); err != nil {
		return err
	}
	return wait(ctx, done)
}

// Disconnect removes every subscription of a client and abandons its
// pending deliveries.
func (e *Engine) Disconnect(ctx context.Context, clientID string) error {
	done := make(chan struct{})
	if err := e.push(ctx, disconnectRequest{clientID: clientID, done: done}); err != nil {
		return err
	}
	return wait(ctx, done)
}

// SubmitOperation executes a client operation once per client and clientOpId
// within the dedup TTL and acknowledges it to the client. A repeated
// clientOpId from the same client returns the remembered record, rejections
// included, and re-sends its acknowledgment.
func (e *Engine) SubmitOperation(ctx context.Context, clientID, clientOpID string, op Operation) (OperationRecord, error) {
	run := func() (OperationRecord, error) {
		ack, err := e.execute(ctx, clientID, clientOpID, op)
		if err != nil {
			return OperationRecord{}, err
		}
		sent, err := e.sendAck(ctx, clientID, ack, false)
		if err != nil {
			return OperationRecord{}, err
		}
		return OperationRecord{ClientOpID: clientOpID, Result: sent}, nil
	}

	if clientOpID == "" {
		return run()
	}

	rec, hit, err := e.dedup.Do(ctx, clientID, clientOpID, run)
	if err != nil {
		return OperationRecord{}, err
	}
	if hit {
		e.metrics.DedupHit()
		zlog.Debug().Msgf("broadcast: duplicate operation: client=%s op=%s", clientID, clientOpID)
		if _, err := e.sendAck(ctx, clientID, rec.Result, true); err != nil {
			return OperationRecord{}, err
		}
	}
	return rec, nil
}

func (e *Engine) execute(ctx context.Context, clientID, clientOpID string, op Operation) (Ack, error) {
	if e.exec == nil {
		return Ack{}, errors.AssertionFailedf("no executor")
	}
	data, err := e.exec.Execute(ctx, clientID, op)
	if err == nil {
		return Ack{ClientOpID: clientOpID, Success: true, Data: data}, nil
	}
	if ctx.Err() != nil {
		return Ack{}, ctx.Err()
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return Ack{ClientOpID: clientOpID, Code: opErr.Code, Message: opErr.Message}, nil
	}
	return Ack{ClientOpID: clientOpID, Code: CodeInternal, Message: err.Error()}, nil
}

func (e *Engine) sendAck(ctx context.Context, clientID string, ack Ack, keepSeq bool) (Ack, error) {
	reply := make(chan Ack, 1)
	if err := e.push(ctx, ackRequest{clientID: clientID, ack: ack, keepSeq: keepSeq, reply: reply}); err != nil {
		return Ack{}, err
	}
	select {
	case sent := <-reply:
		return sent, nil
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// ServerSeq returns the last assigned serverSeq.
func (e *Engine) ServerSeq() uint64 {
	return e.seq.Server()
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Engine) SubscriptionCount() int {
	return e.subs.Count()
}

// Rooms returns the rooms a client is subscribed to.
func (e *Engine) Rooms(clientID string) []string {
	return e.subs.Rooms(clientID)
}

// PendingDeliveries returns the number of undelivered outbox entries.
func (e *Engine) PendingDeliveries() int {
	return int(e.pending.Load())
}

func (e *Engine) push(ctx context.Context, r request) error {
	if _, err := e.queue.Push(ctx, r); err != nil {
		if errors.Is(err, eventq.ErrClosed) {
			return ErrEngineClosed
		}
		return err
	}
	return nil
}

// Run processes requests until ctx is done or the engine is closed.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx

	zlog.Info().Msg("broadcast: engine started")
	defer func() {
		if e.retryTimer != nil {
			e.retryTimer.Stop()
		}
	}()

	for {
		r, err := e.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, eventq.ErrClosed) || ctx.Err() != nil {
				zlog.Info().Msg("broadcast: engine stopped")
				return nil
			}
			return errors.Wrap(err, "failed to read request")
		}
		e.handle(ctx, r)
		e.flush()
	}
}

// Close stops accepting requests.
func (e *Engine) Close() {
	e.queue.Close()
}

func (e *Engine) handle(ctx context.Context, r request) {
	switch v := r.(type) {
	case stateRequest:
		e.broadcast(EventStateFull, roomsFor(v.playlistID), v.data, nil)
	case positionRequest:
		emit, after, coalesced := e.throttle.Offer(v.item, e.now())
		if coalesced {
			e.metrics.PositionCoalesced()
		}
		if emit {
			e.broadcastPosition(v.item)
		}
		if after > 0 {
			e.later(after, flushRequest{})
		}
	case flushRequest:
		if item, ok := e.throttle.Flush(); ok {
			e.broadcastPosition(item)
		}
	case collectionRequest:
		pseq := e.seq.NextPlaylist(v.playlistID)
		e.broadcast(EventCollectionChanged, roomsFor(v.playlistID), v.data, &pseq)
	case joinRequest:
		v.reply <- e.join(v.clientID, v.room)
	case leaveRequest:
		if e.subs.Remove(v.clientID, v.room) {
			e.transport.LeaveRoom(v.clientID, v.room)
			zlog.Info().Msgf("broadcast: client left: client=%s room=%s", v.clientID, v.room)
		}
		e.metrics.Subscriptions(e.subs.Count())
		close(v.done)
	case disconnectRequest:
		rooms := e.subs.RemoveClient(v.clientID)
		for _, room := range rooms {
			e.transport.LeaveRoom(v.clientID, room)
		}
		abandoned := e.outbox.Abandon(v.clientID)
		if abandoned > 0 {
			e.metrics.DeliveriesAbandoned(abandoned)
		}
		e.metrics.Subscriptions(e.subs.Count())
		zlog.Info().Msgf("broadcast: client disconnected: client=%s rooms=%v abandoned=%d", v.clientID, rooms, abandoned)
		close(v.done)
	case ackRequest:
		v.reply <- e.ack(v.clientID, v.ack, v.keepSeq)
	case retryRequest:
		// flush follows
	default:
		panic(errors.AssertionFailedf("unexpected request %T", r))
	}
}

// broadcast assigns the next serverSeq and queues the envelope for every
// subscriber of the rooms in the same step.
func (e *Engine) broadcast(eventType string, rooms []string, data any, pseq *uint64) {
	env, err := newEnvelope(eventType, 0, data, e.now())
	if err != nil {
		zlog.Error().Err(err).Msgf("broadcast: event dropped: type=%s", eventType)
		return
	}
	env.ServerSeq = e.seq.NextServer()
	env.PlaylistSeq = pseq
	e.metrics.EnvelopeBroadcast(eventType)

	supersedable := eventType == EventPosition
	recipients := e.subs.Members(rooms...)
	for _, clientID := range recipients {
		superseded := e.outbox.Enqueue(&OutboxEntry{
			EventID:      env.EventID,
			ClientID:     clientID,
			TargetRoom:   e.matchedRoom(clientID, rooms),
			Envelope:     env,
			supersedable: supersedable,
		})
		for i := 0; i < superseded; i++ {
			e.metrics.PositionCoalesced()
		}
	}
	zlog.Debug().Msgf("broadcast: envelope queued: type=%s seq=%d recipients=%d", eventType, env.ServerSeq, len(recipients))
}

func (e *Engine) broadcastPosition(item positionItem) {
	e.broadcast(EventPosition, roomsFor(item.playlistID), item.data, nil)
}

func (e *Engine) matchedRoom(clientID string, rooms []string) string {
	for i := len(rooms) - 1; i >= 0; i-- {
		if e.subs.Has(clientID, rooms[i]) {
			return rooms[i]
		}
	}
	return ""
}

func (e *Engine) join(clientID, room string) uint64 {
	playlistID, _ := ParseRoom(room)
	env, err := newEnvelope(EventStateFull, 0, e.snapshot(room), e.now())
	if err != nil {
		// Snapshot payloads are produced in-process; failing to encode one is a bug.
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "snapshot for room %s", room))
	}
	env.ServerSeq = e.seq.NextServer()
	pseq := e.seq.Playlist(playlistID)
	env.PlaylistSeq = &pseq
	e.metrics.EnvelopeBroadcast(EventStateFull)

	// Queued before the subscription is active, so every later room
	// envelope follows the snapshot in this client's queue.
	e.outbox.Enqueue(&OutboxEntry{
		EventID:    env.EventID,
		ClientID:   clientID,
		TargetRoom: room,
		Envelope:   env,
		snapshot:   true,
	})
	e.flush()

	if e.subs.Add(clientID, room) {
		e.transport.JoinRoom(clientID, room)
	}
	e.metrics.Subscriptions(e.subs.Count())
	zlog.Info().Msgf("broadcast: client joined: client=%s room=%s snapshot_seq=%d", clientID, room, env.ServerSeq)
	return env.ServerSeq
}

func (e *Engine) ack(clientID string, ack Ack, keepSeq bool) Ack {
	seq := e.seq.NextServer()
	if !keepSeq {
		ack.ServerSeq = seq
	}
	env, err := newEnvelope(ack.eventType(), seq, ack, e.now())
	if err != nil {
		zlog.Error().Err(err).Msgf("broadcast: ack data not encodable: client=%s op=%s", clientID, ack.ClientOpID)
		ack.Data = nil
		env, _ = newEnvelope(ack.eventType(), seq, ack, e.now())
	}
	e.metrics.EnvelopeBroadcast(env.EventType)
	e.outbox.Enqueue(&OutboxEntry{
		EventID:  env.EventID,
		ClientID: clientID,
		Envelope: env,
	})
	return ack
}

type deliveryResult struct {
	delivered int
	failed    bool
}

// flush writes due envelopes, one goroutine per client, and waits for all.
func (e *Engine) flush() {
	defer func() { e.pending.Store(int64(e.outbox.Len())) }()

	for {
		now := e.now()
		ready := e.outbox.Ready(now, e.cfg.Batch)
		if len(ready) == 0 {
			break
		}

		results := e.deliver(ready)

		again := false
		for clientID, res := range results {
			e.outbox.Delivered(clientID, res.delivered)
			if res.delivered == e.cfg.Batch {
				again = true
			}
			if !res.failed {
				continue
			}
			if dropped := e.outbox.Failed(clientID, now); dropped != nil {
				e.dropped(dropped)
				again = true
			} else {
				e.metrics.DeliveryRetried()
			}
		}
		if !again {
			break
		}
	}
	e.scheduleRetry()
}

func (e *Engine) deliver(ready map[string][]*OutboxEntry) map[string]deliveryResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]deliveryResult, len(ready))
	)
	for clientID, entries := range ready {
		wg.Add(1)
		go func(clientID string, entries []*OutboxEntry) {
			defer wg.Done()
			var res deliveryResult
			for _, en := range entries {
				ok := e.transport.Emit(Target{ClientID: clientID}, en.Envelope)
				e.metrics.DeliveryAttempted(ok)
				if !ok {
					res.failed = true
					break
				}
				res.delivered++
			}
			mu.Lock()
			results[clientID] = res
			mu.Unlock()
		}(clientID, entries)
	}
	wg.Wait()
	return results
}

func (e *Engine) dropped(en *OutboxEntry) {
	zlog.Warn().Msgf("broadcast: delivery failed, dropping: client=%s type=%s seq=%d attempts=%d",
		en.ClientID, en.Envelope.EventType, en.Envelope.ServerSeq, en.Attempts)
	e.metrics.DeliveryDropped(en.Envelope.EventType)

	// A client that never got its snapshot must join again.
	if en.snapshot && e.subs.Remove(en.ClientID, en.TargetRoom) {
		e.transport.LeaveRoom(en.ClientID, en.TargetRoom)
		e.metrics.Subscriptions(e.subs.Count())
	}
}

func (e *Engine) scheduleRetry() {
	now := e.now()
	next, ok := e.outbox.NextRetryAt(now)
	if !ok {
		return
	}
	delay := next.Sub(now)
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = e.later(delay, retryRequest{})
}

func (e *Engine) later(d time.Duration, r request) *time.Timer {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return time.AfterFunc(d, func() {
		if _, err := e.queue.Push(ctx, r); err != nil && !errors.Is(err, eventq.ErrClosed) && ctx.Err() == nil {
			zlog.Warn().Err(err).Msgf("broadcast: failed to schedule %T", r)
		}
	})
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
