package session

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/audio"
	"github.com/osa030/tagbox/internal/app/broadcast"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/filter"
	"github.com/osa030/tagbox/internal/app/lookup"
	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/app/session/registry"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// Operation result codes.
const (
	CodeSuccess        = "success"
	CodeUnknownCommand = "unknown_command"
	CodeInvalidArgs    = "invalid_args"
	CodeNoPlaylist     = "no_playlist"
	CodeNotPaused      = "not_paused"
	CodeUnknownTag     = "unknown_tag"
	CodeDeviceBusy     = "device_busy"
	CodePlaybackFailed = "playback_failed"
)

// codeFor classifies an operation failure.
func codeFor(err error) string {
	switch {
	case errors.Is(err, playback.ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, filter.ErrInvalidArgs), errors.Is(err, audio.ErrInvalidIndex):
		return CodeInvalidArgs
	case errors.Is(err, audio.ErrNoPlaylist):
		return CodeNoPlaylist
	case errors.Is(err, audio.ErrNothingToResume):
		return CodeNotPaused
	case errors.Is(err, lookup.ErrUnknownTag):
		return CodeUnknownTag
	case errors.Is(err, audio.ErrHardwareBusy):
		return CodeDeviceBusy
	default:
		return CodePlaybackFailed
	}
}

// Execute implements broadcast.Executor for observer clients.
func (m *Manager) Execute(ctx context.Context, clientID string, op broadcast.Operation) (any, error) {
	return m.Operate(ctx, filter.OriginClient, clientID, op)
}

// Operate checks an operation against the guard chain and runs it on the
// playback engine. Failures are returned as *broadcast.OperationError.
func (m *Manager) Operate(ctx context.Context, origin filter.Origin, clientID string, op broadcast.Operation) (playback.Snapshot, error) {
	var client *observer.Session
	if origin == filter.OriginClient {
		c, err := m.clients.Get(clientID)
		if err != nil {
			zlog.Debug().Msgf("session: operation from unregistered client: client=%s", clientID)
		} else {
			client = c
		}
	}

	req := filter.Request{Command: op.Command, Args: op.Args, Origin: origin}
	if result := m.filterChain.Execute(ctx, req, m.playback.Snapshot(), client); !result.Accepted {
		zlog.Info().Msgf("session: operation rejected: origin=%s client=%s command=%s code=%s", origin, clientID, op.Command, result.Code)
		return m.playback.Snapshot(), m.operationError(result.Code, nil)
	}
	if client != nil {
		if err := m.clients.RecordOperation(client.ID, m.now()); err != nil && !errors.Is(err, registry.ErrUnknownClient) {
			return playback.Snapshot{}, err
		}
	}

	cmd, err := filter.DecodeCommand(op.Command, op.Args)
	if err != nil {
		return m.playback.Snapshot(), m.operationError(codeFor(err), err)
	}

	snap, err := m.playback.Execute(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, playback.ErrEngineClosed) {
			return snap, err
		}
		zlog.Info().Err(err).Msgf("session: operation failed: origin=%s command=%s", origin, op.Command)
		return snap, m.operationError(codeFor(err), err)
	}

	m.metrics.OperationExecuted(CodeSuccess)
	zlog.Debug().Msgf("session: operation executed: origin=%s client=%s command=%s state=%s", origin, clientID, op.Command, snap.State)
	return snap, nil
}

func (m *Manager) operationError(code string, err error) error {
	m.metrics.OperationExecuted(code)
	return &broadcast.OperationError{
		Code:    code,
		Message: m.config.GetMessage(code),
		Err:     err,
	}
}

// PresentTag simulates a tag being presented.
func (m *Manager) PresentTag(ctx context.Context, uid string) error {
	return m.playback.PresentTag(ctx, uid)
}

// RemoveTag simulates the current tag being removed.
func (m *Manager) RemoveTag(ctx context.Context) error {
	return m.playback.RemoveTag(ctx)
}

// ManualAction runs a manual control action by name.
func (m *Manager) ManualAction(ctx context.Context, name string) error {
	a, err := control.ParseAction(name)
	if err != nil {
		return err
	}
	m.metrics.ManualAction(a.String())
	return m.playback.ManualAction(ctx, a)
}

// ForceRedetect makes the reader report uid as newly presented on its next
// read. An empty uid means the tag currently on the reader.
func (m *Manager) ForceRedetect(uid string) string {
	if uid == "" {
		if current, ok := m.poller.Current(); ok {
			uid = current
		} else {
			uid = m.playback.Snapshot().CurrentTag
		}
	}
	if uid != "" {
		m.poller.ForceRedetect(uid)
	}
	return uid
}

// Connect registers an observer client.
func (m *Manager) Connect(remoteAddr, userAgent string) *observer.Session {
	s := m.clients.Connect(remoteAddr, userAgent)
	m.metrics.SetConnectedClients(m.clients.Count())
	zlog.Info().Msgf("session: client connected: client=%s remote=%s", s.ID, remoteAddr)
	return s
}

// Join subscribes a client to a room and returns the snapshot serverSeq.
func (m *Manager) Join(ctx context.Context, clientID, room string) (uint64, error) {
	if _, err := m.clients.Get(clientID); err != nil {
		return 0, err
	}
	seq, err := m.broadcast.Join(ctx, clientID, room)
	if err != nil {
		return 0, err
	}
	_ = m.clients.Joined(clientID, room)
	return seq, nil
}

// Leave unsubscribes a client from a room.
func (m *Manager) Leave(ctx context.Context, clientID, room string) error {
	if err := m.broadcast.Leave(ctx, clientID, room); err != nil {
		return err
	}
	_ = m.clients.Left(clientID, room)
	return nil
}

// SubmitOperation runs an idempotent client operation and acknowledges it to
// the client.
func (m *Manager) SubmitOperation(ctx context.Context, clientID, clientOpID string, op broadcast.Operation) (broadcast.OperationRecord, error) {
	if _, err := m.clients.Get(clientID); err != nil {
		return broadcast.OperationRecord{}, err
	}
	return m.broadcast.SubmitOperation(ctx, clientID, clientOpID, op)
}

// Disconnect removes a client and abandons its pending deliveries.
func (m *Manager) Disconnect(ctx context.Context, clientID string) {
	if err := m.broadcast.Disconnect(ctx, clientID); err != nil {
		zlog.Warn().Err(err).Msgf("session: failed to disconnect client from broadcast: client=%s", clientID)
	}
	m.clients.Disconnect(clientID)
	m.metrics.SetConnectedClients(m.clients.Count())
	zlog.Info().Msgf("session: client disconnected: client=%s", clientID)
}
