package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagbox/internal/app/broadcast"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/filter"
	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/app/session"
	"github.com/osa030/tagbox/internal/app/session/state"
	"github.com/osa030/tagbox/internal/infra/config"
)

type fakeController struct {
	mu        sync.Mutex
	presented []string
	removed   int
	actions   []string
	ops       []broadcast.Operation
	origins   []filter.Origin
	redetect  string
	opErr     error
}

func (f *fakeController) PresentTag(ctx context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presented = append(f.presented, uid)
	return nil
}

func (f *fakeController) RemoveTag(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeController) ManualAction(ctx context.Context, name string) error {
	if _, err := control.ParseAction(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, name)
	return nil
}

func (f *fakeController) Operate(ctx context.Context, origin filter.Origin, clientID string, op broadcast.Operation) (playback.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	f.origins = append(f.origins, origin)
	if f.opErr != nil {
		return playback.Snapshot{State: playback.StateStopped}, f.opErr
	}
	return playback.Snapshot{State: playback.StatePlaying, PlaylistID: "P1", Volume: 40}, nil
}

func (f *fakeController) Status() session.Status {
	return session.Status{
		Device:    state.Info{DeviceID: "dev-1", Phase: state.PhaseDegraded, Degraded: []string{"tagreader"}},
		Playback:  playback.Snapshot{State: playback.StatePaused, PlaylistID: "P1"},
		ReaderTag: "A",
		ServerSeq: 12,
	}
}

func (f *fakeController) ForceRedetect(uid string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uid == "" {
		return f.redetect
	}
	return uid
}

func (f *fakeController) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func newTestConfig() *config.Config {
	return &config.Config{
		Messages: config.MessagesConfig{
			Success:      "ok",
			DefaultError: "failed",
			NoPlaylist:   "insert a tag first",
		},
	}
}

func newTestServer(t *testing.T, ctrl Controller, cfg *config.Config) *ControlClient {
	t.Helper()

	path, handler := NewControlServiceHandler(
		NewControlService(ctrl, cfg),
		connect.WithInterceptors(NewOperatorAuthInterceptor(cfg)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewControlClient(srv.Client(), srv.URL, cfg.Server.OperatorToken)
}

func TestControlService_Tags(t *testing.T) {
	ctrl := &fakeController{}
	client := newTestServer(t, ctrl, newTestConfig())
	ctx := context.Background()

	resp, err := client.PresentTag(ctx, "04A1B2")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = client.RemoveTag(ctx)
	require.NoError(t, err)

	_, err = client.PresentTag(ctx, "")
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	ctrl.locked(func() {
		assert.Equal(t, []string{"04A1B2"}, ctrl.presented)
		assert.Equal(t, 1, ctrl.removed)
	})
}

func TestControlService_ManualAction(t *testing.T) {
	ctrl := &fakeController{}
	client := newTestServer(t, ctrl, newTestConfig())
	ctx := context.Background()

	_, err := client.ManualAction(ctx, "volume_up")
	require.NoError(t, err)

	_, err = client.ManualAction(ctx, "self_destruct")
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	ctrl.locked(func() {
		assert.Equal(t, []string{"volume_up"}, ctrl.actions)
	})

	actions, err := client.ListActions(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, len(control.Actions()))
	assert.Contains(t, actions, "seek_forward")
}

func TestControlService_SubmitOperation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := &fakeController{}
		client := newTestServer(t, ctrl, newTestConfig())

		resp, err := client.SubmitOperation(context.Background(), "setVolume", map[string]any{"volume": 40})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, session.CodeSuccess, resp.Code)
		assert.Equal(t, "ok", resp.Message)
		assert.Equal(t, playback.StatePlaying, resp.Playback.State)
		assert.Equal(t, 40, resp.Playback.Volume)

		ctrl.locked(func() {
			require.Len(t, ctrl.ops, 1)
			assert.Equal(t, "setVolume", ctrl.ops[0].Command)
			assert.EqualValues(t, 40, ctrl.ops[0].Args["volume"])
			assert.Equal(t, filter.OriginOperator, ctrl.origins[0])
		})
	})

	t.Run("rejected", func(t *testing.T) {
		ctrl := &fakeController{opErr: &broadcast.OperationError{Code: session.CodeNoPlaylist, Message: "insert a tag first"}}
		client := newTestServer(t, ctrl, newTestConfig())

		resp, err := client.SubmitOperation(context.Background(), "play", nil)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, session.CodeNoPlaylist, resp.Code)
		assert.Equal(t, "insert a tag first", resp.Message)
		assert.Equal(t, playback.StateStopped, resp.Playback.State)
	})

	t.Run("internal failure", func(t *testing.T) {
		ctrl := &fakeController{opErr: errors.New("engine closed")}
		client := newTestServer(t, ctrl, newTestConfig())

		_, err := client.SubmitOperation(context.Background(), "play", nil)
		require.Error(t, err)
		assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
	})
}

func TestControlService_GetStatus(t *testing.T) {
	client := newTestServer(t, &fakeController{}, newTestConfig())

	resp, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-1", resp.Status.Device.DeviceID)
	assert.Equal(t, state.PhaseDegraded, resp.Status.Device.Phase)
	assert.Equal(t, []string{"tagreader"}, resp.Status.Device.Degraded)
	assert.Equal(t, playback.StatePaused, resp.Status.Playback.State)
	assert.Equal(t, "A", resp.Status.ReaderTag)
	assert.Equal(t, uint64(12), resp.Status.ServerSeq)
}

func TestControlService_ForceRedetect(t *testing.T) {
	ctrl := &fakeController{}
	client := newTestServer(t, ctrl, newTestConfig())
	ctx := context.Background()

	_, err := client.ForceRedetect(ctx, "")
	require.Error(t, err)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	ctrl.locked(func() { ctrl.redetect = "A" })
	uid, err := client.ForceRedetect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "A", uid)

	uid, err = client.ForceRedetect(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", uid)
}

func TestOperatorAuthInterceptor(t *testing.T) {
	cfg := newTestConfig()
	cfg.Server.OperatorToken = "secret"

	t.Run("valid token", func(t *testing.T) {
		client := newTestServer(t, &fakeController{}, cfg)
		_, err := client.GetStatus(context.Background())
		require.NoError(t, err)
	})

	t.Run("wrong token", func(t *testing.T) {
		path, handler := NewControlServiceHandler(
			NewControlService(&fakeController{}, cfg),
			connect.WithInterceptors(NewOperatorAuthInterceptor(cfg)),
		)
		mux := http.NewServeMux()
		mux.Handle(path, handler)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		client := NewControlClient(srv.Client(), srv.URL, "guess")
		_, err := client.GetStatus(context.Background())
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

		client = NewControlClient(srv.Client(), srv.URL, "")
		_, err = client.GetStatus(context.Background())
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})
}
