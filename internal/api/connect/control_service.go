package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/broadcast"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/filter"
	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/app/session"
	"github.com/osa030/tagbox/internal/infra/config"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "tagbox.v1.ControlService"

// Procedure paths.
const (
	ControlServicePresentTagProcedure      = "/" + ControlServiceName + "/PresentTag"
	ControlServiceRemoveTagProcedure       = "/" + ControlServiceName + "/RemoveTag"
	ControlServiceManualActionProcedure    = "/" + ControlServiceName + "/ManualAction"
	ControlServiceListActionsProcedure     = "/" + ControlServiceName + "/ListActions"
	ControlServiceSubmitOperationProcedure = "/" + ControlServiceName + "/SubmitOperation"
	ControlServiceGetStatusProcedure       = "/" + ControlServiceName + "/GetStatus"
	ControlServiceForceRedetectProcedure   = "/" + ControlServiceName + "/ForceRedetect"
)

// Controller is the part of the session manager the control service drives.
type Controller interface {
	PresentTag(ctx context.Context, uid string) error
	RemoveTag(ctx context.Context) error
	ManualAction(ctx context.Context, name string) error
	Operate(ctx context.Context, origin filter.Origin, clientID string, op broadcast.Operation) (playback.Snapshot, error)
	Status() session.Status
	ForceRedetect(uid string) string
}

// PresentTagRequest simulates a tag being placed on the reader.
type PresentTagRequest struct {
	UID string `json:"uid"`
}

// ResultResponse is the common result of control calls.
type ResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RemoveTagRequest simulates the current tag being removed.
type RemoveTagRequest struct{}

// ManualActionRequest runs a manual control action.
type ManualActionRequest struct {
	Action string `json:"action"`
}

// ListActionsRequest lists manual control actions.
type ListActionsRequest struct{}

// ListActionsResponse holds manual control action names.
type ListActionsResponse struct {
	Actions []string `json:"actions"`
}

// SubmitOperationRequest runs a playback command on behalf of the operator.
type SubmitOperationRequest struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// SubmitOperationResponse is the outcome of an operator command.
type SubmitOperationResponse struct {
	Success  bool              `json:"success"`
	Code     string            `json:"code"`
	Message  string            `json:"message,omitempty"`
	Playback playback.Snapshot `json:"playback"`
}

// GetStatusRequest requests the device status.
type GetStatusRequest struct{}

// GetStatusResponse holds the device status.
type GetStatusResponse struct {
	Status session.Status `json:"status"`
}

// ForceRedetectRequest makes the reader report a tag as newly presented.
type ForceRedetectRequest struct {
	UID string `json:"uid,omitempty"`
}

// ForceRedetectResponse holds the tag that will be redetected.
type ForceRedetectResponse struct {
	UID string `json:"uid"`
}

// ControlService implements the operator control RPCs.
type ControlService struct {
	session Controller
	config  *config.Config
}

// NewControlService creates a new ControlService.
func NewControlService(session Controller, cfg *config.Config) *ControlService {
	return &ControlService{
		session: session,
		config:  cfg,
	}
}

// PresentTag presents a tag as if read by the reader.
func (s *ControlService) PresentTag(
	ctx context.Context,
	req *connect.Request[PresentTagRequest],
) (*connect.Response[ResultResponse], error) {
	if req.Msg.UID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("uid is required"))
	}
	if err := s.session.PresentTag(ctx, req.Msg.UID); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&ResultResponse{
		Success: true,
		Message: "Tag presented",
	}), nil
}

// RemoveTag removes the current tag.
func (s *ControlService) RemoveTag(
	ctx context.Context,
	req *connect.Request[RemoveTagRequest],
) (*connect.Response[ResultResponse], error) {
	if err := s.session.RemoveTag(ctx); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&ResultResponse{
		Success: true,
		Message: "Tag removed",
	}), nil
}

// ManualAction runs a manual control action.
func (s *ControlService) ManualAction(
	ctx context.Context,
	req *connect.Request[ManualActionRequest],
) (*connect.Response[ResultResponse], error) {
	if err := s.session.ManualAction(ctx, req.Msg.Action); err != nil {
		if errors.Is(err, control.ErrUnknownAction) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&ResultResponse{
		Success: true,
		Message: "Action " + req.Msg.Action + " sent",
	}), nil
}

// ListActions lists manual control action names.
func (s *ControlService) ListActions(
	ctx context.Context,
	req *connect.Request[ListActionsRequest],
) (*connect.Response[ListActionsResponse], error) {
	actions := control.Actions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.String()
	}
	return connect.NewResponse(&ListActionsResponse{Actions: names}), nil
}

// SubmitOperation runs a playback command. Rejections are reported in the
// response rather than as RPC errors.
func (s *ControlService) SubmitOperation(
	ctx context.Context,
	req *connect.Request[SubmitOperationRequest],
) (*connect.Response[SubmitOperationResponse], error) {
	op := broadcast.Operation{Command: req.Msg.Command, Args: req.Msg.Args}
	snap, err := s.session.Operate(ctx, filter.OriginOperator, "", op)
	if err != nil {
		var opErr *broadcast.OperationError
		if !errors.As(err, &opErr) {
			zlog.Error().Err(err).Msgf("connect: operation failed: command=%s", req.Msg.Command)
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return connect.NewResponse(&SubmitOperationResponse{
			Success:  false,
			Code:     opErr.Code,
			Message:  opErr.Message,
			Playback: snap,
		}), nil
	}

	return connect.NewResponse(&SubmitOperationResponse{
		Success:  true,
		Code:     session.CodeSuccess,
		Message:  s.config.GetMessage(session.CodeSuccess),
		Playback: snap,
	}), nil
}

// GetStatus returns the device status.
func (s *ControlService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[GetStatusResponse], error) {
	return connect.NewResponse(&GetStatusResponse{Status: s.session.Status()}), nil
}

// ForceRedetect makes the reader report a tag as newly presented.
func (s *ControlService) ForceRedetect(
	ctx context.Context,
	req *connect.Request[ForceRedetectRequest],
) (*connect.Response[ForceRedetectResponse], error) {
	uid := s.session.ForceRedetect(req.Msg.UID)
	if uid == "" {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no tag on the reader"))
	}
	return connect.NewResponse(&ForceRedetectResponse{UID: uid}), nil
}

// NewControlServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ControlServicePresentTagProcedure,
		connect.NewUnaryHandler(ControlServicePresentTagProcedure, svc.PresentTag, opts...))
	mux.Handle(ControlServiceRemoveTagProcedure,
		connect.NewUnaryHandler(ControlServiceRemoveTagProcedure, svc.RemoveTag, opts...))
	mux.Handle(ControlServiceManualActionProcedure,
		connect.NewUnaryHandler(ControlServiceManualActionProcedure, svc.ManualAction, opts...))
	mux.Handle(ControlServiceListActionsProcedure,
		connect.NewUnaryHandler(ControlServiceListActionsProcedure, svc.ListActions, opts...))
	mux.Handle(ControlServiceSubmitOperationProcedure,
		connect.NewUnaryHandler(ControlServiceSubmitOperationProcedure, svc.SubmitOperation, opts...))
	mux.Handle(ControlServiceGetStatusProcedure,
		connect.NewUnaryHandler(ControlServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(ControlServiceForceRedetectProcedure,
		connect.NewUnaryHandler(ControlServiceForceRedetectProcedure, svc.ForceRedetect, opts...))

	return "/" + ControlServiceName + "/", mux
}
