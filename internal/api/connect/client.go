package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// ControlClient calls the control service.
type ControlClient struct {
	presentTag      *connect.Client[PresentTagRequest, ResultResponse]
	removeTag       *connect.Client[RemoveTagRequest, ResultResponse]
	manualAction    *connect.Client[ManualActionRequest, ResultResponse]
	listActions     *connect.Client[ListActionsRequest, ListActionsResponse]
	submitOperation *connect.Client[SubmitOperationRequest, SubmitOperationResponse]
	getStatus       *connect.Client[GetStatusRequest, GetStatusResponse]
	forceRedetect   *connect.Client[ForceRedetectRequest, ForceRedetectResponse]
}

// NewControlClient creates a client for the control service at baseURL.
// A non-empty token is sent with every call.
func NewControlClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *ControlClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(newTokenInterceptor(token)),
	}, opts...)

	return &ControlClient{
		presentTag: connect.NewClient[PresentTagRequest, ResultResponse](
			httpClient, baseURL+ControlServicePresentTagProcedure, opts...),
		removeTag: connect.NewClient[RemoveTagRequest, ResultResponse](
			httpClient, baseURL+ControlServiceRemoveTagProcedure, opts...),
		manualAction: connect.NewClient[ManualActionRequest, ResultResponse](
			httpClient, baseURL+ControlServiceManualActionProcedure, opts...),
		listActions: connect.NewClient[ListActionsRequest, ListActionsResponse](
			httpClient, baseURL+ControlServiceListActionsProcedure, opts...),
		submitOperation: connect.NewClient[SubmitOperationRequest, SubmitOperationResponse](
			httpClient, baseURL+ControlServiceSubmitOperationProcedure, opts...),
		getStatus: connect.NewClient[GetStatusRequest, GetStatusResponse](
			httpClient, baseURL+ControlServiceGetStatusProcedure, opts...),
		forceRedetect: connect.NewClient[ForceRedetectRequest, ForceRedetectResponse](
			httpClient, baseURL+ControlServiceForceRedetectProcedure, opts...),
	}
}

// NewDefaultControlClient creates a client using http.DefaultClient.
func NewDefaultControlClient(baseURL, token string) *ControlClient {
	return NewControlClient(http.DefaultClient, baseURL, token)
}

// PresentTag calls ControlService.PresentTag.
func (c *ControlClient) PresentTag(ctx context.Context, uid string) (*ResultResponse, error) {
	resp, err := c.presentTag.CallUnary(ctx, connect.NewRequest(&PresentTagRequest{UID: uid}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// RemoveTag calls ControlService.RemoveTag.
func (c *ControlClient) RemoveTag(ctx context.Context) (*ResultResponse, error) {
	resp, err := c.removeTag.CallUnary(ctx, connect.NewRequest(&RemoveTagRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ManualAction calls ControlService.ManualAction.
func (c *ControlClient) ManualAction(ctx context.Context, action string) (*ResultResponse, error) {
	resp, err := c.manualAction.CallUnary(ctx, connect.NewRequest(&ManualActionRequest{Action: action}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ListActions calls ControlService.ListActions.
func (c *ControlClient) ListActions(ctx context.Context) ([]string, error) {
	resp, err := c.listActions.CallUnary(ctx, connect.NewRequest(&ListActionsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Actions, nil
}

// SubmitOperation calls ControlService.SubmitOperation.
func (c *ControlClient) SubmitOperation(ctx context.Context, command string, args map[string]any) (*SubmitOperationResponse, error) {
	resp, err := c.submitOperation.CallUnary(ctx, connect.NewRequest(&SubmitOperationRequest{Command: command, Args: args}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetStatus calls ControlService.GetStatus.
func (c *ControlClient) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&GetStatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ForceRedetect calls ControlService.ForceRedetect.
func (c *ControlClient) ForceRedetect(ctx context.Context, uid string) (string, error) {
	resp, err := c.forceRedetect.CallUnary(ctx, connect.NewRequest(&ForceRedetectRequest{UID: uid}))
	if err != nil {
		return "", err
	}
	return resp.Msg.UID, nil
}
