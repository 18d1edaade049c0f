package daemon

import (
	"context"
	"errors"

	"github.com/harun/scribe/pkg/gateway"
	"github.com/harun/scribe/pkg/supervisor"
)

// Application error codes returned by the agent.* methods.
const (
	codeAgentExists   = -32010
	codeAgentNotFound = -32011
)

func (d *Daemon) registerMethods() error {
	if err := d.gatewayServer.RegisterMethodWithSchema("agent.start", gateway.ChannelParamSchema, d.handleAgentStart); err != nil {
		return err
	}
	if err := d.gatewayServer.RegisterMethodWithSchema("agent.stop", gateway.ChannelParamSchema, d.handleAgentStop); err != nil {
		return err
	}
	return d.gatewayServer.RegisterMethod("agent.list", d.handleAgentList)
}

func (d *Daemon) handleAgentStart(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	channelID, _ := params["channel_id"].(string)

	a, err := d.supervisor.Start(ctx, channelID)
	if err != nil {
		return nil, agentError(err)
	}

	session := a.Session()
	return map[string]interface{}{
		"channel_id": a.ChannelID(),
		"created_at": session.CreatedAt().UnixMilli(),
	}, nil
}

func (d *Daemon) handleAgentStop(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	channelID, _ := params["channel_id"].(string)

	if err := d.supervisor.Stop(ctx, channelID); err != nil {
		return nil, agentError(err)
	}
	return map[string]interface{}{
		"channel_id": channelID,
		"stopped":    true,
	}, nil
}

func (d *Daemon) handleAgentList(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	agents := d.supervisor.List()
	return map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	}, nil
}

func agentError(err error) error {
	switch {
	case errors.Is(err, supervisor.ErrAgentExists):
		return &gateway.RPCError{Code: codeAgentExists, Message: err.Error()}
	case errors.Is(err, supervisor.ErrAgentNotFound):
		return &gateway.RPCError{Code: codeAgentNotFound, Message: err.Error()}
	default:
		return err
	}
}
