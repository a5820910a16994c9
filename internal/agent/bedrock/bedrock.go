// Package bedrock implements agent.Runtime with Amazon Bedrock Agents.
package bedrock

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/nadzzz/voicedesk/internal/agent"
	"github.com/nadzzz/voicedesk/internal/config"
)

// eventReader is the part of the InvokeAgent event stream the runtime reads.
type eventReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// Runtime invokes one Bedrock agent alias.
type Runtime struct {
	agentID string
	aliasID string
	open    func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (eventReader, error)
}

var _ agent.Runtime = (*Runtime)(nil)

// New creates a runtime from an AWS config and the agent section of the
// configuration.
func New(awsCfg aws.Config, cfg config.AgentConfig) *Runtime {
	client := bedrockagentruntime.NewFromConfig(awsCfg)
	return &Runtime{
		agentID: cfg.AgentID,
		aliasID: cfg.AliasID,
		open: func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (eventReader, error) {
			out, err := client.InvokeAgent(ctx, in)
			if err != nil {
				return nil, err
			}
			return out.GetStream(), nil
		},
	}
}

// Invoke starts an agent turn and returns its event stream.
func (r *Runtime) Invoke(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	in := &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(r.agentID),
		AgentAliasId: aws.String(r.aliasID),
		SessionId:    aws.String(inv.SessionID),
		InputText:    aws.String(inv.InputText),
	}
	if len(inv.Attributes) > 0 {
		in.SessionState = &types.SessionState{SessionAttributes: inv.Attributes}
	}

	slog.Debug("invoking bedrock agent", "session_id", inv.SessionID, "agent_id", r.agentID)
	reader, err := r.open(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("invoke agent %s/%s: %w", r.agentID, r.aliasID, err)
	}
	return &stream{reader: reader, sessionID: inv.SessionID}, nil
}

type stream struct {
	reader    eventReader
	sessionID string
}

// Next converts the next event into a fragment. Trace events come back as
// empty fragments.
func (s *stream) Next(ctx context.Context) (agent.Fragment, error) {
	select {
	case <-ctx.Done():
		return agent.Fragment{}, ctx.Err()
	case ev, ok := <-s.reader.Events():
		if !ok {
			if err := s.reader.Err(); err != nil {
				return agent.Fragment{}, fmt.Errorf("agent stream: %w", err)
			}
			return agent.Fragment{}, io.EOF
		}
		return toFragment(s.sessionID, ev), nil
	}
}

func (s *stream) Close() error {
	return s.reader.Close()
}

func toFragment(sessionID string, ev types.ResponseStream) agent.Fragment {
	switch v := ev.(type) {
	case *types.ResponseStreamMemberChunk:
		return agent.Fragment{Text: string(v.Value.Bytes)}
	case *types.ResponseStreamMemberReturnControl:
		slog.Info("agent returned control", "session_id", sessionID)
		return agent.Fragment{ReturnControl: true}
	case *types.ResponseStreamMemberTrace:
		slog.Debug("agent trace", "session_id", sessionID)
	default:
		slog.Debug("ignoring agent event", "session_id", sessionID, "type", fmt.Sprintf("%T", ev))
	}
	return agent.Fragment{}
}
