// Package agent holds a conversation with the tenant-aware agent runtime.
//
// A Runtime streams the reply as ordered fragments. The Client tags the
// caller's input with the tenant key, reads the stream to the end within a
// bounded time, and assembles the fragments in arrival order.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrRuntime covers invocation, stream and timeout failures.
	ErrRuntime = errors.New("agent runtime failure")
	// ErrEmptyReply means the stream finished without any text.
	ErrEmptyReply = errors.New("agent returned an empty reply")
)

// Invocation is one request to the agent runtime.
type Invocation struct {
	SessionID  string
	InputText  string
	Attributes map[string]string
}

// Fragment is one chunk of a streamed reply. Text is empty for trace and
// control events.
type Fragment struct {
	Text          string
	ReturnControl bool
}

// Stream yields the fragments of one reply. Next returns io.EOF once the
// reply is complete.
type Stream interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

// Runtime is the backend hosting the agent.
type Runtime interface {
	Invoke(ctx context.Context, inv Invocation) (Stream, error)
}

// Turn is the outcome of one Converse call.
type Turn struct {
	SessionID string
	Input     string
	Fragments []string
	Text      string
	Handoff   bool
}

// Client converses with a Runtime.
type Client struct {
	runtime       Runtime
	streamTimeout time.Duration
}

// NewClient creates a client. A non-positive streamTimeout disables the bound.
func NewClient(rt Runtime, streamTimeout time.Duration) *Client {
	return &Client{runtime: rt, streamTimeout: streamTimeout}
}

// SessionID builds the agent session id for one call.
func SessionID(source, tenantKey, callID string) string {
	return source + "-" + tenantKey + "-" + callID
}

// TagInput prefixes the input with the tenant key so the agent can select
// the right clinic context.
func TagInput(tenantKey, text string) string {
	return fmt.Sprintf("[DID: %s] %s", tenantKey, text)
}

// Converse sends text for the given tenant and returns the assembled reply.
// The returned Turn is populated as far as the conversation got, even when
// an error is returned.
func (c *Client) Converse(ctx context.Context, sessionID, tenantKey, text string) (Turn, error) {
	turn := Turn{SessionID: sessionID, Input: TagInput(tenantKey, text)}

	if c.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	stream, err := c.runtime.Invoke(ctx, Invocation{
		SessionID:  sessionID,
		InputText:  turn.Input,
		Attributes: map[string]string{"did": tenantKey},
	})
	if err != nil {
		return turn, fmt.Errorf("%w: invoke: %v", ErrRuntime, err)
	}
	defer stream.Close()

	var sb strings.Builder
	returnControl := false
	for {
		frag, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			turn.Text = strings.TrimSpace(sb.String())
			return turn, fmt.Errorf("%w: stream: %v", ErrRuntime, err)
		}
		if frag.ReturnControl {
			returnControl = true
		}
		if frag.Text == "" {
			continue
		}
		turn.Fragments = append(turn.Fragments, frag.Text)
		sb.WriteString(frag.Text)
	}

	turn.Text = strings.TrimSpace(sb.String())
	turn.Handoff = returnControl || ContainsHandoff(turn.Text)

	slog.Debug("agent reply assembled",
		"session_id", sessionID,
		"fragments", len(turn.Fragments),
		"handoff", turn.Handoff,
	)
	if turn.Text == "" {
		return turn, ErrEmptyReply
	}
	return turn, nil
}

var handoffPhrases = []string{
	"connect you with a human",
	"transfer you to",
	"human receptionist",
	"transfer_to_human",
	"handoff_initiated",
}

// ContainsHandoff reports whether a reply asks to move the caller to a human.
func ContainsHandoff(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range handoffPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
