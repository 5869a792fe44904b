package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
	"sidetrack/internal/repositories"
)

// StreamEvent is one unit pushed from the agent adapter to its consumer.
// Exactly one of Content / ToolCall / Done / Err is meaningful per event;
// the channel closes after Done or Err.
type StreamEvent struct {
	Content  string
	ToolCall *models.ToolCall
	Done     bool
	Err      error
}

type SendResult struct {
	UserMessage      *models.Message `json:"userMessage"`
	AssistantMessage *models.Message `json:"assistantMessage"`
}

type ChatService interface {
	LoadHistory(ctx context.Context, sessionID string) ([]models.Message, error)
	SendMessage(ctx context.Context, sessionID, content string) (*SendResult, error)
	StreamMessage(ctx context.Context, sessionID, content string) (<-chan StreamEvent, error)
	PersistPartial(ctx context.Context, sessionID, content string, calls []models.ToolCall) (*models.Message, error)
}

type chatService struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	backend  ChatBackend
}

func NewChatService(sessions repositories.SessionRepository, messages repositories.MessageRepository, backend ChatBackend) ChatService {
	return &chatService{sessions: sessions, messages: messages, backend: backend}
}

// LoadHistory reconstructs the conversation strictly from persisted messages
// in timestamp order. There is no separate context cache.
func (s *chatService) LoadHistory(ctx context.Context, sessionID string) ([]models.Message, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID)
}

// SendMessage runs one non-streaming turn. The user message is durable before
// the backend is invoked, so a failed generation never loses the user's input.
func (s *chatService) SendMessage(ctx context.Context, sessionID, content string) (*SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content cannot be blank", apperr.ErrValidation)
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	userMsg, err := s.persistMessage(ctx, sessionID, models.RoleUser, content, nil)
	if err != nil {
		return nil, err
	}

	history, err := s.buildHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	chatModel, err := s.backend.ChatModel(ctx)
	if err != nil {
		return nil, err
	}

	out, err := chatModel.Generate(ctx, history)
	if err != nil {
		return nil, classifyBackendErr(err)
	}

	assistantMsg, err := s.persistMessage(ctx, sessionID, models.RoleAssistant, out.Content, toolCallsFromSchema(out.ToolCalls))
	if err != nil {
		return nil, err
	}

	return &SendResult{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// StreamMessage starts a streaming turn and returns the fragment channel.
// The user message is persisted before anything is yielded. On normal
// exhaustion the accumulated assistant turn is persisted exactly once and a
// Done event is emitted; both survive a concurrent context cancellation, so
// a channel that closes without a terminal event always means the turn was
// interrupted before completion and nothing was persisted here. Partial
// durability on disconnect is the transport handler's job.
func (s *chatService) StreamMessage(ctx context.Context, sessionID, content string) (<-chan StreamEvent, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content cannot be blank", apperr.ErrValidation)
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	if _, err := s.persistMessage(ctx, sessionID, models.RoleUser, content, nil); err != nil {
		return nil, err
	}

	history, err := s.buildHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	chatModel, err := s.backend.ChatModel(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := chatModel.Stream(ctx, history)
	if err != nil {
		return nil, classifyBackendErr(err)
	}

	ch := make(chan StreamEvent)
	go s.consumeStream(ctx, sessionID, reader, ch)
	return ch, nil
}

func (s *chatService) consumeStream(ctx context.Context, sessionID string, reader *schema.StreamReader[*schema.Message], ch chan<- StreamEvent) {
	defer close(ch)
	defer reader.Close()

	var (
		buf     strings.Builder
		pending []schema.ToolCall
		emitted = map[string]bool{}
	)

	emit := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		msg, recvErr := reader.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				// The generation completed, so the assistant turn is made
				// durable and Done is delivered regardless of a concurrent
				// cancellation. Otherwise the consumer could see the channel
				// close without a terminal event after the row was already
				// written and persist the buffer a second time.
				calls := toolCallsFromSchema(pending)
				if _, err := s.persistMessage(context.WithoutCancel(ctx), sessionID, models.RoleAssistant, buf.String(), calls); err != nil {
					ch <- StreamEvent{Err: err}
					return
				}
				ch <- StreamEvent{Done: true}
				return
			}
			if ctx.Err() != nil {
				emit(StreamEvent{Err: ctx.Err()})
				return
			}
			ch <- StreamEvent{Err: classifyBackendErr(recvErr)}
			return
		}
		if msg == nil {
			continue
		}

		if len(msg.ToolCalls) > 0 {
			pending = mergeToolCallDeltas(pending, msg.ToolCalls)
			for _, tc := range msg.ToolCalls {
				if tc.ID == "" || emitted[tc.ID] {
					continue
				}
				emitted[tc.ID] = true
				if !emit(StreamEvent{ToolCall: &models.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}}) {
					return
				}
			}
		}

		if msg.Content != "" {
			buf.WriteString(msg.Content)
			if !emit(StreamEvent{Content: msg.Content}) {
				return
			}
		}
	}
}

// PersistPartial stores whatever an interrupted generation produced as the
// assistant's turn. Partial content beats discarding a paid generation. A
// turn with no content and no tool calls is skipped entirely.
func (s *chatService) PersistPartial(ctx context.Context, sessionID, content string, calls []models.ToolCall) (*models.Message, error) {
	if content == "" && len(calls) == 0 {
		return nil, nil
	}
	return s.persistMessage(ctx, sessionID, models.RoleAssistant, content, calls)
}

func (s *chatService) persistMessage(ctx context.Context, sessionID, role, content string, calls []models.ToolCall) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	msg.SetToolCalls(calls)
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.sessions.UpdateByID(ctx, sessionID, map[string]interface{}{
		"last_message_at": now,
		"updated_at":      now,
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// buildHistory converts the session's persisted messages into the model
// request. The ordered list is the model's entire memory.
func (s *chatService) buildHistory(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	rows, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]*schema.Message, 0, len(rows))
	for _, row := range rows {
		switch row.Role {
		case models.RoleUser:
			history = append(history, schema.UserMessage(row.Content))
		case models.RoleAssistant:
			history = append(history, schema.AssistantMessage(row.Content, schemaToolCalls(row.ToolCalls())))
		}
	}
	return history, nil
}

// mergeToolCallDeltas folds streamed tool-call chunks into complete records.
// Chunks carrying an Index extend the record at that index; argument deltas
// are concatenated.
func mergeToolCallDeltas(acc []schema.ToolCall, deltas []schema.ToolCall) []schema.ToolCall {
	for _, delta := range deltas {
		if delta.Index == nil {
			acc = append(acc, delta)
			continue
		}
		idx := *delta.Index
		for len(acc) <= idx {
			acc = append(acc, schema.ToolCall{})
		}
		if delta.ID != "" {
			acc[idx].ID = delta.ID
		}
		if delta.Function.Name != "" {
			acc[idx].Function.Name = delta.Function.Name
		}
		acc[idx].Function.Arguments += delta.Function.Arguments
	}
	return acc
}

func toolCallsFromSchema(calls []schema.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func schemaToolCalls(calls []models.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, schema.ToolCall{
			ID: tc.ID,
			Function: schema.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return out
}

// classifyBackendErr sorts raw provider failures into the shared taxonomy:
// capacity (retry hint), rejected (malformed request), or transport.
func classifyBackendErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded"):
		return fmt.Errorf("%w: %v", apperr.ErrBackendCapacity, err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") || strings.Contains(msg, "invalid_request"):
		return fmt.Errorf("%w: %v", apperr.ErrBackendRejected, err)
	default:
		return fmt.Errorf("%w: %v", apperr.ErrBackendTransport, err)
	}
}
