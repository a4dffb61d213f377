package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/textgen"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatSessionManager owns support-chat sessions and messages. Every
// mutation publishes CHAT_SESSION_UPDATE with no payload; views re-read
// the state they show.
type ChatSessionManager struct {
	sessions  *store.Collection[models.ChatSession]
	messages  *store.Collection[models.ChatMessage]
	bus       *bus.Bus
	assistant *textgen.Safe
	fallback  string
	logger    *zap.Logger
	now       func() time.Time

	// mu serialises mutations that touch both collections. It is never
	// held while publishing, so subscribers may call back into the manager.
	mu sync.Mutex
}

// NewChatSessionManager creates a session manager. assistant may be nil,
// in which case AskAssistant always posts fallbackAnswer.
func NewChatSessionManager(
	s store.Store,
	eventBus *bus.Bus,
	assistant *textgen.Safe,
	fallbackAnswer string,
	logger *zap.Logger,
) *ChatSessionManager {
	return &ChatSessionManager{
		sessions:  store.NewCollection[models.ChatSession](s, models.CollectionChatSessions),
		messages:  store.NewCollection[models.ChatMessage](s, models.CollectionChatMessages),
		bus:       eventBus,
		assistant: assistant,
		fallback:  fallbackAnswer,
		logger:    util.LoggerOrDefault(logger),
		now:       time.Now,
	}
}

func (m *ChatSessionManager) notify(ctx context.Context) {
	m.bus.Publish(ctx, models.TopicChatSessionUpdate, nil)
}

// CreateOrGetSession returns the user's active session, creating one if
// there is none. A closed session is never reopened.
func (m *ChatSessionManager) CreateOrGetSession(ctx context.Context, userID, userName string) (*models.ChatSession, error) {
	ctx, span := util.StartSpan(ctx, "ChatSessionManager.CreateOrGetSession")
	defer span.End()

	if userID == "" {
		return nil, ErrMissingUserID
	}

	session, created, err := m.createOrGet(ctx, userID, userName)
	if err != nil {
		return nil, err
	}
	if created {
		m.notify(ctx)
	}
	return session, nil
}

func (m *ChatSessionManager) createOrGet(ctx context.Context, userID, userName string) (*models.ChatSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, err := m.activeSession(ctx, userID); err == nil {
		return s, false, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, false, err
	}

	now := m.now()
	session := models.ChatSession{
		ID:         uuid.New().String(),
		UserID:     userID,
		UserName:   userName,
		Status:     models.SessionActive,
		LastActive: now,
		CreatedAt:  now,
	}
	if err := m.sessions.Put(ctx, session); err != nil {
		return nil, false, fmt.Errorf("failed to create chat session: %w", err)
	}

	util.ChatSessionsOpened.Inc()
	m.logger.Info("Chat session opened",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID))
	return &session, true, nil
}

// ActiveSession returns the user's active session or ErrSessionNotFound
func (m *ChatSessionManager) ActiveSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	return m.activeSession(ctx, userID)
}

func (m *ChatSessionManager) activeSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	all, err := m.sessions.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.UserID == userID && s.Status == models.SessionActive {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: no active session for user %s", ErrSessionNotFound, userID)
}

// GetSession returns one session by id
func (m *ChatSessionManager) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	s, err := m.sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SendMessage appends a message and bumps the unread count of the party
// that did not send it. Closed sessions reject the message untouched.
func (m *ChatSessionManager) SendMessage(ctx context.Context, sessionID, text string, sender models.Sender) (*models.ChatMessage, error) {
	ctx, span := util.StartSpan(ctx, "ChatSessionManager.SendMessage")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !sender.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}

	msg, err := m.appendMessage(ctx, sessionID, text, sender)
	if err != nil {
		return nil, err
	}
	m.notify(ctx)
	return msg, nil
}

func (m *ChatSessionManager) appendMessage(ctx context.Context, sessionID, text string, sender models.Sender) (*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	// timestamps strictly increase within a session so timestamp order is
	// append order
	ts := m.now()
	if !ts.After(session.LastActive) {
		ts = session.LastActive.Add(time.Nanosecond)
	}

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
	if err := m.messages.Put(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	session.LastMessage = text
	session.LastActive = ts
	if sender == models.SenderUser {
		session.UnreadCount++
	} else {
		session.UserUnreadCount++
	}
	if err := m.sessions.Put(ctx, *session); err != nil {
		if derr := m.messages.Delete(ctx, msg.ID); derr != nil {
			m.logger.Error("Failed to remove orphaned message",
				zap.String("message_id", msg.ID),
				zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	util.ChatMessagesTotal.WithLabelValues(string(sender)).Inc()
	return &msg, nil
}

// MarkSessionRead clears the unread count seen by reader. The other
// party's count is left alone.
func (m *ChatSessionManager) MarkSessionRead(ctx context.Context, sessionID string, reader models.Sender) (*models.ChatSession, error) {
	if !reader.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, reader)
	}

	session, changed, err := m.markRead(ctx, sessionID, reader)
	if err != nil {
		return nil, err
	}
	if changed {
		m.notify(ctx)
	}
	return session, nil
}

func (m *ChatSessionManager) markRead(ctx context.Context, sessionID string, reader models.Sender) (*models.ChatSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if session.UnreadFor(reader) == 0 {
		return session, false, nil
	}

	if reader == models.SenderAgent {
		session.UnreadCount = 0
	} else {
		session.UserUnreadCount = 0
	}
	if err := m.sessions.Put(ctx, *session); err != nil {
		return nil, false, fmt.Errorf("failed to mark session read: %w", err)
	}
	return session, true, nil
}

// CloseSession ends a session for good. Closing twice is a no-op.
func (m *ChatSessionManager) CloseSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	session, changed, err := m.markClosed(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if changed {
		m.notify(ctx)
	}
	return session, nil
}

func (m *ChatSessionManager) markClosed(ctx context.Context, sessionID string) (*models.ChatSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if session.Status == models.SessionClosed {
		return session, false, nil
	}

	session.Status = models.SessionClosed
	if err := m.sessions.Put(ctx, *session); err != nil {
		return nil, false, fmt.Errorf("failed to close session: %w", err)
	}

	util.ChatSessionsClosed.Inc()
	m.logger.Info("Chat session closed", zap.String("session_id", sessionID))
	return session, true, nil
}

// GetMessages returns a session's messages in timestamp order
func (m *ChatSessionManager) GetMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	all, err := m.messages.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ChatMessage, 0)
	for _, msg := range all {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetSessions returns all sessions, most recently active first
func (m *ChatSessionManager) GetSessions(ctx context.Context) ([]models.ChatSession, error) {
	all, err := m.sessions.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].LastActive.After(all[j].LastActive) })
	return all, nil
}

// AskAssistant answers question in the session as the agent, using the
// text generator. Generator failures degrade to the canned answer.
func (m *ChatSessionManager) AskAssistant(ctx context.Context, sessionID, question string) (*models.ChatMessage, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	prompt := fmt.Sprintf("You are a helpful storefront support agent. Customer %s asks: %s",
		session.UserName, strings.TrimSpace(question))
	answer := m.assistant.Generate(ctx, prompt, m.fallback)

	return m.SendMessage(ctx, sessionID, answer, models.SenderAgent)
}
