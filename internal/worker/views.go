package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// refresher re-reads chat state whenever CHAT_SESSION_UPDATE fires and
// on a fixed interval. Notifications carry no data, so a dropped one is
// covered by the next refresh.
type refresher struct {
	stopper
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger
}

func newRefresher(eventBus *bus.Bus, interval time.Duration, logger *zap.Logger) refresher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return refresher{
		stopper:  newStopper(),
		bus:      eventBus,
		interval: interval,
		logger:   util.LoggerOrDefault(logger),
	}
}

func (r *refresher) run(ctx context.Context, refresh func(context.Context) error) error {
	updates, cancel := r.bus.Watch(models.TopicChatSessionUpdate, 1)
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	do := func() {
		if err := refresh(ctx); err != nil {
			r.logger.Warn("Chat view refresh failed", zap.Error(err))
		}
	}
	do()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			do()
		case <-ticker.C:
			do()
		}
	}
}

// InboxSnapshot is what the agent inbox shows
type InboxSnapshot struct {
	Sessions    []models.ChatSession
	TotalUnread int
	RefreshedAt time.Time
}

// InboxPoller keeps the agent inbox current
type InboxPoller struct {
	refresher
	chat *service.ChatSessionManager

	mu   sync.RWMutex
	snap InboxSnapshot
}

func NewInboxPoller(chat *service.ChatSessionManager, eventBus *bus.Bus, interval time.Duration, logger *zap.Logger) *InboxPoller {
	return &InboxPoller{
		refresher: newRefresher(eventBus, interval, logger),
		chat:      chat,
	}
}

// Start refreshes the inbox until ctx is done or Stop is called
func (p *InboxPoller) Start(ctx context.Context) error {
	p.logger.Info("Starting inbox poller", zap.Duration("interval", p.interval))
	return p.run(ctx, p.Refresh)
}

// Refresh reloads the session list
func (p *InboxPoller) Refresh(ctx context.Context) error {
	sessions, err := p.chat.GetSessions(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, s := range sessions {
		if s.Status == models.SessionActive {
			total += s.UnreadCount
		}
	}

	p.mu.Lock()
	p.snap = InboxSnapshot{Sessions: sessions, TotalUnread: total, RefreshedAt: time.Now()}
	p.mu.Unlock()
	return nil
}

// Snapshot returns the last refreshed inbox
func (p *InboxPoller) Snapshot() InboxSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *InboxPoller) Stop() error {
	p.stop()
	return nil
}

// WidgetSnapshot is what one customer's chat widget shows
type WidgetSnapshot struct {
	Session     *models.ChatSession
	Messages    []models.ChatMessage
	Unread      int
	RefreshedAt time.Time
}

// WidgetView follows the active chat session of one user
type WidgetView struct {
	refresher
	chat   *service.ChatSessionManager
	userID string

	mu   sync.RWMutex
	snap WidgetSnapshot
}

func NewWidgetView(chat *service.ChatSessionManager, eventBus *bus.Bus, userID string, interval time.Duration, logger *zap.Logger) *WidgetView {
	return &WidgetView{
		refresher: newRefresher(eventBus, interval, logger),
		chat:      chat,
		userID:    userID,
	}
}

// Start refreshes the widget until ctx is done or Stop is called
func (v *WidgetView) Start(ctx context.Context) error {
	return v.run(ctx, v.Refresh)
}

// Refresh reloads the user's active session and its messages. No active
// session is an empty widget, not an error.
func (v *WidgetView) Refresh(ctx context.Context) error {
	snap := WidgetSnapshot{RefreshedAt: time.Now()}

	session, err := v.chat.ActiveSession(ctx, v.userID)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
	case err != nil:
		return err
	default:
		msgs, err := v.chat.GetMessages(ctx, session.ID)
		if err != nil {
			return err
		}
		snap.Session = session
		snap.Messages = msgs
		snap.Unread = session.UserUnreadCount
	}

	v.mu.Lock()
	v.snap = snap
	v.mu.Unlock()
	return nil
}

// Snapshot returns the last refreshed widget state
func (v *WidgetView) Snapshot() WidgetSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

func (v *WidgetView) Stop() error {
	v.stop()
	return nil
}
