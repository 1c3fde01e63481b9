package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"wecomgw/pkg/bus"
	"wecomgw/pkg/channel"
	"wecomgw/pkg/config"
	"wecomgw/pkg/provider"
)

// sessionManager maps session keys to provider sessions and serializes
// prompts per session.
type sessionManager struct {
	client provider.Client
	cfg    *config.Config
	log    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// session is the mutable state tracked for one session key.
type session struct {
	id       string
	promptMu sync.Mutex
}

func newSessionManager(cfg *config.Config, client provider.Client, log *slog.Logger) *sessionManager {
	if log == nil {
		log = slog.Default()
	}

	return &sessionManager{
		client:   client,
		cfg:      cfg,
		log:      log.With("component", "gateway.session_manager"),
		sessions: make(map[string]*session),
	}
}

// Resolve turns one inbound dispatch into resolved replies. It satisfies
// channel.Resolver; each reply is handed to deliver as it is produced.
func (m *sessionManager) Resolve(ctx context.Context, dc bus.DispatchContext, deliver channel.DeliverFunc) error {
	sess, err := m.sessionFor(ctx, dc.SessionKey)
	if err != nil {
		return err
	}

	prompt := buildPrompt(dc)

	sess.promptMu.Lock()
	text, err := m.client.Prompt(ctx, sess.id, prompt, m.cfg.Resolver.Model)
	sess.promptMu.Unlock()
	if err != nil {
		return fmt.Errorf("prompt session %s: %w", dc.SessionKey, err)
	}

	deliver(ctx, bus.ReplyPayload{Text: text})
	return nil
}

// sessionFor returns an existing session or lazily creates a new one.
func (m *sessionManager) sessionFor(ctx context.Context, sessionKey string) (*session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionKey]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok = m.sessions[sessionKey]
	if ok {
		return sess, nil
	}

	id, err := m.client.CreateSession(ctx, "wecomgw:"+sessionKey)
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", sessionKey, err)
	}

	m.log.Debug("Session created", "session_key", sessionKey, "session_id", id)

	sess = &session{id: id}
	m.sessions[sessionKey] = sess
	return sess, nil
}

// Close drops tracked sessions.
func (m *sessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionKey := range m.sessions {
		delete(m.sessions, sessionKey)
	}
}

// buildPrompt assembles the provider prompt from the system prompt, the
// message body, and any referenced media.
func buildPrompt(dc bus.DispatchContext) string {
	var parts []string

	if system := strings.TrimSpace(dc.SystemPrompt); system != "" {
		parts = append(parts, system)
	}
	if body := strings.TrimSpace(dc.Body); body != "" {
		parts = append(parts, body)
	}
	if len(dc.MediaURLs) > 0 {
		parts = append(parts, "[media]\n"+strings.Join(dc.MediaURLs, "\n"))
	}

	return strings.Join(parts, "\n\n")
}
