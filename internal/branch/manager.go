// Package branch owns the branch/version tree over a session's messages:
// branch creation, switching, merging, archival, deletion, message edits,
// and a bounded per-session audit log. All durable state lives in the
// record store; the manager itself holds no conversation data.
package branch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/braid/internal/store"
	"github.com/flemzord/braid/pkg/chat"
)

// historyCap is the maximum number of audit log entries kept per session.
const historyCap = 100

// Manager implements branch and message operations over a RecordStore.
// Branch mutations that touch multiple records (switch, archive) are
// serialized per session through a keyed mutex, so concurrent switches
// cannot race on the is_active flags.
type Manager struct {
	store  store.RecordStore
	logger *slog.Logger

	// locks serializes multi-record branch mutations per session.
	locks *keyedMutex

	// now and newID are injectable for deterministic testing.
	now   func() time.Time
	newID func() string
}

// NewManager creates a branch manager over the given record store.
func NewManager(st store.RecordStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		logger: logger.With("component", "branch"),
		locks:  newKeyedMutex(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// keyedMutex provides one mutex per key for serializing per-session
// mutations. Mutexes are never removed; the key space is bounded by the
// number of live sessions on this instance.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ---- sessions ----

// CreateSession creates a new session for the given model.
func (m *Manager) CreateSession(ctx context.Context, modelID string) (*chat.Session, error) {
	now := m.now()
	sess := &chat.Session{
		ID:             m.newID(),
		CreatedAt:      now,
		LastAccessedAt: now,
		ModelID:        modelID,
	}
	if err := m.putSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := m.store.SortedAdd(ctx, sessionsIndexKey, float64(now.UnixNano()), sess.ID); err != nil {
		return nil, fmt.Errorf("branch: index session %s: %w", sess.ID, err)
	}
	m.logger.Info("session created", "session_id", sess.ID, "model", modelID)
	return sess, nil
}

// ListSessionIDs returns all session IDs in creation order.
func (m *Manager) ListSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := m.store.SortedRange(ctx, sessionsIndexKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("branch: list sessions: %w", err)
	}
	return ids, nil
}

// ListSessions returns all sessions in creation order. Sessions whose
// record has disappeared are skipped.
func (m *Manager) ListSessions(ctx context.Context) ([]*chat.Session, error) {
	ids, err := m.ListSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]*chat.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := m.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// GetSession returns the session by ID, or ErrNotFound.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	raw, ok, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("branch: load session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("branch: session %s: %w", sessionID, ErrNotFound)
	}
	var sess chat.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("branch: decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (m *Manager) putSession(ctx context.Context, sess *chat.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("branch: encode session %s: %w", sess.ID, err)
	}
	if err := m.store.Set(ctx, sessionKey(sess.ID), raw, 0); err != nil {
		return fmt.Errorf("branch: store session %s: %w", sess.ID, err)
	}
	return nil
}

// touchSession updates LastAccessedAt and persists the session.
func (m *Manager) touchSession(ctx context.Context, sess *chat.Session) error {
	sess.LastAccessedAt = m.now()
	return m.putSession(ctx, sess)
}

// ---- messages ----

// AppendMessage appends a message to the session, placing it on the given
// branch (empty branchID means the main line). The session's message count
// and last-access time are updated.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, branchID string, role chat.Role, content string) (*chat.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("branch: role %q: %w", role, ErrValidation)
	}
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if branchID != "" {
		br, err := m.GetBranch(ctx, branchID)
		if err != nil {
			return nil, err
		}
		if br.SessionID != sessionID {
			return nil, fmt.Errorf("branch: branch %s belongs to session %s: %w", branchID, br.SessionID, ErrValidation)
		}
	}

	msg := &chat.Message{
		ID:        m.newID(),
		SessionID: sessionID,
		BranchID:  branchID,
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Version:   1,
	}
	if err := m.putMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := m.indexMessage(ctx, msg); err != nil {
		return nil, err
	}

	sess.MessageCount++
	if err := m.touchSession(ctx, sess); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage returns the message by ID, or ErrNotFound.
func (m *Manager) GetMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	raw, ok, err := m.store.Get(ctx, messageKey(messageID))
	if err != nil {
		return nil, fmt.Errorf("branch: load message %s: %w", messageID, err)
	}
	if !ok {
		return nil, fmt.Errorf("branch: message %s: %w", messageID, ErrNotFound)
	}
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("branch: decode message %s: %w", messageID, err)
	}
	return &msg, nil
}

func (m *Manager) putMessage(ctx context.Context, msg *chat.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("branch: encode message %s: %w", msg.ID, err)
	}
	if err := m.store.Set(ctx, messageKey(msg.ID), raw, 0); err != nil {
		return fmt.Errorf("branch: store message %s: %w", msg.ID, err)
	}
	return nil
}

// indexMessage registers the message in the ordered session index and, if
// it belongs to a branch, in the branch index. Scores are microsecond
// timestamps: exactly representable as float64 and fine-grained enough to
// keep chronological order.
func (m *Manager) indexMessage(ctx context.Context, msg *chat.Message) error {
	score := float64(msg.Timestamp.UnixMicro())
	if err := m.store.SortedAdd(ctx, sessionMessagesKey(msg.SessionID), score, msg.ID); err != nil {
		return fmt.Errorf("branch: index message %s: %w", msg.ID, err)
	}
	if msg.BranchID != "" {
		if err := m.store.SortedAdd(ctx, branchMessagesKey(msg.BranchID), score, msg.ID); err != nil {
			return fmt.Errorf("branch: index message %s on branch: %w", msg.ID, err)
		}
	}
	return nil
}

// loadMessages resolves an ordered list of message IDs into messages,
// skipping IDs whose records have been deleted.
func (m *Manager) loadMessages(ctx context.Context, ids []string) ([]*chat.Message, error) {
	msgs := make([]*chat.Message, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := m.store.Get(ctx, messageKey(id))
		if err != nil {
			return nil, fmt.Errorf("branch: load message %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("branch: decode message %s: %w", id, err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// GetSessionMessages returns every message of the session in chronological
// order, across all branches.
func (m *Manager) GetSessionMessages(ctx context.Context, sessionID string) ([]*chat.Message, error) {
	ids, err := m.store.SortedRange(ctx, sessionMessagesKey(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("branch: list session messages: %w", err)
	}
	return m.loadMessages(ctx, ids)
}

// ---- message editing ----

// EditMessage produces a new version of a message. The original record is
// never mutated: the new message gets a fresh ID, version+1, and metadata
// linking back to the root original. Returns ErrNotFound if the message
// does not exist.
func (m *Manager) EditMessage(ctx context.Context, messageID, newContent string) (*chat.Message, error) {
	orig, err := m.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	// Edits of edits chain back to the root original so all versions of
	// one message group under a single versions list.
	rootID := orig.Meta(chat.MetaOriginalMessageID)
	if rootID == "" {
		rootID = orig.ID
	}

	edited := &chat.Message{
		ID:        m.newID(),
		SessionID: orig.SessionID,
		BranchID:  orig.BranchID,
		Role:      orig.Role,
		Content:   newContent,
		Timestamp: m.now(),
		Version:   orig.Version + 1,
	}
	edited.SetMeta(chat.MetaOriginalMessageID, rootID)
	edited.SetMeta(chat.MetaOriginalContent, orig.Content)
	edited.SetMeta(chat.MetaEditedAt, m.now().UTC().Format(time.RFC3339Nano))

	if err := m.putMessage(ctx, edited); err != nil {
		return nil, err
	}
	if err := m.store.ListPush(ctx, messageVersionsKey(rootID), []byte(edited.ID)); err != nil {
		return nil, fmt.Errorf("branch: record version of %s: %w", rootID, err)
	}

	if orig.BranchID != "" {
		m.appendHistory(ctx, orig.SessionID, chat.BranchHistoryEntry{
			Timestamp: m.now(),
			Action:    chat.BranchActionEdit,
			BranchID:  orig.BranchID,
			Details:   "edited message " + rootID,
		})
	}

	m.logger.Info("message edited", "message_id", rootID, "version", edited.Version)
	return edited, nil
}

// GetMessageVersions returns every version created from the given message,
// most recent first. Passing any version of the message resolves to the
// same root. An unedited message has no versions.
func (m *Manager) GetMessageVersions(ctx context.Context, messageID string) ([]*chat.Message, error) {
	msg, err := m.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	rootID := msg.Meta(chat.MetaOriginalMessageID)
	if rootID == "" {
		rootID = msg.ID
	}

	raw, err := m.store.ListRange(ctx, messageVersionsKey(rootID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("branch: list versions of %s: %w", rootID, err)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		ids = append(ids, string(v))
	}
	return m.loadMessages(ctx, ids)
}
