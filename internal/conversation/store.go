// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/tryme/internal/logging"
	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/storage"
)

// persistTimeout bounds a single blob write.
const persistTimeout = 5 * time.Second

var (
	// ErrConversationNotFound indicates no conversation has the given ID.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the conversation has no such message.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageFinalized indicates the message is not an open reply.
	ErrMessageFinalized = errors.New("message already finalized")

	// ErrStreamOpen indicates the conversation already has an open reply.
	ErrStreamOpen = errors.New("reply already in progress")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the conversation collection. It is safe for concurrent use;
// every mutation holds the lock through its persistence write, so writes
// reach storage in mutation order.
type Store struct {
	mu sync.Mutex

	blobs        storage.BlobStore
	key          string
	defaultModel string
	logger       *slog.Logger

	convs   []model.Conversation // newest first
	current string
	open    map[string]string // conversation ID -> open reply message ID

	lastPersistErr error
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key. Defaults to storage.DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithDefaultModel sets the model key used for seeded conversations and for
// Create("").
func WithDefaultModel(key string) Option {
	return func(s *Store) { s.defaultModel = key }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.OrDiscard(l) }
}

// New creates an empty store over blobs. Load populates it from storage,
// seeding the welcome conversation when nothing is persisted.
func New(blobs storage.BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs:        blobs,
		key:          storage.DefaultKey,
		defaultModel: model.DefaultModelKey,
		logger:       logging.Discard(),
		open:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// seed resets the collection to the single welcome conversation.
func (s *Store) seed() {
	welcome := model.NewWelcomeConversation(s.defaultModel)
	s.convs = []model.Conversation{welcome}
	s.current = welcome.ID
	clear(s.open)
}

// =============================================================================
// LOADING
// =============================================================================

// Load replaces the collection with the persisted one.
//
// Records that fail to parse or validate are dropped individually, and the
// welcome conversation is seeded when nothing usable remains. Loading
// flags are cleared because a reply cannot outlive the process that
// streamed it. The current conversation becomes the first one.
//
// Only a storage read failure is returned; the store is seeded in that case
// and nothing is written.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs, err := s.read(ctx)
	if err != nil {
		s.seed()
		return err
	}
	if len(convs) == 0 {
		s.seed()
		return nil
	}

	s.convs = convs
	s.current = convs[0].ID
	clear(s.open)
	return nil
}

// Reload re-reads persisted state after an external change, keeping the
// current pointer when that conversation still exists. It refuses with
// ErrStreamOpen while a reply is streaming.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.open) > 0 {
		return ErrStreamOpen
	}

	convs, err := s.read(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		s.seed()
		return nil
	}

	prev := s.current
	s.convs = convs
	if s.indexOf(prev) < 0 {
		s.current = convs[0].ID
	}
	return nil
}

// read fetches and decodes the persisted collection. A missing or
// unparseable blob yields no conversations and no error.
func (s *Store) read(ctx context.Context) ([]model.Conversation, error) {
	data, err := s.blobs.Read(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("discarding unparseable conversation blob", "key", s.key, "error", err)
		return nil, nil
	}

	convs := make([]model.Conversation, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, raw := range records {
		var conv model.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			s.logger.Warn("discarding unparseable conversation", "index", i, "error", err)
			continue
		}
		if err := conv.Validate(); err != nil {
			s.logger.Warn("discarding invalid conversation", "index", i, "error", err)
			continue
		}
		if seen[conv.ID] {
			s.logger.Warn("discarding duplicate conversation", "id", conv.ID)
			continue
		}
		seen[conv.ID] = true

		if conv.HasLoading() {
			s.logger.Warn("clearing interrupted reply", "id", conv.ID)
			for j := range conv.Messages {
				conv.Messages[j].IsLoading = false
			}
		}
		if strings.TrimSpace(conv.Model) == "" {
			conv.Model = s.defaultModel
		}
		convs = append(convs, conv)
	}

	if dropped := len(records) - len(convs); dropped > 0 {
		s.logger.Info("loaded conversations", "kept", len(convs), "dropped", dropped)
	}
	return convs, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persist writes the collection. Callers hold s.mu and call it only after a
// mutation has fully applied. Failures are logged and remembered.
func (s *Store) persist() {
	s.lastPersistErr = s.write(context.Background())
	if s.lastPersistErr != nil {
		s.logger.Warn("failed to persist conversations", "key", s.key, "error", s.lastPersistErr)
	}
}

func (s *Store) write(ctx context.Context) error {
	data, err := json.Marshal(s.convs)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	return s.blobs.Write(ctx, s.key, data)
}

// Save writes the collection now and returns any storage error.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPersistErr = s.write(ctx)
	return s.lastPersistErr
}

// LastPersistError returns the error of the most recent write, or nil.
func (s *Store) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersistErr
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Store) indexOf(id string) int {
	for i := range s.convs {
		if s.convs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) find(id string) (*model.Conversation, error) {
	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return &s.convs[i], nil
}

// CurrentID returns the ID of the current conversation.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Current returns a copy of the current conversation.
func (s *Store) Current() (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.find(s.current)
	if err != nil {
		return model.Conversation{}, false
	}
	return conv.Clone(), true
}

// Get returns a copy of the conversation with the given ID.
func (s *Store) Get(id string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.find(id)
	if err != nil {
		return model.Conversation{}, err
	}
	return conv.Clone(), nil
}

// List returns copies of all conversations, newest first.
func (s *Store) List() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.convs))
	for i := range s.convs {
		out[i] = s.convs[i].Clone()
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// Streaming reports whether any conversation has an open reply.
func (s *Store) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open) > 0
}

// =============================================================================
// CONVERSATION MUTATIONS
// =============================================================================

// Create inserts a new conversation holding the welcome greeting at the
// front of the list and makes it current. An empty modelKey uses the
// default model.
func (s *Store) Create(modelKey string) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(modelKey) == "" {
		modelKey = s.defaultModel
	}
	conv := model.NewConversation(modelKey, model.WelcomeText)
	s.convs = append([]model.Conversation{conv}, s.convs...)
	s.current = conv.ID
	s.persist()

	s.logger.Debug("conversation created", "id", conv.ID, "model", modelKey)
	return conv.Clone()
}

// Select makes id current. Unknown IDs are ignored; the result reports
// whether the pointer moved.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return false
	}
	s.current = id
	return true
}

// Delete removes a conversation. When it was current, the first remaining
// conversation becomes current. Deleting the last conversation reseeds the
// welcome conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	s.convs = append(s.convs[:i], s.convs[i+1:]...)
	delete(s.open, id)

	switch {
	case len(s.convs) == 0:
		s.seed()
	case s.current == id:
		s.current = s.convs[0].ID
	}
	s.persist()

	s.logger.Debug("conversation deleted", "id", id, "remaining", len(s.convs))
	return nil
}

// UpdateModel changes the model a conversation targets.
func (s *Store) UpdateModel(id, modelKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.find(id)
	if err != nil {
		return err
	}
	conv.Model = modelKey
	s.persist()
	return nil
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AppendUserMessage appends a user message. When it is the conversation's
// second message (the first exchange), the title is derived from text.
func (s *Store) AppendUserMessage(convID, text string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.find(convID)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.NewMessage(model.RoleUser, text)
	conv.Messages = append(conv.Messages, msg)
	if len(conv.Messages) == 2 {
		if title := model.TitleFromText(text); title != "" {
			conv.Title = title
		}
	}
	s.persist()
	return msg, nil
}

// AppendAssistantPlaceholder appends an empty loading assistant message and
// opens it for deltas. It returns the new message ID.
func (s *Store) AppendAssistantPlaceholder(convID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.find(convID)
	if err != nil {
		return "", err
	}
	if _, busy := s.open[convID]; busy {
		return "", fmt.Errorf("%w: %s", ErrStreamOpen, convID)
	}

	msg := model.NewPlaceholder()
	conv.Messages = append(conv.Messages, msg)
	s.open[convID] = msg.ID
	s.persist()
	return msg.ID, nil
}

// openMessage returns the open reply msgID of convID.
func (s *Store) openMessage(convID, msgID string) (*model.Conversation, *model.Message, error) {
	conv, err := s.find(convID)
	if err != nil {
		return nil, nil, err
	}
	i := conv.MessageIndex(msgID)
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
	}
	if s.open[convID] != msgID {
		return nil, nil, fmt.Errorf("%w: %s", ErrMessageFinalized, msgID)
	}
	return conv, &conv.Messages[i], nil
}

// ApplyDelta appends text to an open reply and clears its loading flag.
// Deltas apply in call order.
func (s *Store) ApplyDelta(convID, msgID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, msg, err := s.openMessage(convID, msgID)
	if err != nil {
		return err
	}
	msg.Content += text
	msg.IsLoading = false
	s.persist()
	return nil
}

// Finalize closes an open reply, keeping its content. It clears the loading
// flag of a reply that received no deltas.
func (s *Store) Finalize(convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, msg, err := s.openMessage(convID, msgID)
	if err != nil {
		return err
	}
	msg.IsLoading = false
	delete(s.open, convID)
	s.persist()
	return nil
}

// FinalizeWithError replaces an open reply's content with errText and
// closes it.
func (s *Store) FinalizeWithError(convID, msgID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, msg, err := s.openMessage(convID, msgID)
	if err != nil {
		return err
	}
	msg.Content = errText
	msg.IsLoading = false
	delete(s.open, convID)
	s.persist()
	return nil
}
