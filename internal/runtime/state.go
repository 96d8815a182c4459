package runtime

import (
	"sync"

	"careerpilot/internal/models"
	"careerpilot/internal/turn"
)

// chatResources bundles the pipeline built for one chat's model
// selection. Rebuilt whenever provider, model or key changes.
type chatResources struct {
	pipeline *turn.Pipeline
	provider string
	model    string
	token    string
}

func (r *chatResources) matches(provider, model, token string) bool {
	return r != nil && r.provider == provider && r.model == model && r.token == token
}

// userState is the in-process cache for one user: chats, their message
// history and the model resources bound to each chat.
type userState struct {
	mu        sync.RWMutex
	chats     map[int64]*models.Chat
	history   map[int64][]*models.Message
	resources map[int64]*chatResources
}

func newUserState() *userState {
	return &userState{
		chats:     make(map[int64]*models.Chat),
		history:   make(map[int64][]*models.Message),
		resources: make(map[int64]*chatResources),
	}
}

func (s *userState) setChat(chat *models.Chat) {
	if chat == nil {
		return
	}
	s.mu.Lock()
	s.chats[chat.ID] = chat
	s.mu.Unlock()
}

func (s *userState) getChat(chatID int64) *models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats[chatID]
}

func (s *userState) setHistory(chatID int64, history []*models.Message) {
	s.mu.Lock()
	s.history[chatID] = history
	s.mu.Unlock()
}

func (s *userState) getHistory(chatID int64) ([]*models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[chatID]
	return h, ok
}

func (s *userState) setResources(chatID int64, res *chatResources) {
	if res == nil {
		return
	}
	s.mu.Lock()
	s.resources[chatID] = res
	s.mu.Unlock()
}

func (s *userState) getResources(chatID int64) *chatResources {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources[chatID]
}

func (s *userState) purgeChat(chatID int64) {
	s.mu.Lock()
	delete(s.chats, chatID)
	delete(s.history, chatID)
	delete(s.resources, chatID)
	s.mu.Unlock()
}

func (s *userState) reset() {
	s.mu.Lock()
	s.chats = make(map[int64]*models.Chat)
	s.history = make(map[int64][]*models.Message)
	s.resources = make(map[int64]*chatResources)
	s.mu.Unlock()
}
