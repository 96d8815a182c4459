package runtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"careerpilot/internal/config"
	"careerpilot/internal/models"
	"careerpilot/internal/redis"
	"careerpilot/internal/service/ai"
	"careerpilot/internal/store"
	"careerpilot/internal/turn"
)

const defaultTurnTimeout = 5 * time.Minute

// Manager owns the per-user runtime state: cached chat history and the
// model pipelines bound to each chat. History reads go memory first,
// redis second, database last; writes invalidate through redis pub/sub
// so other instances drop their copies.
type Manager struct {
	mu    sync.Mutex
	users map[int64]*userState

	store       *store.Service
	cache       *stateCache
	cfg         *config.Config
	extractor   turn.Extractor
	turnTimeout time.Duration
}

func NewManager(ctx context.Context, cfg *config.Config, st *store.Service, cacheClient *redis.Client) (*Manager, error) {
	extractor, err := ai.NewExtractor(ctx)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	timeout := defaultTurnTimeout
	if cfg.BasicConfig.TurnTimeout > 0 {
		timeout = time.Duration(cfg.BasicConfig.TurnTimeout) * time.Minute
	}

	m := &Manager{
		users:       make(map[int64]*userState),
		store:       st,
		cache:       newStateCache(cacheClient),
		cfg:         cfg,
		extractor:   extractorAdapter{inner: extractor},
		turnTimeout: timeout,
	}
	m.cache.startListener(m.handleInvalidation)
	return m, nil
}

func (m *Manager) userState(userID int64) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[userID]
	if !ok {
		s = newUserState()
		m.users[userID] = s
	}
	return s
}

func (m *Manager) handleInvalidation(msg invalidateMessage) {
	m.mu.Lock()
	s, ok := m.users[msg.UserID]
	m.mu.Unlock()
	if !ok {
		return
	}
	switch msg.Scope {
	case scopeUser:
		s.reset()
	case scopeChat:
		s.purgeChat(msg.ChatID)
	}
}

// History loads a chat's ordered message history, filling the memory and
// redis layers on the way up from the database.
func (m *Manager) History(ctx context.Context, userID, chatID int64) (*models.Chat, []*models.Message, error) {
	s := m.userState(userID)
	if history, ok := s.getHistory(chatID); ok {
		if chat := s.getChat(chatID); chat != nil {
			return chat, history, nil
		}
	}

	if chat, history, ok := m.cache.loadChat(userID, chatID); ok {
		s.setChat(chat)
		s.setHistory(chatID, history)
		return chat, history, nil
	}

	chat, history, err := m.store.GetChatWithMessages(ctx, userID, chatID)
	if err != nil {
		return nil, nil, err
	}
	s.setChat(chat)
	s.setHistory(chatID, history)
	m.cache.cacheChat(chat, history)
	return chat, history, nil
}

// InvalidateChat drops the chat's cached state everywhere. Called after a
// turn lands, and by the HTTP layer on destructive chat operations.
func (m *Manager) InvalidateChat(userID, chatID int64) {
	m.userState(userID).purgeChat(chatID)
	m.cache.invalidateChat(chatID)
	m.cache.publishInvalidation(invalidateMessage{UserID: userID, ChatID: chatID, Scope: scopeChat})
}

// ResetUser drops everything cached for the user, including built model
// pipelines. Called on logout, account deletion and API key changes.
func (m *Manager) ResetUser(userID int64) {
	s := m.userState(userID)
	s.mu.RLock()
	chatIDs := make([]int64, 0, len(s.history))
	for id := range s.history {
		chatIDs = append(chatIDs, id)
	}
	s.mu.RUnlock()
	for _, id := range chatIDs {
		m.cache.invalidateChat(id)
	}
	s.reset()
	m.cache.publishInvalidation(invalidateMessage{UserID: userID, Scope: scopeUser})
}

// resources returns the pipeline for a chat's current model selection,
// rebuilding it when provider, model or key differ from the cached one.
func (m *Manager) resources(ctx context.Context, userID, chatID int64, provider, modelID, apiKey string) (*chatResources, error) {
	s := m.userState(userID)
	if res := s.getResources(chatID); res.matches(provider, modelID, apiKey) {
		return res, nil
	}

	chatModel, err := ai.NewChatModel(ctx, m.cfg, provider, modelID, apiKey)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}

	resumeGen, err := turn.NewLLMGenerator(ctx, turn.GeneratorResume, chatModel, turn.ResumeProfile(), ai.ResumeTools())
	if err != nil {
		return nil, fmt.Errorf("build resume generator: %w", err)
	}
	interviewGen, err := turn.NewLLMGenerator(ctx, turn.GeneratorInterview, chatModel, turn.InterviewProfile(), nil)
	if err != nil {
		return nil, fmt.Errorf("build interview generator: %w", err)
	}
	chatGen, err := turn.NewLLMGenerator(ctx, turn.GeneratorChat, chatModel, turn.ChatProfile(), ai.ChatTools(m.store))
	if err != nil {
		return nil, fmt.Errorf("build chat generator: %w", err)
	}

	pipeline := turn.NewPipeline(
		turn.NewPreprocessor(m.extractor),
		turn.NewClassifier(chatModel),
		turn.NewRegistry(resumeGen, interviewGen, chatGen),
		turn.NewReconciler(m.store),
		turn.NewTitleGenerator(chatModel, m.store),
	)
	res := &chatResources{pipeline: pipeline, provider: provider, model: modelID, token: apiKey}
	s.setResources(chatID, res)
	return res, nil
}

// TurnRequest is one inbound turn from the HTTP layer. Incoming carries
// the new user messages (empty for a pure tool-approval continuation).
type TurnRequest struct {
	UserID       int64
	ChatID       int64
	Provider     string
	ModelID      string
	Incoming     []*models.Message
	ToolApproval bool
	Emit         turn.EmitFunc
}

// RunTurn executes one turn end to end on the calling goroutine. New user
// messages are persisted before generation; the pipeline itself runs
// under a detached context so a dropped client connection cannot abort
// generation or persistence mid-flight.
func (m *Manager) RunTurn(ctx context.Context, req *TurnRequest) error {
	_, history, err := m.History(ctx, req.UserID, req.ChatID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	apiKey, err := m.store.EnsureProviderReady(ctx, req.UserID, req.Provider)
	if err != nil {
		return fmt.Errorf("provider %s: %w", req.Provider, err)
	}
	res, err := m.resources(ctx, req.UserID, req.ChatID, req.Provider, req.ModelID, apiKey)
	if err != nil {
		return err
	}

	for _, msg := range req.Incoming {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.UserID = req.UserID
		msg.ChatID = req.ChatID
	}
	if len(req.Incoming) > 0 {
		if err := m.store.InsertMessages(ctx, req.ChatID, req.Incoming); err != nil {
			return fmt.Errorf("persist input: %w", err)
		}
	}

	t := &turn.Turn{
		UserID:       req.UserID,
		ChatID:       req.ChatID,
		Provider:     req.Provider,
		ModelID:      req.ModelID,
		Messages:     append(append([]*models.Message{}, history...), req.Incoming...),
		ToolApproval: req.ToolApproval,
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.turnTimeout)
	defer cancel()
	runCtx = ai.WithToolSession(runCtx, req.UserID, req.ChatID)

	runErr := res.pipeline.Run(runCtx, t, req.Emit)

	// The reconciler wrote through to the database; drop cached history so
	// the next read picks up the new rows (and any title update).
	m.InvalidateChat(req.UserID, req.ChatID)
	if runErr != nil {
		log.Printf("runtime: turn for chat %d finished with error: %v", req.ChatID, runErr)
	}
	return runErr
}

// extractorAdapter bridges the document extractor into the pipeline's
// collaborator shape.
type extractorAdapter struct {
	inner *ai.Extractor
}

func (a extractorAdapter) Extract(ctx context.Context, source string) (*turn.Extraction, error) {
	ext, err := a.inner.Extract(ctx, source)
	if err != nil {
		return nil, err
	}
	return &turn.Extraction{
		Text:      ext.Text,
		PageCount: ext.PageCount,
		Title:     ext.Title,
		Author:    ext.Author,
	}, nil
}
