package service

import (
	"context"

	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/pipeline"
)

// ChatService handles chat operations through the pipeline
type ChatService struct {
	orchestrator *pipeline.Orchestrator
}

// NewChatService creates a new chat service
func NewChatService(orchestrator *pipeline.Orchestrator) *ChatService {
	return &ChatService{orchestrator: orchestrator}
}

// Chat handles a chat message. A nil or empty session id starts a new session.
func (s *ChatService) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	sessionID := ""
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	res, err := s.orchestrator.Handle(ctx, sessionID, req.Message)
	if err != nil {
		return nil, err
	}
	return res.ChatResponse(), nil
}
