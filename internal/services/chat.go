package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bizhanchik/Nerdie/internal/domain"
	"github.com/bizhanchik/Nerdie/internal/storage"
)

// ErrNoTranscription rejects chat on a lecture that has not been
// transcribed yet.
var ErrNoTranscription = errors.New("lecture has no transcription to chat about")

// ChatGateway is the slice of the remote AI capability the chat uses.
type ChatGateway interface {
	Chat(ctx context.Context, transcription, notes string, history []domain.ChatMessage, question string) (string, []domain.TimestampReference, error)
}

// ChatService answers questions grounded in one lecture and appends both
// turns to the lecture's persisted chat history.
type ChatService struct {
	store *storage.Store
	ai    ChatGateway
	log   *logrus.Logger
}

func NewChatService(store *storage.Store, ai ChatGateway, log *logrus.Logger) *ChatService {
	return &ChatService{store: store, ai: ai, log: log}
}

// Ask sends a question about the lecture and returns the assistant's turn,
// with any inline citation markers extracted into references.
func (c *ChatService) Ask(ctx context.Context, lectureID, question string) (domain.ChatMessage, error) {
	lec, err := c.store.GetLecture(lectureID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if lec.Transcription == "" {
		return domain.ChatMessage{}, ErrNoTranscription
	}

	content, refs, err := c.ai.Chat(ctx, lec.Transcription, lec.Notes, lec.ChatHistory, question)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	now := time.Now().Unix()
	userTurn := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      "user",
		Content:   question,
		Timestamp: now,
	}
	assistantTurn := domain.ChatMessage{
		ID:         uuid.NewString(),
		Role:       "assistant",
		Content:    content,
		Timestamp:  now,
		References: refs,
	}

	lec.ChatHistory = append(lec.ChatHistory, userTurn, assistantTurn)
	if err := c.store.SaveLecture(lec); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("persist chat history: %w", err)
	}

	c.log.WithFields(logrus.Fields{"lecture": lectureID, "references": len(refs)}).Debug("chat turn recorded")

	return assistantTurn, nil
}
