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

// ErrPackIncomplete is a local precondition failure: lesson generation
// requires a completed Learning Pack, and this is checked before any
// Gateway call.
var ErrPackIncomplete = errors.New("lecture does not have a complete learning pack")

// ErrLessonExists signals that a lesson for the lecture already exists and
// the caller must explicitly choose between viewing it and regenerating.
type ErrLessonExists struct {
	Existing domain.Lesson
}

func (e *ErrLessonExists) Error() string {
	return fmt.Sprintf("a lesson already exists for lecture %s", e.Existing.LectureID)
}

// LessonGateway is the slice of the remote AI capability the generator uses.
type LessonGateway interface {
	GeneratePersonalizedLesson(ctx context.Context, in LessonInput, profile *domain.UserProfile) (domain.LessonDraft, error)
}

// LessonGenerator produces a personalized quiz lesson from an already
// processed lecture. Generation is all-or-nothing: on failure nothing is
// persisted.
type LessonGenerator struct {
	store *storage.Store
	ai    LessonGateway
	log   *logrus.Logger
}

func NewLessonGenerator(store *storage.Store, ai LessonGateway, log *logrus.Logger) *LessonGenerator {
	return &LessonGenerator{store: store, ai: ai, log: log}
}

// Generate creates the lesson for a lecture. When a lesson already exists
// and regenerate is false, the existing lesson is returned inside
// *ErrLessonExists; regenerating overwrites it under the same lesson id.
func (g *LessonGenerator) Generate(ctx context.Context, lectureID string, regenerate bool) (domain.Lesson, error) {
	lec, err := g.store.GetLecture(lectureID)
	if err != nil {
		return domain.Lesson{}, err
	}

	if lec.Transcription == "" || !PackComplete(lec) {
		return domain.Lesson{}, ErrPackIncomplete
	}

	lessonID := uuid.NewString()
	if existing, ok := g.store.LessonByLecture(lectureID); ok {
		if !regenerate {
			return domain.Lesson{}, &ErrLessonExists{Existing: existing}
		}
		lessonID = existing.ID
	}

	var profile *domain.UserProfile
	if stored, ok := g.store.GetProfile(); ok {
		profile = &stored
	}

	draft, err := g.ai.GeneratePersonalizedLesson(ctx, LessonInput{
		Title:         lec.Title,
		Transcription: lec.Transcription,
		Summary:       lec.Summary,
		Notes:         lec.Notes,
	}, profile)
	if err != nil {
		g.log.WithError(err).WithField("lecture", lectureID).Error("lesson generation failed")
		return domain.Lesson{}, err
	}

	lesson := domain.Lesson{
		ID:                lessonID,
		LectureID:         lectureID,
		Title:             draft.Title,
		Description:       draft.Description,
		Content:           draft.Content,
		Questions:         draft.Questions,
		EstimatedDuration: draft.EstimatedDuration,
		CreatedAt:         time.Now().Unix(),
	}

	if err := g.store.SaveLesson(lesson); err != nil {
		return domain.Lesson{}, fmt.Errorf("save lesson: %w", err)
	}

	g.log.WithFields(logrus.Fields{"lesson": lesson.ID, "lecture": lectureID, "questions": len(lesson.Questions)}).
		Info("lesson generated")

	return lesson, nil
}

// Complete records the user's quiz result on the lesson.
func (g *LessonGenerator) Complete(lessonID string, score int) (domain.Lesson, error) {
	if score < 0 || score > 100 {
		return domain.Lesson{}, fmt.Errorf("score %d out of range 0-100", score)
	}

	lesson, err := g.store.GetLesson(lessonID)
	if err != nil {
		return domain.Lesson{}, err
	}

	now := time.Now().Unix()
	lesson.Completed = true
	lesson.Score = &score
	lesson.CompletedAt = &now

	if err := g.store.SaveLesson(lesson); err != nil {
		return domain.Lesson{}, fmt.Errorf("save completed lesson: %w", err)
	}
	return lesson, nil
}
