package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/bizhanchik/Nerdie/internal/domain"
	"github.com/bizhanchik/Nerdie/internal/storage"
)

func newTestGenerator(t *testing.T, gw *fakeGateway) (*LessonGenerator, *storage.Store) {
	t.Helper()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return NewLessonGenerator(store, gw, quietLogger()), store
}

func seedProcessedLecture(t *testing.T, store *storage.Store, id string) {
	t.Helper()

	err := store.SaveLecture(domain.Lecture{
		ID:            id,
		Title:         "Cell Biology",
		Status:        domain.StatusProcessed,
		Transcription: "the mitochondria is the powerhouse of the cell",
		Summary:       "Cells have mitochondria.",
		Flashcards:    []domain.Flashcard{{ID: "1", Front: "Mitochondria?", Back: "Powerhouse"}},
		Notes:         "# Cells",
	})
	if err != nil {
		t.Fatalf("seed lecture: %v", err)
	}
}

func TestGenerateRequiresCompletePack(t *testing.T) {
	gen, store := newTestGenerator(t, &fakeGateway{})

	err := store.SaveLecture(domain.Lecture{
		ID:            "lec-1",
		Status:        domain.StatusFailed,
		Transcription: "some text",
		Summary:       "summary only",
	})
	if err != nil {
		t.Fatalf("seed lecture: %v", err)
	}

	if _, err := gen.Generate(context.Background(), "lec-1", false); !errors.Is(err, ErrPackIncomplete) {
		t.Fatalf("expected ErrPackIncomplete, got %v", err)
	}
}

func TestGenerateCreatesLesson(t *testing.T) {
	gw := &fakeGateway{}
	gen, store := newTestGenerator(t, gw)
	seedProcessedLecture(t, store, "lec-1")

	lesson, err := gen.Generate(context.Background(), "lec-1", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if lesson.ID == "" || lesson.LectureID != "lec-1" {
		t.Fatalf("unexpected lesson identity %+v", lesson)
	}
	if lesson.Completed || lesson.Score != nil {
		t.Fatal("new lesson must not carry completion state")
	}

	saved, ok := store.LessonByLecture("lec-1")
	if !ok {
		t.Fatal("lesson not persisted")
	}
	if saved.ID != lesson.ID {
		t.Fatalf("persisted lesson id %s, want %s", saved.ID, lesson.ID)
	}
}

func TestGenerateConflictsWithExistingLesson(t *testing.T) {
	gen, store := newTestGenerator(t, &fakeGateway{})
	seedProcessedLecture(t, store, "lec-1")

	first, err := gen.Generate(context.Background(), "lec-1", false)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}

	_, err = gen.Generate(context.Background(), "lec-1", false)
	var exists *ErrLessonExists
	if !errors.As(err, &exists) {
		t.Fatalf("expected ErrLessonExists, got %v", err)
	}
	if exists.Existing.ID != first.ID {
		t.Fatalf("conflict carries lesson %s, want %s", exists.Existing.ID, first.ID)
	}
}

func TestRegenerateReusesLessonID(t *testing.T) {
	gw := &fakeGateway{}
	gen, store := newTestGenerator(t, gw)
	seedProcessedLecture(t, store, "lec-1")

	first, err := gen.Generate(context.Background(), "lec-1", false)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}

	gw.lessonFn = func(ctx context.Context, in LessonInput, profile *domain.UserProfile) (domain.LessonDraft, error) {
		return domain.LessonDraft{
			Title: "Regenerated Quiz",
			Questions: []domain.LessonQuestion{
				{ID: "1", Type: domain.QuestionTrueFalse, Question: "Still true?", CorrectAnswer: "True"},
			},
		}, nil
	}

	second, err := gen.Generate(context.Background(), "lec-1", true)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("regenerated lesson id %s, want %s", second.ID, first.ID)
	}
	if second.Title != "Regenerated Quiz" {
		t.Fatalf("expected regenerated content, got %q", second.Title)
	}
	if len(store.ListLessons()) != 1 {
		t.Fatal("regeneration must not create a second lesson")
	}
}

func TestGenerateFailurePersistsNothing(t *testing.T) {
	gw := &fakeGateway{
		lessonFn: func(ctx context.Context, in LessonInput, profile *domain.UserProfile) (domain.LessonDraft, error) {
			return domain.LessonDraft{}, domain.NewAIError(domain.ErrGenerationFailed, "", "malformed response", nil)
		},
	}
	gen, store := newTestGenerator(t, gw)
	seedProcessedLecture(t, store, "lec-1")

	_, err := gen.Generate(context.Background(), "lec-1", false)
	var aiErr *domain.AIError
	if !errors.As(err, &aiErr) {
		t.Fatalf("expected AIError, got %v", err)
	}

	if _, ok := store.LessonByLecture("lec-1"); ok {
		t.Fatal("failed generation must not persist a lesson")
	}
}

func TestGeneratePassesProfileToGateway(t *testing.T) {
	var gotProfile *domain.UserProfile
	gw := &fakeGateway{}
	gw.lessonFn = func(ctx context.Context, in LessonInput, profile *domain.UserProfile) (domain.LessonDraft, error) {
		gotProfile = profile
		return domain.LessonDraft{
			Title: "Quiz",
			Questions: []domain.LessonQuestion{
				{ID: "1", Type: domain.QuestionTrueFalse, Question: "q", CorrectAnswer: "True"},
			},
		}, nil
	}
	gen, store := newTestGenerator(t, gw)
	seedProcessedLecture(t, store, "lec-1")

	if err := store.SaveProfile(domain.UserProfile{Interests: []string{"football"}, Language: "English"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	if _, err := gen.Generate(context.Background(), "lec-1", false); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if gotProfile == nil {
		t.Fatal("expected stored profile to reach the gateway")
	}
	if len(gotProfile.Interests) != 1 || gotProfile.Interests[0] != "football" {
		t.Fatalf("unexpected profile %+v", gotProfile)
	}
	if got := atomic.LoadInt32(&gw.lessonCalls); got != 1 {
		t.Fatalf("expected 1 gateway call, got %d", got)
	}
}

func TestCompleteRecordsScore(t *testing.T) {
	gen, store := newTestGenerator(t, &fakeGateway{})
	seedProcessedLecture(t, store, "lec-1")

	lesson, err := gen.Generate(context.Background(), "lec-1", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	completed, err := gen.Complete(lesson.ID, 85)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if !completed.Completed || completed.Score == nil || *completed.Score != 85 {
		t.Fatalf("unexpected completion state %+v", completed)
	}
	if completed.CompletedAt == nil || *completed.CompletedAt == 0 {
		t.Fatal("expected a completion timestamp")
	}
}

func TestCompleteRejectsOutOfRangeScore(t *testing.T) {
	gen, store := newTestGenerator(t, &fakeGateway{})
	seedProcessedLecture(t, store, "lec-1")

	lesson, err := gen.Generate(context.Background(), "lec-1", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := gen.Complete(lesson.ID, 101); err == nil {
		t.Fatal("expected rejection of score over 100")
	}
	if _, err := gen.Complete(lesson.ID, -1); err == nil {
		t.Fatal("expected rejection of negative score")
	}
}
