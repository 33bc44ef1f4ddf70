package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bizhanchik/Nerdie/internal/config"
	"github.com/bizhanchik/Nerdie/internal/domain"
)

func testGateway(t *testing.T, handler http.HandlerFunc) *OpenAIService {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIService(config.Config{
		OpenAIAPIKey:          "test-key",
		OpenAIBaseURL:         srv.URL,
		OpenAIModelTranscribe: "whisper-1",
		OpenAIModelChat:       "gpt-4o",
	})
}

func chatResponse(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()

	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode chat response: %v", err)
	}
}

func tempAudioFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}
	return path
}

func TestTranscribeSuccess(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello lecture  "})
	})

	text, err := gw.Transcribe(context.Background(), tempAudioFile(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello lecture" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestTranscribeClassifiesInvalidKey(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "Incorrect API key provided", "type": "invalid_request_error"},
		})
	})

	_, err := gw.Transcribe(context.Background(), tempAudioFile(t))
	var aiErr *domain.AIError
	if !errors.As(err, &aiErr) {
		t.Fatalf("expected AIError, got %T", err)
	}
	if aiErr.Type != domain.ErrAPIKeyInvalid {
		t.Fatalf("expected api_key_invalid, got %s", aiErr.Type)
	}
	if aiErr.Retryable {
		t.Fatal("api_key_invalid must not be retryable")
	}
	if aiErr.Step != domain.StepTranscription {
		t.Fatalf("expected step transcription, got %s", aiErr.Step)
	}
}

func TestTranscribeClassifiesRateLimit(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "Rate limit reached", "type": "rate_limit_error"},
		})
	})

	_, err := gw.Transcribe(context.Background(), tempAudioFile(t))
	var aiErr *domain.AIError
	if !errors.As(err, &aiErr) {
		t.Fatalf("expected AIError, got %T", err)
	}
	if aiErr.Type != domain.ErrRateLimit {
		t.Fatalf("expected rate_limit, got %s", aiErr.Type)
	}
	if !aiErr.Retryable {
		t.Fatal("rate_limit must be retryable")
	}
}

func TestMissingAPIKeyFailsBeforeNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	gw := NewOpenAIService(config.Config{OpenAIBaseURL: srv.URL})

	_, err := gw.GenerateStudyMaterials(context.Background(), "text")
	var aiErr *domain.AIError
	if !errors.As(err, &aiErr) {
		t.Fatalf("expected AIError, got %T", err)
	}
	if aiErr.Type != domain.ErrAPIKeyMissing {
		t.Fatalf("expected api_key_missing, got %s", aiErr.Type)
	}
	if calls != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}

func TestGenerateStudyMaterialsParsesResponse(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `{"summary":"short summary","flashcards":[{"front":"q","back":"a"}],"notes":"# notes"}`)
	})

	materials, err := gw.GenerateStudyMaterials(context.Background(), "full text")
	if err != nil {
		t.Fatalf("generate materials: %v", err)
	}
	if materials.Summary != "short summary" || materials.Notes != "# notes" {
		t.Fatalf("unexpected materials %+v", materials)
	}
	if len(materials.Flashcards) != 1 || materials.Flashcards[0].ID == "" {
		t.Fatalf("expected flashcard with assigned id, got %+v", materials.Flashcards)
	}
}

func TestGenerateStudyMaterialsRejectsIncompleteResponse(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `{"summary":"only a summary"}`)
	})

	_, err := gw.GenerateStudyMaterials(context.Background(), "full text")
	var aiErr *domain.AIError
	if !errors.As(err, &aiErr) {
		t.Fatalf("expected AIError, got %T", err)
	}
	if aiErr.Type != domain.ErrGenerationFailed {
		t.Fatalf("expected generation_failed, got %s", aiErr.Type)
	}
}

func TestGenerateTitleStripsQuotes(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `"Biology — Cell Structure"`)
	})

	title, err := gw.GenerateTitle(context.Background(), "snippet")
	if err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if title != "Biology — Cell Structure" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestChatExtractsReferences(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `Energy is made here [REF: 12-34: "the powerhouse of the cell"] as covered early on.`)
	})

	content, refs, err := gw.Chat(context.Background(), "transcript", "notes", nil, "where is energy made?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(refs) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(refs))
	}
	if refs[0].Start != 12 || refs[0].End != 34 || refs[0].Text != "the powerhouse of the cell" {
		t.Fatalf("unexpected reference %+v", refs[0])
	}
	if content != "Energy is made here as covered early on." {
		t.Fatalf("marker not stripped cleanly: %q", content)
	}
}

func TestExtractReferencesIgnoresMalformedMarkers(t *testing.T) {
	clean, refs := extractReferences(`Text [REF: ab-cd: "bad"] and [REF: 1-2: "good"] end.`)

	if len(refs) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(refs))
	}
	if refs[0].Start != 1 || refs[0].End != 2 || refs[0].Text != "good" {
		t.Fatalf("unexpected reference %+v", refs[0])
	}
	if clean != `Text [REF: ab-cd: "bad"] and end.` {
		t.Fatalf("unexpected clean content %q", clean)
	}
}

func TestGeneratePersonalizedLessonValidResponse(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `{
			"title":"Cell Quiz",
			"description":"desc",
			"content":"## intro",
			"estimatedDuration":12,
			"questions":[
				{"type":"multiple_choice","question":"Which organelle?","options":["a","b"],"correctAnswer":"a","explanation":"e"},
				{"type":"true_false","question":"Cells exist.","correctAnswer":"True"}
			]
		}`)
	})

	age := 20
	draft, err := gw.GeneratePersonalizedLesson(context.Background(), LessonInput{
		Title: "Cells", Transcription: "t", Summary: "s", Notes: "n",
	}, &domain.UserProfile{Age: &age, Interests: []string{"football"}, Language: "English"})
	if err != nil {
		t.Fatalf("generate lesson: %v", err)
	}

	if draft.Title != "Cell Quiz" || len(draft.Questions) != 2 {
		t.Fatalf("unexpected draft %+v", draft)
	}
	for _, q := range draft.Questions {
		if q.ID == "" {
			t.Fatal("expected assigned question ids")
		}
	}
}

func TestGeneratePersonalizedLessonRejectsUnsupportedType(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `{
			"title":"Quiz",
			"questions":[{"type":"fill_in_the_blank","question":"___?","correctAnswer":"x"}]
		}`)
	})

	_, err := gw.GeneratePersonalizedLesson(context.Background(), LessonInput{Title: "t", Transcription: "t", Summary: "s", Notes: "n"}, nil)
	var aiErr *domain.AIError
	if !errors.As(err, &aiErr) {
		t.Fatalf("expected AIError, got %T", err)
	}
	if aiErr.Type != domain.ErrGenerationFailed {
		t.Fatalf("expected generation_failed, got %s", aiErr.Type)
	}
}

func TestGeneratePersonalizedLessonRejectsBadTrueFalseAnswer(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, `{
			"title":"Quiz",
			"questions":[{"type":"true_false","question":"Cells exist.","correctAnswer":"Maybe"}]
		}`)
	})

	_, err := gw.GeneratePersonalizedLesson(context.Background(), LessonInput{Title: "t", Transcription: "t", Summary: "s", Notes: "n"}, nil)
	if err == nil {
		t.Fatal("expected generation_failed for bad true/false answer")
	}
}
