package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bizhanchik/Nerdie/internal/config"
	"github.com/bizhanchik/Nerdie/internal/domain"
)

const requestTimeout = 10 * time.Minute

const (
	titleSystemPrompt = "You generate short lecture titles. Reply with a single title in the form \"Subject — Topic\", under 60 characters, no quotes, nothing else."

	materialsSystemPrompt = "You are a helpful study assistant. You output only valid JSON."

	materialsPromptTemplate = `Analyze the following lecture transcription and generate study materials.
Return the output strictly in valid JSON format with the following structure:
{
  "summary": "A concise summary of the lecture (max 200 words)",
  "flashcards": [
    {"id": "1", "front": "Question/Term", "back": "Answer/Definition"}
  ],
  "notes": "A structured conspectus of the lecture using markdown formatting"
}
Generate 5-10 key flashcards.

Transcription:
%s`

	chatSystemPromptTemplate = `You are a study assistant answering questions about one specific lecture.
Ground every answer in the lecture material below. When you quote the lecture,
mark the quoted span as [REF: <start>-<end>: "<quote>"] where start and end are
second offsets into the recording.

Transcription:
%s

Notes:
%s`

	lessonSystemPrompt = "You create personalized quiz lessons from lecture material. You output only valid JSON."

	lessonPromptTemplate = `Create a personalized quiz lesson from this lecture.
Return strictly valid JSON with this structure:
{
  "title": "Lesson title",
  "description": "One-sentence description",
  "content": "Short markdown intro for the lesson",
  "estimatedDuration": 10,
  "questions": [
    {"id": "1", "type": "multiple_choice", "question": "...", "options": ["a","b","c","d"], "correctAnswer": "a", "explanation": "..."},
    {"id": "2", "type": "true_false", "question": "...", "correctAnswer": "True", "explanation": "..."}
  ]
}
Generate 5-7 questions. Only the types "multiple_choice" and "true_false" are allowed.
%s
Lecture title: %s

Summary:
%s

Notes:
%s

Transcription:
%s`
)

// refMarkerPattern matches inline citation markers of the form
// [REF: 12-34: "quote"] embedded in chat responses.
var refMarkerPattern = regexp.MustCompile(`\[REF:\s*(\d+)\s*-\s*(\d+)\s*:\s*"([^"]*)"\]`)

var doubleSpacePattern = regexp.MustCompile(`[ \t]{2,}`)

// OpenAIService is the remote AI gateway: it translates pipeline stage
// needs into OpenAI API calls and classifies every failure into the
// AIError taxonomy. It holds no local state beyond its configuration.
type OpenAIService struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	chatModel       string
	reqTimeout      time.Duration
	httpClient      *http.Client
}

func NewOpenAIService(cfg config.Config) *OpenAIService {
	return &OpenAIService{
		apiKey:          cfg.OpenAIAPIKey,
		baseURL:         strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		transcribeModel: cfg.OpenAIModelTranscribe,
		chatModel:       cfg.OpenAIModelChat,
		reqTimeout:      requestTimeout,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Transcribe uploads a recording to the speech-to-text endpoint and returns
// the full transcription text.
func (s *OpenAIService) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := s.ensureAPIKey(domain.StepTranscription); err != nil {
		return "", err
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("open audio file: %v", err), err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("create multipart file: %v", err), err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("copy audio data: %v", err), err)
	}
	if err := writer.WriteField("model", s.transcribeModel); err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("write model field: %v", err), err)
	}
	if err := writer.Close(); err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("close multipart writer: %v", err), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("create transcription request: %v", err), err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.do(req)
	if err != nil {
		return "", s.classify(err, domain.StepTranscription, domain.ErrTranscriptionFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", s.classify(s.decodeAPIError(resp), domain.StepTranscription, domain.ErrTranscriptionFailed)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			fmt.Sprintf("decode transcription response: %v", err), err)
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			"transcription returned empty text", nil)
	}
	return text, nil
}

// ExtractTextFromPhotos runs vision-based extraction across the captured
// photos and returns the concatenated text.
func (s *OpenAIService) ExtractTextFromPhotos(ctx context.Context, photoPaths []string) (string, error) {
	if err := s.ensureAPIKey(domain.StepTranscription); err != nil {
		return "", err
	}
	if len(photoPaths) == 0 {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			"no photos provided", nil)
	}

	content := []map[string]any{
		{
			"type": "text",
			"text": "Extract all text and content from these photos of lecture notes. Transcribe everything legible, preserving structure. Output plain text only.",
		},
	}
	for _, path := range photoPaths {
		dataURL, err := encodePhoto(path)
		if err != nil {
			return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
				fmt.Sprintf("read photo %s: %v", filepath.Base(path), err), err)
		}
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": dataURL},
		})
	}

	payload := map[string]any{
		"model": s.chatModel,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}

	text, err := s.chatCompletion(ctx, payload, domain.StepTranscription, domain.ErrTranscriptionFailed)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.NewAIError(domain.ErrTranscriptionFailed, domain.StepTranscription,
			"photo extraction returned empty text", nil)
	}
	return strings.TrimSpace(text), nil
}

// GenerateTitle asks for a short title from a snippet of lecture text.
// Callers treat a failure here as non-fatal.
func (s *OpenAIService) GenerateTitle(ctx context.Context, snippet string) (string, error) {
	if err := s.ensureAPIKey(domain.StepTitleGeneration); err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": s.chatModel,
		"messages": []map[string]string{
			{"role": "system", "content": titleSystemPrompt},
			{"role": "user", "content": snippet},
		},
		"temperature": 0.2,
	}

	title, err := s.chatCompletion(ctx, payload, domain.StepTitleGeneration, domain.ErrGenerationFailed)
	if err != nil {
		return "", err
	}

	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return "", domain.NewAIError(domain.ErrGenerationFailed, domain.StepTitleGeneration,
			"title generation returned empty text", nil)
	}
	if len(title) > 60 {
		title = strings.TrimSpace(title[:60])
	}
	return title, nil
}

// GenerateStudyMaterials runs the core content-generation call and parses
// the structured response into summary, flashcards, and notes.
func (s *OpenAIService) GenerateStudyMaterials(ctx context.Context, fullText string) (domain.StudyMaterials, error) {
	if err := s.ensureAPIKey(domain.StepStudyMaterials); err != nil {
		return domain.StudyMaterials{}, err
	}

	payload := map[string]any{
		"model": s.chatModel,
		"messages": []map[string]string{
			{"role": "system", "content": materialsSystemPrompt},
			{"role": "user", "content": fmt.Sprintf(materialsPromptTemplate, fullText)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}

	content, err := s.chatCompletion(ctx, payload, domain.StepStudyMaterials, domain.ErrGenerationFailed)
	if err != nil {
		return domain.StudyMaterials{}, err
	}

	var materials domain.StudyMaterials
	if err := json.Unmarshal([]byte(content), &materials); err != nil {
		return domain.StudyMaterials{}, domain.NewAIError(domain.ErrGenerationFailed, domain.StepStudyMaterials,
			fmt.Sprintf("parse study materials: %v", err), err)
	}

	if strings.TrimSpace(materials.Summary) == "" || len(materials.Flashcards) == 0 || strings.TrimSpace(materials.Notes) == "" {
		return domain.StudyMaterials{}, domain.NewAIError(domain.ErrGenerationFailed, domain.StepStudyMaterials,
			"study materials response missing summary, flashcards, or notes", nil)
	}

	for i := range materials.Flashcards {
		if materials.Flashcards[i].ID == "" {
			materials.Flashcards[i].ID = strconv.Itoa(i + 1)
		}
	}

	return materials, nil
}

// Chat answers a question grounded in the lecture. Inline citation markers
// in the response are extracted into structured references and stripped
// from the visible content.
func (s *OpenAIService) Chat(ctx context.Context, transcription, notes string, history []domain.ChatMessage, question string) (string, []domain.TimestampReference, error) {
	if err := s.ensureAPIKey(""); err != nil {
		return "", nil, err
	}

	messages := []map[string]string{
		{"role": "system", "content": fmt.Sprintf(chatSystemPromptTemplate, transcription, notes)},
	}
	for _, msg := range history {
		messages = append(messages, map[string]string{"role": msg.Role, "content": msg.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": question})

	payload := map[string]any{
		"model":    s.chatModel,
		"messages": messages,
	}

	content, err := s.chatCompletion(ctx, payload, "", domain.ErrGenerationFailed)
	if err != nil {
		return "", nil, err
	}

	clean, refs := extractReferences(content)
	return clean, refs, nil
}

// LessonInput carries the completed pack fields a lesson is generated from.
type LessonInput struct {
	Title         string
	Transcription string
	Summary       string
	Notes         string
}

// GeneratePersonalizedLesson builds a quiz lesson from a completed pack,
// personalized with the user's profile when one exists. Malformed model
// output is rejected as generation_failed, never repaired.
func (s *OpenAIService) GeneratePersonalizedLesson(ctx context.Context, in LessonInput, profile *domain.UserProfile) (domain.LessonDraft, error) {
	if err := s.ensureAPIKey(""); err != nil {
		return domain.LessonDraft{}, err
	}

	prompt := fmt.Sprintf(lessonPromptTemplate,
		personalizationHints(profile), in.Title, in.Summary, in.Notes, in.Transcription)

	payload := map[string]any{
		"model": s.chatModel,
		"messages": []map[string]string{
			{"role": "system", "content": lessonSystemPrompt},
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	}

	content, err := s.chatCompletion(ctx, payload, "", domain.ErrGenerationFailed)
	if err != nil {
		return domain.LessonDraft{}, err
	}

	var draft domain.LessonDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return domain.LessonDraft{}, domain.NewAIError(domain.ErrGenerationFailed, "",
			fmt.Sprintf("parse lesson response: %v", err), err)
	}

	if err := validateLessonDraft(draft); err != nil {
		return domain.LessonDraft{}, domain.NewAIError(domain.ErrGenerationFailed, "", err.Error(), err)
	}

	for i := range draft.Questions {
		if draft.Questions[i].ID == "" {
			draft.Questions[i].ID = strconv.Itoa(i + 1)
		}
	}

	return draft, nil
}

func validateLessonDraft(draft domain.LessonDraft) error {
	if strings.TrimSpace(draft.Title) == "" {
		return errors.New("lesson response missing title")
	}
	if len(draft.Questions) == 0 {
		return errors.New("lesson response contains no questions")
	}
	for i, q := range draft.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d missing text", i+1)
		}
		switch q.Type {
		case domain.QuestionMultipleChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("question %d is multiple_choice without options", i+1)
			}
			if strings.TrimSpace(q.CorrectAnswer) == "" {
				return fmt.Errorf("question %d missing correct answer", i+1)
			}
		case domain.QuestionTrueFalse:
			answer := strings.ToLower(strings.TrimSpace(q.CorrectAnswer))
			if answer != "true" && answer != "false" {
				return fmt.Errorf("question %d has true_false answer %q", i+1, q.CorrectAnswer)
			}
		default:
			return fmt.Errorf("question %d has unsupported type %q", i+1, q.Type)
		}
	}
	return nil
}

func personalizationHints(profile *domain.UserProfile) string {
	if profile == nil {
		return ""
	}

	var hints []string
	if len(profile.Interests) > 0 {
		hints = append(hints, fmt.Sprintf("The learner is interested in: %s. Use these interests in examples where natural.", strings.Join(profile.Interests, ", ")))
	}
	if profile.Age != nil {
		hints = append(hints, fmt.Sprintf("The learner is %d years old; match the tone to that age.", *profile.Age))
	}
	if profile.Language != "" {
		hints = append(hints, fmt.Sprintf("Write the entire lesson in %s.", profile.Language))
	}
	if len(hints) == 0 {
		return ""
	}
	return strings.Join(hints, "\n") + "\n"
}

// extractReferences pulls [REF: start-end: "quote"] markers out of a chat
// response. Markers become structured references; the visible content keeps
// reading naturally with no double-space artifacts.
func extractReferences(content string) (string, []domain.TimestampReference) {
	matches := refMarkerPattern.FindAllStringSubmatch(content, -1)

	var refs []domain.TimestampReference
	for _, m := range matches {
		start, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		end, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		refs = append(refs, domain.TimestampReference{Start: start, End: end, Text: m[3]})
	}

	clean := refMarkerPattern.ReplaceAllString(content, "")
	clean = doubleSpacePattern.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(clean)

	return clean, refs
}

// chatCompletion posts one chat-completion payload and returns the first
// choice's content.
func (s *OpenAIService) chatCompletion(ctx context.Context, payload map[string]any, step domain.ProcessingStep, fallback domain.AIErrorType) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", domain.NewAIError(fallback, step, fmt.Sprintf("encode payload: %v", err), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", buf)
	if err != nil {
		return "", domain.NewAIError(fallback, step, fmt.Sprintf("create request: %v", err), err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", s.classify(err, step, fallback)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", s.classify(s.decodeAPIError(resp), step, fallback)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", domain.NewAIError(fallback, step, fmt.Sprintf("decode response: %v", err), err)
	}
	if len(response.Choices) == 0 {
		return "", domain.NewAIError(fallback, step, "no choices returned", nil)
	}

	return response.Choices[0].Message.Content, nil
}

func (s *OpenAIService) do(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), s.reqTimeout)
	req = req.WithContext(ctx)

	resp, err := s.httpClient.Do(req)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	return resp, nil
}

// apiStatusError carries the HTTP status of a failed API call so that
// classification can map it onto the taxonomy.
type apiStatusError struct {
	status  int
	apiType string
	message string
}

func (e *apiStatusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("openai api error: status %d type %s message %s", e.status, e.apiType, e.message)
	}
	return fmt.Sprintf("openai api error: status %d", e.status)
}

func (s *OpenAIService) decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &apiStatusError{status: resp.StatusCode, apiType: apiErr.Error.Type, message: apiErr.Error.Message}
	}
	return &apiStatusError{status: resp.StatusCode, message: strings.TrimSpace(string(body))}
}

// classify maps a raw failure onto the AIError taxonomy at the point of
// catch. The orchestrator never reinterprets the result.
func (s *OpenAIService) classify(err error, step domain.ProcessingStep, fallback domain.AIErrorType) *domain.AIError {
	var aiErr *domain.AIError
	if errors.As(err, &aiErr) {
		if aiErr.Step == "" {
			aiErr.Step = step
		}
		return aiErr
	}

	var statusErr *apiStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.status == http.StatusUnauthorized || statusErr.status == http.StatusForbidden:
			return domain.NewAIError(domain.ErrAPIKeyInvalid, step, statusErr.Error(), err)
		case statusErr.status == http.StatusTooManyRequests:
			return domain.NewAIError(domain.ErrRateLimit, step, statusErr.Error(), err)
		case statusErr.status >= http.StatusInternalServerError:
			return domain.NewAIError(domain.ErrNetwork, step, statusErr.Error(), err)
		default:
			return domain.NewAIError(fallback, step, statusErr.Error(), err)
		}
	}

	// Transport failures and timeouts land here via http.Client.Do.
	if errors.Is(err, context.DeadlineExceeded) || isTransportError(err) {
		return domain.NewAIError(domain.ErrNetwork, step, err.Error(), err)
	}

	return domain.NewAIError(fallback, step, err.Error(), err)
}

func isTransportError(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	// http.Client.Do always wraps failures in *url.Error.
	return strings.Contains(err.Error(), "openai request failed")
}

func (s *OpenAIService) ensureAPIKey(step domain.ProcessingStep) *domain.AIError {
	if strings.TrimSpace(s.apiKey) == "" {
		return domain.NewAIError(domain.ErrAPIKeyMissing, step, "openai api key is not configured", nil)
	}
	return nil
}

func encodePhoto(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
