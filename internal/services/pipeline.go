package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bizhanchik/Nerdie/internal/domain"
	"github.com/bizhanchik/Nerdie/internal/storage"
)

// ErrRunInFlight rejects a second concurrent run on the same lecture id.
var ErrRunInFlight = errors.New("a processing run for this lecture is already in flight")

const totalSteps = 4

// AIGateway is the slice of the remote AI capability the pipeline drives.
type AIGateway interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	ExtractTextFromPhotos(ctx context.Context, photoPaths []string) (string, error)
	GenerateTitle(ctx context.Context, snippet string) (string, error)
	GenerateStudyMaterials(ctx context.Context, fullText string) (domain.StudyMaterials, error)
}

// ProgressFunc receives progress updates during one pipeline run.
type ProgressFunc func(domain.ProcessingProgress)

// Pipeline drives a recording or photo set through the sequential stages
// title_generation -> transcription -> study_materials -> assembly,
// persisting the lecture after every stage so that a retry resumes from
// the first stage whose output is missing.
type Pipeline struct {
	store *storage.Store
	ai    AIGateway
	log   *logrus.Logger

	inflight sync.Map // lecture id -> struct{}
	progress sync.Map // lecture id -> domain.ProcessingProgress
}

func NewPipeline(store *storage.Store, ai AIGateway, log *logrus.Logger) *Pipeline {
	return &Pipeline{store: store, ai: ai, log: log}
}

// ProcessRecording creates a lecture from an uploaded recording and runs
// the full pipeline on it.
func (p *Pipeline) ProcessRecording(ctx context.Context, audioPath string, durationSec int, folderID string, onProgress ProgressFunc) (domain.Lecture, error) {
	now := time.Now()
	lec := domain.Lecture{
		ID:       strconv.FormatInt(now.UnixMilli(), 10),
		Title:    fallbackTitle("Lecture", now),
		Date:     now.Unix(),
		AudioURI: audioPath,
		Duration: durationSec,
		FolderID: folderID,
		Status:   domain.StatusProcessing,
	}

	if err := p.store.SaveLecture(lec); err != nil {
		return domain.Lecture{}, fmt.Errorf("save new lecture: %w", err)
	}

	return p.run(ctx, lec, onProgress)
}

// ProcessPhotos creates a lecture from captured notes photos and runs the
// full pipeline on it.
func (p *Pipeline) ProcessPhotos(ctx context.Context, photoPaths []string, folderID string, onProgress ProgressFunc) (domain.Lecture, error) {
	if len(photoPaths) == 0 {
		return domain.Lecture{}, errors.New("no photos provided")
	}

	now := time.Now()
	lec := domain.Lecture{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Title:     fallbackTitle("Notes", now),
		Date:      now.Unix(),
		PhotoURIs: photoPaths,
		Duration:  0,
		FolderID:  folderID,
		Status:    domain.StatusProcessing,
	}

	if err := p.store.SaveLecture(lec); err != nil {
		return domain.Lecture{}, fmt.Errorf("save new lecture: %w", err)
	}

	return p.run(ctx, lec, onProgress)
}

// Retry reruns a failed lecture, skipping stages whose output is already
// persisted: a lecture with a transcription resumes at study_materials.
func (p *Pipeline) Retry(ctx context.Context, lectureID string, onProgress ProgressFunc) (domain.Lecture, error) {
	lec, err := p.store.GetLecture(lectureID)
	if err != nil {
		return domain.Lecture{}, err
	}

	lec.Status = domain.StatusProcessing
	if err := p.store.SaveLecture(lec); err != nil {
		return domain.Lecture{}, fmt.Errorf("save lecture for retry: %w", err)
	}

	return p.run(ctx, lec, onProgress)
}

// Progress returns the latest progress update for an in-flight run.
func (p *Pipeline) Progress(lectureID string) (domain.ProcessingProgress, bool) {
	value, ok := p.progress.Load(lectureID)
	if !ok {
		return domain.ProcessingProgress{}, false
	}
	return value.(domain.ProcessingProgress), true
}

// Running reports whether a run for the lecture id is currently in flight.
func (p *Pipeline) Running(lectureID string) bool {
	_, ok := p.inflight.Load(lectureID)
	return ok
}

func (p *Pipeline) run(ctx context.Context, lec domain.Lecture, onProgress ProgressFunc) (domain.Lecture, error) {
	if _, loaded := p.inflight.LoadOrStore(lec.ID, struct{}{}); loaded {
		return domain.Lecture{}, ErrRunInFlight
	}
	defer p.inflight.Delete(lec.ID)
	defer p.progress.Delete(lec.ID)

	// An orphaned run must still persist its outcome, so the run does not
	// die with the caller's request context.
	ctx = context.WithoutCancel(ctx)

	fromPhotos := len(lec.PhotoURIs) > 0

	if lec.Transcription == "" {
		stepName := "Transcribing Audio"
		if fromPhotos {
			stepName = "Analyzing Photos"
		}
		p.report(lec.ID, onProgress, domain.StepTitleGeneration, 1, 10, stepName, "Extracting lecture content...")

		var text string
		var err error
		if fromPhotos {
			text, err = p.ai.ExtractTextFromPhotos(ctx, lec.PhotoURIs)
		} else {
			text, err = p.ai.Transcribe(ctx, lec.AudioURI)
		}
		if err != nil {
			return p.fail(lec, err, domain.StepTranscription)
		}

		// Title generation is best-effort: the only stage whose failure
		// never aborts the run. The fallback title stays in place.
		p.report(lec.ID, onProgress, domain.StepTitleGeneration, 1, 20, "Generating Title", "Naming the lecture...")
		title, titleErr := p.ai.GenerateTitle(ctx, titleSnippet(text, fromPhotos))
		if titleErr != nil {
			p.log.WithError(titleErr).WithField("lecture", lec.ID).
				Warn("title generation failed, keeping fallback title")
		} else {
			lec.Title = title
		}

		lec.Transcription = text
		lec.LastCompletedStep = domain.StepTranscription
		if err := p.store.SaveLecture(lec); err != nil {
			return lec, fmt.Errorf("persist transcription: %w", err)
		}
		p.report(lec.ID, onProgress, domain.StepTranscription, 2, 50, "Transcription Complete", "")
	}

	if !PackComplete(lec) {
		p.report(lec.ID, onProgress, domain.StepStudyMaterials, 3, 60, "Creating Study Materials", "Generating summary...")

		materials, err := p.ai.GenerateStudyMaterials(ctx, lec.Transcription)
		if err != nil {
			return p.fail(lec, err, domain.StepStudyMaterials)
		}

		lec.Summary = materials.Summary
		lec.Flashcards = materials.Flashcards
		lec.Notes = materials.Notes
		lec.LastCompletedStep = domain.StepStudyMaterials
		if err := p.store.SaveLecture(lec); err != nil {
			return lec, fmt.Errorf("persist study materials: %w", err)
		}
		p.report(lec.ID, onProgress, domain.StepStudyMaterials, 3, 75, "Creating Study Materials", "Flashcards and notes ready")
	}

	p.report(lec.ID, onProgress, domain.StepAssembly, 4, 90, "Assembling Learning Pack", "")
	if !PackComplete(lec) {
		err := domain.NewAIError(domain.ErrProcessingFailed, domain.StepAssembly,
			"learning pack incomplete after generation", nil)
		return p.fail(lec, err, domain.StepAssembly)
	}

	lec.Status = domain.StatusProcessed
	lec.ErrorMessage = ""
	lec.LastProcessingStep = ""
	lec.LastCompletedStep = domain.StepAssembly
	if err := p.store.SaveLecture(lec); err != nil {
		return lec, fmt.Errorf("persist processed lecture: %w", err)
	}

	p.report(lec.ID, onProgress, domain.StepAssembly, 4, 100, "Learning Pack Ready", "")
	p.log.WithFields(logrus.Fields{"lecture": lec.ID, "title": lec.Title}).Info("lecture processed")

	return lec, nil
}

// fail persists the lecture as failed with its error metadata and partial
// outputs intact, then surfaces the classified error to the caller.
func (p *Pipeline) fail(lec domain.Lecture, err error, step domain.ProcessingStep) (domain.Lecture, error) {
	aiErr := asAIError(err, step)

	lec.Status = domain.StatusFailed
	lec.ErrorMessage = aiErr.Message
	lec.LastProcessingStep = aiErr.Step
	if saveErr := p.store.SaveLecture(lec); saveErr != nil {
		p.log.WithError(saveErr).WithField("lecture", lec.ID).Error("failed to persist failed lecture")
	}

	p.log.WithFields(logrus.Fields{
		"lecture":   lec.ID,
		"step":      aiErr.Step,
		"type":      aiErr.Type,
		"retryable": aiErr.Retryable,
	}).WithError(aiErr).Error("lecture processing failed")

	return lec, aiErr
}

func (p *Pipeline) report(lectureID string, onProgress ProgressFunc, step domain.ProcessingStep, number, pct int, name, message string) {
	update := domain.ProcessingProgress{
		CurrentStep: step,
		StepNumber:  number,
		TotalSteps:  totalSteps,
		StepName:    name,
		Progress:    pct,
		Message:     message,
	}
	p.progress.Store(lectureID, update)
	if onProgress != nil {
		onProgress(update)
	}
}

// asAIError normalizes any failure into the taxonomy, attaching the current
// stage only when classification left it blank.
func asAIError(err error, step domain.ProcessingStep) *domain.AIError {
	var aiErr *domain.AIError
	if errors.As(err, &aiErr) {
		if aiErr.Step == "" {
			aiErr.Step = step
		}
		return aiErr
	}
	return domain.NewAIError(domain.ErrUnknown, step, err.Error(), err)
}

// titleSnippet trims the extracted text down to title-generation context:
// roughly the first 200 words of a transcription, or the first 500
// characters of OCR'd photo text.
func titleSnippet(text string, fromPhotos bool) string {
	if fromPhotos {
		if len(text) > 500 {
			return text[:500]
		}
		return text
	}

	words := strings.Fields(text)
	if len(words) > 200 {
		words = words[:200]
	}
	return strings.Join(words, " ")
}

func fallbackTitle(prefix string, t time.Time) string {
	return fmt.Sprintf("%s %s", prefix, t.Format("Jan 2, 2006"))
}
