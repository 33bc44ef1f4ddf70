package services

import (
	"strings"

	"github.com/bizhanchik/Nerdie/internal/domain"
)

// PackComplete is the sole authority for whether a lecture's Learning Pack
// counts as complete: summary, flashcards, and notes must all be present.
func PackComplete(lec domain.Lecture) bool {
	return strings.TrimSpace(lec.Summary) != "" &&
		len(lec.Flashcards) > 0 &&
		strings.TrimSpace(lec.Notes) != ""
}

// PackStatus reports per-field completeness for UI display.
func PackStatus(lec domain.Lecture) domain.LearningPackStatus {
	status := domain.LearningPackStatus{
		HasSummary:    strings.TrimSpace(lec.Summary) != "",
		HasFlashcards: len(lec.Flashcards) > 0,
		HasNotes:      strings.TrimSpace(lec.Notes) != "",
	}

	done := 0
	for _, has := range []bool{status.HasSummary, status.HasFlashcards, status.HasNotes} {
		if has {
			done++
		}
	}
	status.CompletionPercentage = done * 100 / 3
	status.IsComplete = done == 3

	return status
}
