package services

import (
	"testing"

	"github.com/bizhanchik/Nerdie/internal/domain"
)

func TestPackComplete(t *testing.T) {
	cards := []domain.Flashcard{{ID: "1", Front: "q", Back: "a"}}

	cases := []struct {
		name string
		lec  domain.Lecture
		want bool
	}{
		{"all present", domain.Lecture{Summary: "s", Flashcards: cards, Notes: "n"}, true},
		{"missing summary", domain.Lecture{Flashcards: cards, Notes: "n"}, false},
		{"missing flashcards", domain.Lecture{Summary: "s", Notes: "n"}, false},
		{"missing notes", domain.Lecture{Summary: "s", Flashcards: cards}, false},
		{"whitespace summary", domain.Lecture{Summary: "   ", Flashcards: cards, Notes: "n"}, false},
		{"empty", domain.Lecture{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PackComplete(tc.lec); got != tc.want {
				t.Fatalf("PackComplete = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPackStatusPercentage(t *testing.T) {
	lec := domain.Lecture{Summary: "s", Notes: "n"}
	status := PackStatus(lec)

	if status.IsComplete {
		t.Fatal("pack without flashcards must not be complete")
	}
	if status.CompletionPercentage != 66 {
		t.Fatalf("expected 66%%, got %d%%", status.CompletionPercentage)
	}
	if !status.HasSummary || status.HasFlashcards || !status.HasNotes {
		t.Fatalf("unexpected field flags: %+v", status)
	}
}
