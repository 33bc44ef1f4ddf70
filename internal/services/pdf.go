package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/bizhanchik/Nerdie/internal/domain"
)

// PDFService renders a processed lecture's Learning Pack to a PDF.
type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

func (s *PDFService) GeneratePackPDF(lec domain.Lecture, folder domain.Folder, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure pdf directory: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Learning Pack %s", lec.ID), false)
	pdf.SetAuthor("Nerdie", false)
	pdf.AddPage()

	title := lec.Title
	if strings.TrimSpace(title) == "" {
		title = "Lecture"
	}

	createdAt := time.Unix(lec.Date, 0).Local()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	folderLine := "Folder: none"
	if folder.ID != "" {
		folderName := folder.Name
		if strings.TrimSpace(folderName) == "" {
			folderName = folder.ID
		}
		folderLine = fmt.Sprintf("Folder: %s", folderName)
	}
	pdf.Cell(0, 6, folderLine)
	pdf.Ln(6)

	pdf.Cell(0, 6, fmt.Sprintf("Recorded: %s", createdAt.Format("Jan 2, 2006 15:04")))
	pdf.Ln(12)

	s.writeSection(pdf, "Summary", lec.Summary, true)
	pdf.Ln(8)
	s.writeSection(pdf, "Notes", lec.Notes, false)

	if len(lec.Flashcards) > 0 {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "B", 14)
		pdf.Cell(0, 8, "Flashcards")
		pdf.Ln(10)

		pdf.SetFont("Helvetica", "", 12)
		for i, card := range lec.Flashcards {
			pdf.MultiCell(0, 6, fmt.Sprintf("%d. %s", i+1, card.Front), "", "L", false)
			pdf.MultiCell(0, 6, fmt.Sprintf("   %s", card.Back), "", "L", false)
			pdf.Ln(2)
		}
	}

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}

	return nil
}

func (s *PDFService) writeSection(pdf *gofpdf.Fpdf, title, content string, bullet bool) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 12)

	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) == 0 {
		pdf.MultiCell(0, 6, "(empty)", "", "L", false)
		return
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		text := line
		if bullet {
			text = fmt.Sprintf("• %s", line)
		}
		pdf.MultiCell(0, 6, text, "", "L", false)
	}
}
