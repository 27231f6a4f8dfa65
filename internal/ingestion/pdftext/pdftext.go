package pdftext

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/chunker"
	"github.com/studybuddy/backend/pkg/logger"
)

var (
	ErrNoExtractableText = errors.New("no extractable text")
	ErrTooManyPages      = errors.New("document exceeds page limit")
)

// ExtractPages reads a PDF and returns its text page by page, with
// whitespace collapsed. Pages that yield no text are returned empty so
// page numbering stays aligned with the source document; a document
// where every page is empty fails with ErrNoExtractableText.
func ExtractPages(path string, maxPages int) ([]chunker.Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	if maxPages > 0 && total > maxPages {
		return nil, fmt.Errorf("%w: %d pages, limit %d", ErrTooManyPages, total, maxPages)
	}

	pages := make([]chunker.Page, 0, total)
	extracted := 0
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, chunker.Page{PageNumber: i})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Scanned or corrupt pages are common; keep going so the
			// rest of the document still ingests.
			logger.Warn("Failed to extract page text", zap.String("path", path), zap.Int("page", i), zap.Error(err))
			pages = append(pages, chunker.Page{PageNumber: i})
			continue
		}

		normalized := normalize(text)
		if normalized != "" {
			extracted++
		}
		pages = append(pages, chunker.Page{PageNumber: i, Text: normalized})
	}

	if extracted == 0 {
		return nil, ErrNoExtractableText
	}

	logger.Debug("PDF text extracted",
		zap.String("path", path),
		zap.Int("pages", total),
		zap.Int("with_text", extracted),
	)
	return pages, nil
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
