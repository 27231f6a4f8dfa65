package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration is returned for parameters that can never
// produce a valid chunking. It is a static-configuration error and is
// never retried.
var ErrInvalidConfiguration = errors.New("invalid chunker configuration")

// Page is one page of extracted document text.
type Page struct {
	PageNumber int
	Text       string
}

// Draft is a passage draft before persistence: a window of tokens from
// exactly one page.
type Draft struct {
	PageNumber int
	Content    string
	TokenCount int
}

// Chunk slides a window of targetSize whitespace-delimited tokens over
// each page with a step of max(targetSize-overlap, 1). Overlap never
// crosses a page boundary: every draft carries exactly one page number.
// Pages whose normalized text is empty contribute nothing. The output
// is deterministic for identical input, which re-ingestion relies on.
func Chunk(pages []Page, targetSize, overlap int) ([]Draft, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("%w: targetSize must be positive, got %d", ErrInvalidConfiguration, targetSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidConfiguration, overlap)
	}
	if overlap >= targetSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than targetSize %d", ErrInvalidConfiguration, overlap, targetSize)
	}

	step := targetSize - overlap
	if step < 1 {
		step = 1
	}

	var drafts []Draft
	for _, page := range pages {
		words := strings.Fields(page.Text)
		if len(words) == 0 {
			continue
		}

		for i := 0; i < len(words); i += step {
			end := i + targetSize
			if end > len(words) {
				end = len(words)
			}
			slice := words[i:end]
			if len(slice) == 0 {
				continue
			}
			drafts = append(drafts, Draft{
				PageNumber: page.PageNumber,
				Content:    strings.Join(slice, " "),
				TokenCount: len(slice),
			})
		}
	}

	return drafts, nil
}
