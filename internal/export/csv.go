package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/studybuddy/backend/internal/storage/sqlite"
)

// WriteCardsCSV writes a course's flashcards in the Front,Back,Tags
// layout that Anki and similar tools import directly. The answer is
// suffixed with a source line naming the cited pages and passage ids
// so provenance survives the export.
func WriteCardsCSV(w io.Writer, cards []sqlite.DueCard) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"Front", "Back", "Tags"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, c := range cards {
		back := c.Card.Answer
		if source := sourceLine(c); source != "" {
			back = back + "\n" + source
		}

		if err := cw.Write([]string{c.Card.Prompt, back, tags(c)}); err != nil {
			return fmt.Errorf("failed to write card: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func sourceLine(c sqlite.DueCard) string {
	if len(c.Card.Citations) == 0 {
		return ""
	}

	pages := make([]int, 0, len(c.Card.Citations))
	seenPages := make(map[int]bool)
	ids := make([]string, 0, len(c.Card.Citations))
	for _, cit := range c.Card.Citations {
		if !seenPages[cit.PageNumber] {
			seenPages[cit.PageNumber] = true
			pages = append(pages, cit.PageNumber)
		}
		ids = append(ids, cit.PassageID)
	}
	sort.Ints(pages)

	pageParts := make([]string, len(pages))
	for i, p := range pages {
		pageParts[i] = fmt.Sprintf("%d", p)
	}

	return fmt.Sprintf("Source: p.%s (%s)", strings.Join(pageParts, ", "), strings.Join(ids, ", "))
}

// tags are the card's module and lesson titles, normalized to the
// space-free form tag syntaxes expect.
func tags(c sqlite.DueCard) string {
	var parts []string
	for _, t := range []string{c.ModuleTitle, c.LessonTitle} {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(t, " ", "-"))
	}
	return strings.Join(parts, " ")
}
