package generation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Raw model output shapes. Each Validate method enforces the schema
// strictly; anything off-shape fails closed as ErrMalformedModelOutput
// at the call site.

type outlinePayload struct {
	Modules []outlineModule `json:"modules"`
}

type outlineModule struct {
	Title   string          `json:"title"`
	Lessons []outlineLesson `json:"lessons"`
}

type outlineLesson struct {
	Title string `json:"title"`
}

func (p *outlinePayload) Validate() error {
	if len(p.Modules) == 0 {
		return fmt.Errorf("no modules")
	}
	for i, m := range p.Modules {
		if strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("module %d has empty title", i)
		}
		if len(m.Lessons) == 0 {
			return fmt.Errorf("module %q has no lessons", m.Title)
		}
		for j, l := range m.Lessons {
			if strings.TrimSpace(l.Title) == "" {
				return fmt.Errorf("module %q lesson %d has empty title", m.Title, j)
			}
		}
	}
	return nil
}

type conceptsPayload struct {
	Concepts []conceptItem `json:"concepts"`
}

type conceptItem struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	CitationIDs []string `json:"citationIds"`
}

func (p *conceptsPayload) Validate() error {
	if len(p.Concepts) == 0 {
		return fmt.Errorf("no concepts")
	}
	for i, c := range p.Concepts {
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("concept %d has empty title", i)
		}
		if strings.TrimSpace(c.Summary) == "" {
			return fmt.Errorf("concept %q has empty summary", c.Title)
		}
	}
	return nil
}

type citationRef struct {
	PassageID string `json:"passageId"`
	Quote     string `json:"quote,omitempty"`
}

type cardsPayload struct {
	Cards []cardItem `json:"cards"`
}

type cardItem struct {
	Prompt    string        `json:"prompt"`
	Answer    string        `json:"answer"`
	Citations []citationRef `json:"citations"`
}

const minCardTextLength = 8

func (p *cardsPayload) Validate() error {
	if len(p.Cards) == 0 {
		return fmt.Errorf("no cards")
	}
	for i, c := range p.Cards {
		if len(strings.TrimSpace(c.Prompt)) < minCardTextLength {
			return fmt.Errorf("card %d prompt too short", i)
		}
		if len(strings.TrimSpace(c.Answer)) < minCardTextLength {
			return fmt.Errorf("card %d answer too short", i)
		}
	}
	return nil
}

type quizPayload struct {
	Questions []quizQuestionItem `json:"questions"`
}

type quizQuestionItem struct {
	Question  string        `json:"question"`
	Options   []string      `json:"options"`
	Answer    string        `json:"answer"`
	Citations []citationRef `json:"citations"`
}

func (p *quizPayload) Validate() error {
	if len(p.Questions) < 3 || len(p.Questions) > 5 {
		return fmt.Errorf("expected 3 to 5 questions, got %d", len(p.Questions))
	}
	for i, q := range p.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d is empty", i)
		}
		if len(q.Options) != 4 {
			return fmt.Errorf("question %d has %d options", i, len(q.Options))
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.Answer {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("question %d answer not among options", i)
		}
	}
	return nil
}

type explanationPayload struct {
	Overview      string               `json:"overview"`
	Sections      []explanationSection `json:"sections"`
	ScaffoldCards []cardItem           `json:"scaffoldCards"`
}

type explanationSection struct {
	Heading   string        `json:"heading"`
	Body      string        `json:"body"`
	Citations []citationRef `json:"citations"`
}

func (p *explanationPayload) Validate() error {
	if strings.TrimSpace(p.Overview) == "" {
		return fmt.Errorf("empty overview")
	}
	if len(p.Sections) == 0 {
		return fmt.Errorf("no sections")
	}
	if len(p.ScaffoldCards) < 2 || len(p.ScaffoldCards) > 6 {
		return fmt.Errorf("expected 2 to 6 scaffold cards, got %d", len(p.ScaffoldCards))
	}
	for i, c := range p.ScaffoldCards {
		if len(strings.TrimSpace(c.Prompt)) < minCardTextLength {
			return fmt.Errorf("scaffold card %d prompt too short", i)
		}
		if len(strings.TrimSpace(c.Answer)) < minCardTextLength {
			return fmt.Errorf("scaffold card %d answer too short", i)
		}
	}
	return nil
}

type askPayload struct {
	Answer    string        `json:"answer"`
	Citations []citationRef `json:"citations"`
}

func (p *askPayload) Validate() error {
	if strings.TrimSpace(p.Answer) == "" {
		return fmt.Errorf("empty answer")
	}
	return nil
}

type validatable interface {
	Validate() error
}

// decodeStrict parses raw model output and runs schema validation,
// mapping any failure to ErrMalformedModelOutput. Stored artifacts
// never contain anything that did not pass this gate.
func decodeStrict(raw string, out validatable) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	return nil
}
