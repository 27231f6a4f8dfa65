package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkOverlapWindow(t *testing.T) {
	pages := []Page{{PageNumber: 1, Text: "one two three four five six seven eight nine"}}

	drafts, err := Chunk(pages, 4, 1)
	require.NoError(t, err)

	var contents []string
	for _, d := range drafts {
		contents = append(contents, d.Content)
		assert.Equal(t, 1, d.PageNumber)
	}
	assert.Equal(t, []string{
		"one two three four",
		"four five six seven",
		"seven eight nine",
	}, contents)
}

func TestChunkDeterminism(t *testing.T) {
	pages := []Page{
		{PageNumber: 1, Text: "alpha beta gamma delta epsilon zeta eta theta"},
		{PageNumber: 2, Text: "iota kappa lambda mu nu xi"},
	}

	first, err := Chunk(pages, 3, 1)
	require.NoError(t, err)
	second, err := Chunk(pages, 3, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestChunkSkipsEmptyPages(t *testing.T) {
	pages := []Page{
		{PageNumber: 1, Text: "   \n\t  "},
		{PageNumber: 2, Text: "content on page two"},
		{PageNumber: 3, Text: ""},
	}

	drafts, err := Chunk(pages, 10, 2)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, 2, drafts[0].PageNumber)
	assert.Equal(t, "content on page two", drafts[0].Content)
	assert.Equal(t, 4, drafts[0].TokenCount)
}

func TestChunkOverlapNeverCrossesPages(t *testing.T) {
	pages := []Page{
		{PageNumber: 1, Text: "a b c d e"},
		{PageNumber: 2, Text: "f g h i j"},
	}

	drafts, err := Chunk(pages, 4, 2)
	require.NoError(t, err)

	for _, d := range drafts {
		switch d.PageNumber {
		case 1:
			assert.NotContains(t, d.Content, "f")
		case 2:
			assert.NotContains(t, d.Content, "e")
		default:
			t.Fatalf("unexpected page number %d", d.PageNumber)
		}
	}
}

func TestChunkInvalidConfiguration(t *testing.T) {
	pages := []Page{{PageNumber: 1, Text: "some text"}}

	_, err := Chunk(pages, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Chunk(pages, 4, -1)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Chunk(pages, 4, 4)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestChunkNoPages(t *testing.T) {
	drafts, err := Chunk(nil, 520, 80)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}
