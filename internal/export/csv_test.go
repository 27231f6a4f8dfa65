package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/storage/sqlite"
)

func TestWriteCardsCSV(t *testing.T) {
	cards := []sqlite.DueCard{
		{
			Card: models.Card{
				Prompt: "What does the dot product measure?",
				Answer: "The projection of one vector onto another.",
				Citations: []models.Citation{
					{PassageID: "p-1", PageNumber: 3},
					{PassageID: "p-2", PageNumber: 7},
					{PassageID: "p-3", PageNumber: 3},
				},
			},
			ModuleTitle: "Module 1",
			LessonTitle: "Vectors",
		},
		{
			Card: models.Card{
				Prompt: "No citations card?",
				Answer: "Still exports.",
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCardsCSV(&buf, cards))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"Front", "Back", "Tags"}, records[0])

	assert.Equal(t, "What does the dot product measure?", records[1][0])
	assert.Equal(t, "The projection of one vector onto another.\nSource: p.3, 7 (p-1, p-2, p-3)", records[1][1])
	assert.Equal(t, "Module-1 Vectors", records[1][2])

	assert.Equal(t, "Still exports.", records[2][1])
	assert.Empty(t, records[2][2])
}

func TestWriteCardsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCardsCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
