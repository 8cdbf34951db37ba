package hazard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smlgpt/internal/models"
)

func TestExtractSingleCriticalLine(t *testing.T) {
	got := NewLineExtractor().Extract("CRITICAL: fall hazard near edge")
	require.Len(t, got, 1)
	assert.Equal(t, models.SeverityCritical, got[0].Severity)
	assert.Equal(t, "fall hazard near edge", got[0].Description)
	assert.Equal(t, "fall_hazard", got[0].Category)
}

func TestExtractKeepsSourceOrder(t *testing.T) {
	text := `## Hazards
- LOW: loose cable on floor
- **HIGH**: worker operating forklift without seatbelt
Some narrative text without markers.
- MEDIUM  chemical drums stored without labels
- CRITICAL: exposed live wiring at panel B`

	got := NewLineExtractor().Extract(text)
	require.Len(t, got, 4)
	assert.Equal(t, []models.Severity{
		models.SeverityLow, models.SeverityHigh, models.SeverityMedium, models.SeverityCritical,
	}, []models.Severity{got[0].Severity, got[1].Severity, got[2].Severity, got[3].Severity})
	assert.Equal(t, "worker operating forklift without seatbelt", got[1].Description)
	assert.Equal(t, "chemical drums stored without labels", got[2].Description)
	assert.Equal(t, "electrical", got[3].Category)
}

func TestExtractNoMarkers(t *testing.T) {
	assert.Empty(t, NewLineExtractor().Extract("The area looks tidy and workers wear high-vis vests."))
	assert.Empty(t, NewLineExtractor().Extract(""))
}

func TestExtractIgnoresMarkerWordsInProse(t *testing.T) {
	text := `The overall risk is HIGH due to clutter near the exit.
Risk level: MEDIUM
Exposure stays LOW for most of the shift.`
	assert.Empty(t, NewLineExtractor().Extract(text))
}

func TestExtractLabelAndListForms(t *testing.T) {
	text := `**HIGH:** unguarded conveyor pinch point
1. LOW trailing extension cord
* **MEDIUM** solvent rags in open bin
Note that the ladder is rated CRITICAL: missing feet`

	got := NewLineExtractor().Extract(text)
	require.Len(t, got, 4)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
	assert.Equal(t, "unguarded conveyor pinch point", got[0].Description)
	assert.Equal(t, models.SeverityLow, got[1].Severity)
	assert.Equal(t, "trailing extension cord", got[1].Description)
	assert.Equal(t, models.SeverityMedium, got[2].Severity)
	assert.Equal(t, "solvent rags in open bin", got[2].Description)
	assert.Equal(t, models.SeverityCritical, got[3].Severity)
	assert.Equal(t, "missing feet", got[3].Description)
}

func TestExtractSkipsBareMarker(t *testing.T) {
	assert.Empty(t, NewLineExtractor().Extract("CRITICAL:\nHIGH:   "))
}

func TestCustomCategorizer(t *testing.T) {
	e := &LineExtractor{Categorize: func(string) string { return "other" }}
	got := e.Extract("HIGH: anything")
	require.Len(t, got, 1)
	assert.Equal(t, "other", got[0].Category)
}
