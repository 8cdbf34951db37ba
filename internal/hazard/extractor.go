// Package hazard turns free-text safety analysis into severity-tagged findings.
package hazard

import (
	"bufio"
	"regexp"
	"strings"

	"smlgpt/internal/models"
)

// Extractor pulls hazards out of model output. Implementations must keep
// the order in which findings appear in the text.
type Extractor interface {
	Extract(text string) []models.Hazard
}

// labelPattern matches a severity marker used as a label: the marker is
// followed by a colon, optionally inside markdown emphasis ("**HIGH:**").
var labelPattern = regexp.MustCompile(`\b(CRITICAL|HIGH|MEDIUM|LOW)\b[*_]*\s*:[*_]*\s*(.*\S)`)

// leadPattern matches a marker that opens a list item or an emphasised line,
// where no colon is needed ("- MEDIUM drums unlabeled", "**LOW** cable").
var leadPattern = regexp.MustCompile(`^\s*(?:(?:[-+•]|\*|\d+[.)])\s+[*_]*|[*_]+)(CRITICAL|HIGH|MEDIUM|LOW)\b[*_]*\s+(.*\S)`)

// LineExtractor scans line by line; the first marker on a line wins and the
// rest of that line becomes the description.
type LineExtractor struct {
	// Categorize maps a description to a category. Nil uses Categorize.
	Categorize func(description string) string
}

func NewLineExtractor() *LineExtractor {
	return &LineExtractor{}
}

func (e *LineExtractor) Extract(text string) []models.Hazard {
	categorize := e.Categorize
	if categorize == nil {
		categorize = Categorize
	}
	var hazards []models.Hazard
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m := leadPattern.FindStringSubmatch(line)
		if m == nil {
			m = labelPattern.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(strings.Trim(m[2], "*_ "))
		if desc == "" {
			continue
		}
		hazards = append(hazards, models.Hazard{
			Severity:    models.Severity(strings.ToLower(m[1])),
			Description: desc,
			Category:    categorize(desc),
		})
	}
	return hazards
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"fall_hazard", []string{"fall", "ladder", "edge", "height", "scaffold", "guardrail"}},
	{"electrical", []string{"electric", "wire", "wiring", "voltage", "shock", "outlet"}},
	{"chemical", []string{"chemical", "toxic", "fume", "spill", "solvent", "corrosive"}},
	{"fire", []string{"fire", "flammable", "combustible", "ignition"}},
	{"confined_space", []string{"confined"}},
	{"ppe_violation", []string{"ppe", "hard hat", "helmet", "glove", "goggle", "safety glasses", "vest", "boots"}},
	{"mechanical", []string{"machine", "machinery", "forklift", "conveyor", "pinch", "moving part", "guarding"}},
	{"ergonomic", []string{"lifting", "ergonomic", "posture", "repetitive"}},
	{"housekeeping", []string{"housekeeping", "clutter", "debris", "trip", "obstruct"}},
}

// Categorize assigns the first matching category, or "general".
func Categorize(description string) string {
	d := strings.ToLower(description)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(d, w) {
				return c.category
			}
		}
	}
	return "general"
}
