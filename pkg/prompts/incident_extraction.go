// Package prompts builds the LLM prompts used for structured extraction.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// PageContext describes where a block of scraped text came from.
type PageContext struct {
	SourceLabel string
	URL         string
	FetchedAt   time.Time
	Region      string // optional focus region
}

// BuildIncidentExtractionPrompt asks the model to turn page text into a list
// of security incidents in the candidate schema.
func BuildIncidentExtractionPrompt(page PageContext, text string) string {
	var prompt strings.Builder

	prompt.WriteString("# Security Incident Extraction\n\n")
	prompt.WriteString("Read the text below and extract every distinct security incident it reports.\n")
	prompt.WriteString("Only extract events that actually happened. Skip analysis, forecasts and background.\n\n")

	prompt.WriteString("## Source\n\n")
	prompt.WriteString(fmt.Sprintf("- **Feed**: %s\n", page.SourceLabel))
	if page.URL != "" {
		prompt.WriteString(fmt.Sprintf("- **URL**: %s\n", page.URL))
	}
	if !page.FetchedAt.IsZero() {
		prompt.WriteString(fmt.Sprintf("- **Retrieved**: %s (use this to resolve relative dates such as \"yesterday\")\n",
			page.FetchedAt.UTC().Format(time.RFC3339)))
	}
	if page.Region != "" {
		prompt.WriteString(fmt.Sprintf("- **Focus region**: %s (ignore incidents elsewhere)\n", page.Region))
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Text\n\n")
	prompt.WriteString("```\n")
	prompt.WriteString(text)
	prompt.WriteString("\n```\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with `incidents`: an array where each element has\n")
	prompt.WriteString("- `title`: short factual headline (max 200 characters)\n")
	prompt.WriteString("- `datetime`: when it happened, RFC3339 or YYYY-MM-DD\n")
	prompt.WriteString("- `location`: town, district or site\n")
	prompt.WriteString("- `region`, `country`, `subdivision`: as specific as the text allows\n")
	prompt.WriteString("- `category`: one of armed_conflict, terrorism, civil_unrest, crime, kidnapping, piracy, cyber, political, other\n")
	prompt.WriteString("- `severity`: 1 (minor) to 5 (mass casualty)\n")
	prompt.WriteString("- `confidence`: 0-100, how certain the text is that it happened as described\n")
	prompt.WriteString("- `summary`: one or two sentences\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "incidents": [
    {
      "title": "Militants attack military base in Borno",
      "datetime": "2024-03-01",
      "location": "Monguno",
      "region": "West Africa",
      "country": "Nigeria",
      "subdivision": "Borno",
      "category": "armed_conflict",
      "severity": 4,
      "confidence": 80,
      "summary": "ISWAP fighters attacked a military base in Monguno; several soldiers were reported killed."
    }
  ]
}
`)
	prompt.WriteString("```\n\n")
	prompt.WriteString("If the text reports no incidents return {\"incidents\": []}.\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildIncidentExtractionSystemMessage returns the system message for incident extraction.
func BuildIncidentExtractionSystemMessage() string {
	return `You are a security intelligence analyst. You extract structured incident records from news and field reports and never invent details that are not in the text.`
}
