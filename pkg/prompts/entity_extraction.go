package prompts

import (
	"fmt"
	"strings"
	"time"
)

// IncidentContext is the part of an incident the entity extractor sees.
type IncidentContext struct {
	Title    string
	Summary  string
	Location string
	Country  string
	Datetime time.Time
	Category string
}

// BuildEntityExtractionPrompt asks the model for the actors involved in one incident.
func BuildEntityExtractionPrompt(inc IncidentContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Actor Extraction\n\n")
	prompt.WriteString("Identify the armed groups, organizations, government bodies and named people involved in this incident.\n\n")

	prompt.WriteString("## Incident\n\n")
	prompt.WriteString(fmt.Sprintf("- **Title**: %s\n", inc.Title))
	if inc.Summary != "" {
		prompt.WriteString(fmt.Sprintf("- **Summary**: %s\n", inc.Summary))
	}
	location := inc.Location
	if inc.Country != "" {
		location = strings.TrimPrefix(location+", "+inc.Country, ", ")
	}
	if location != "" {
		prompt.WriteString(fmt.Sprintf("- **Location**: %s\n", location))
	}
	if !inc.Datetime.IsZero() {
		prompt.WriteString(fmt.Sprintf("- **Date**: %s\n", inc.Datetime.UTC().Format("2006-01-02")))
	}
	if inc.Category != "" {
		prompt.WriteString(fmt.Sprintf("- **Category**: %s\n", inc.Category))
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Guidelines\n\n")
	prompt.WriteString("- Use the most widely known full name as `name` and list abbreviations or other spellings in `aliases`.\n")
	prompt.WriteString("- Do not list generic descriptions (\"gunmen\", \"security forces\") unless the text names the group.\n")
	prompt.WriteString("- `role` is perpetrator, target, mentioned or affiliated.\n")
	prompt.WriteString("- `entity_type` is threat_actor, organization, armed_group, government, person or location_group.\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "entities": [
    {
      "name": "Islamic State West Africa Province",
      "aliases": ["ISWAP", "IS-WA"],
      "entity_type": "armed_group",
      "role": "perpetrator",
      "confidence": 85,
      "description": "Islamic State affiliate active in the Lake Chad basin",
      "country_affiliation": "Nigeria",
      "region": "West Africa"
    }
  ]
}
`)
	prompt.WriteString("```\n\n")
	prompt.WriteString("If no actors are named return {\"entities\": []}.\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildEntityExtractionSystemMessage returns the system message for entity extraction.
func BuildEntityExtractionSystemMessage() string {
	return `You are a conflict analyst who identifies the actors named in security incident reports. Be conservative: only report actors the text names.`
}
