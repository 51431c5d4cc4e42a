package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// GrantFacts is the structured output the LLM produces for a grant page.
// All fields are best effort; callers must treat zero values as "not found".
type GrantFacts struct {
	DeadlineText      string   `json:"deadline_text"`
	DeadlineISO       string   `json:"deadline_iso"`
	OpenAllYear       bool     `json:"open_all_year"`
	FundingMinSGD     float64  `json:"funding_min_sgd"`
	FundingMaxSGD     float64  `json:"funding_max_sgd"`
	PercentMax        float64  `json:"percent_max"`
	MentionsCofunding bool     `json:"mentions_cofunding"`
	Eligibility       []string `json:"eligibility"`
	IssueAreas        []string `json:"issue_areas"`
	ScopeTags         []string `json:"scope_tags"`
	Summary           string   `json:"summary"`
}

// ExtractGrantFacts asks the LLM to pull deadline, funding, eligibility and
// tag facts out of grant page text. The issueAreas and scopeTags vocabularies
// bound what the model may tag with; anything outside them is dropped.
func (c *OllamaClient) ExtractGrantFacts(ctx context.Context, title, url, text string, issueAreas, scopeTags []string) (*GrantFacts, error) {
	prompt := fmt.Sprintf(`You are an analyst for a Singapore grant discovery service. Extract key facts from the following grant page text into JSON.

Input:
Title: %s
URL: %s
Text:
%s

Instructions:
1. Deadline: if a single closing date is stated, fill deadline_iso (YYYY-MM-DD). If the text says applications are accepted all year round ("open throughout the year", "applications accepted anytime", "rolling basis"), set open_all_year=true. Otherwise copy the deadline wording into deadline_text.
2. Funding: amounts in Singapore dollars. funding_max_sgd is the cap per project, funding_min_sgd the floor if stated. If the grant covers a percentage of costs, fill percent_max (e.g. 80 for "up to 80%% of qualifying costs"). Set mentions_cofunding=true if the applicant must co-fund part of the cost.
3. Eligibility: list each distinct requirement as a short phrase (e.g. "Registered society or charity", "At least 2 years of operations").
4. issue_areas: select only from this exact list: %s
5. scope_tags: select only from this exact list: %s
6. Summary: one or two neutral sentences on what the grant funds.

JSON Schema:
{
	"deadline_text": "string or null",
	"deadline_iso": "YYYY-MM-DD or null",
	"open_all_year": boolean,
	"funding_min_sgd": number,
	"funding_max_sgd": number,
	"percent_max": number,
	"mentions_cofunding": boolean,
	"eligibility": ["string"],
	"issue_areas": ["string"],
	"scope_tags": ["string"],
	"summary": "string"
}

Respond ONLY with the JSON object.`, title, url, text, strings.Join(issueAreas, ", "), strings.Join(scopeTags, ", "))

	// JSON mode first for models that support it, then a text-mode retry
	// with tolerant parsing.
	resp, err := c.GenerateCompletion(ctx, prompt, true)
	if err == nil {
		if facts, parseErr := parseGrantFacts(resp); parseErr == nil {
			facts.validate(issueAreas, scopeTags)
			return facts, nil
		} else {
			log.Printf("[ai] JSON mode parse failed: %v, retrying in text mode", parseErr)
		}
	} else {
		log.Printf("[ai] JSON mode generation failed: %v, retrying in text mode", err)
	}

	resp, err = c.GenerateCompletion(ctx, prompt, false)
	if err != nil {
		return nil, err
	}

	facts, err := parseGrantFacts(resp)
	if err != nil {
		return nil, fmt.Errorf("parse LLM response after retry: %w (response: %s)", err, resp)
	}
	facts.validate(issueAreas, scopeTags)
	return facts, nil
}

// validate drops hallucinated tags and trims eligibility noise in place.
func (f *GrantFacts) validate(issueAreas, scopeTags []string) {
	f.IssueAreas = filterValid(f.IssueAreas, issueAreas)
	f.ScopeTags = filterValid(f.ScopeTags, scopeTags)

	cleaned := make([]string, 0, len(f.Eligibility))
	for _, e := range f.Eligibility {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		cleaned = append(cleaned, e)
		if len(cleaned) == 8 {
			break
		}
	}
	f.Eligibility = cleaned
}

func parseGrantFacts(resp string) (*GrantFacts, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	if jsonStr, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = jsonStr
	}

	var facts GrantFacts
	if err := json.Unmarshal([]byte(cleaned), &facts); err != nil {
		return nil, err
	}
	return &facts, nil
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}

// filterValid keeps only tags present in the allowed vocabulary, mapping
// case-insensitive matches back to their canonical spelling.
func filterValid(tags []string, allowed []string) []string {
	valid := make([]string, 0)
	allowedMap := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedMap[a] = true
	}

	for _, t := range tags {
		t = strings.TrimSpace(t)
		if allowedMap[t] {
			valid = append(valid, t)
			continue
		}
		for a := range allowedMap {
			if strings.EqualFold(a, t) {
				valid = append(valid, a)
				break
			}
		}
	}
	return valid
}
