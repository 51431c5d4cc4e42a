package ingest

import (
	"regexp"
	"sort"
	"strings"
)

// Keyword taxonomies for rule-based tagging. Matching is case-insensitive
// substring containment over the combined page text.
var issueAreaKeywords = map[string][]string{
	"ageing":               {"elderly", "senior", "ageing", "aging", "dementia", "retirement", "caregiver"},
	"health":               {"health", "healthcare", "nursing", "clinic", "medical", "wellness", "disease", "mental health"},
	"community":            {"community", "volunteer", "social service", "social services", "family", "residents", "grassroots"},
	"education":            {"school", "students", "education", "training", "upskill", "reskill", "workshop", "course", "learning"},
	"employment":           {"employment", "job", "jobs", "hiring", "recruit", "recruitment", "career", "workforce"},
	"environment":          {"climate", "environment", "sustainability", "carbon", "recycling", "green", "biodiversity"},
	"arts_culture":         {"arts", "culture", "heritage", "museum", "music", "dance", "theatre", "literature"},
	"sports":               {"sport", "sports", "physical activity", "fitness", "exercise", "team singapore", "youthcreates"},
	"youth":                {"youth", "young", "teen", "students", "youthcreates"},
	"disability_inclusion": {"disability", "inclusive", "inclusion", "special needs", "accessibility", "assistive"},
	"digital_tech":         {"digital", "technology", "tech", "software", "platform", "system", "solution", "digitalisation", "digitalization"},
}

var scopeTagKeywords = map[string][]string{
	"training_manpower":   {"training", "attachment", "attachments", "leadership programme", "talent", "capability", "manpower", "upskill", "reskill"},
	"project_based":       {"project", "initiative", "scheme", "pilot", "implementation", "deliverables"},
	"equipment_capex":     {"equipment", "hardware", "device", "capex", "purchase", "procure", "implementation cost"},
	"operations_support":  {"operating cost", "operational", "opex", "recurring", "day-to-day", "running cost"},
	"research_evaluation": {"research", "study", "evaluate", "evaluation", "impact assessment", "data collection"},
}

// kpiMarkers flag lines that read like outcomes, targets, or deliverables.
var kpiMarkers = []string{
	"kpi", "key performance", "outcome", "deliverable", "target", "objective", "milestone",
	"impact", "indicator", "measure", "measurable", "must achieve", "should achieve",
}

var (
	kpiNumberRe  = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*\b`)
	kpiUnitWords = []string{"participants", "beneficiaries", "sessions", "hours", "weeks", "months"}
)

var orgTypeKeywords = []string{
	"charity", "charities", "institution of a public character", "ipc",
	"society", "societies", "social service agency", "non-profit", "nonprofit",
	"voluntary welfare organisation", "company", "companies", "cooperative",
	"grassroots organisation", "grassroots organization",
}

// knownHeadings are the structured instruction-page sections already lifted
// into dedicated fields; anything else lands in Others.
var knownHeadings = map[string]struct{}{
	"about this grant":                  {},
	"who can apply?":                    {},
	"when to apply?":                    {},
	"when can i apply?":                 {},
	"how much funding can you receive?": {},
	"how to apply?":                     {},
}

// IssueAreaTaxonomy returns the valid issue-area tags, sorted.
func IssueAreaTaxonomy() []string {
	keys := make([]string, 0, len(issueAreaKeywords))
	for k := range issueAreaKeywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScopeTagTaxonomy returns the valid scope tags, sorted.
func ScopeTagTaxonomy() []string {
	keys := make([]string, 0, len(scopeTagKeywords))
	for k := range scopeTagKeywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hasDigitalTech applies the stricter two-term rule for the digital_tech tag:
// a core tech term alone is too generic, it must co-occur with an adoption or
// delivery context term.
func hasDigitalTech(lowered string) bool {
	hasCore := containsAny(lowered, []string{"digital", "technology", "tech", "digitalisation", "digitalization"})
	hasContext := containsAny(lowered, []string{"platform", "system", "software", "solution", "transformation", "adopt", "adoption", "implement"})
	return hasCore && hasContext
}

// ExtractIssueAreas tags text with issue areas, sorted for stable output.
func ExtractIssueAreas(text string) []string {
	t := norm(text)
	if t == "" {
		return nil
	}

	var hits []string
	for area, kws := range issueAreaKeywords {
		if area == "digital_tech" {
			continue
		}
		if containsAny(t, kws) {
			hits = append(hits, area)
		}
	}
	if hasDigitalTech(t) {
		hits = append(hits, "digital_tech")
	}

	sort.Strings(hits)
	return hits
}

// ExtractScopeTags tags text with scope tags, sorted for stable output.
func ExtractScopeTags(text string) []string {
	t := norm(text)
	if t == "" {
		return nil
	}

	var hits []string
	for tag, kws := range scopeTagKeywords {
		if containsAny(t, kws) {
			hits = append(hits, tag)
		}
	}

	sort.Strings(hits)
	return hits
}

// ExtractKPISnippets captures up to maxSnippets lines that look like outcome
// targets: marker keywords, or a number next to a beneficiary word.
func ExtractKPISnippets(text string, maxSnippets int) []string {
	if cleanText(text) == "" {
		return nil
	}

	var out []string
	for _, line := range kpiLines(text) {
		l := strings.ToLower(line)
		if containsAny(l, kpiMarkers) {
			out = append(out, line)
		} else if kpiNumberRe.MatchString(line) && containsAny(l, kpiUnitWords) {
			out = append(out, line)
		}
		if len(out) >= maxSnippets {
			break
		}
	}
	return out
}

// kpiLines splits text by newline, falling back to sentence splitting when
// the source text arrives as one block.
func kpiLines(text string) []string {
	var lines []string
	for _, x := range strings.Split(text, "\n") {
		if c := cleanText(x); c != "" {
			lines = append(lines, c)
		}
	}
	if len(lines) > 1 || (len(lines) == 1 && lines[0] != cleanText(text)) {
		return lines
	}
	return splitSentences(cleanText(text))
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ') {
			if s := cleanText(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := cleanText(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// ExtractEligibility splits who-can-apply text into requirement lines and the
// subset naming a recognized organization type.
func ExtractEligibility(whoText string) EligibilityInfo {
	reqs := splitAndCleanList(whoText)
	var orgs []string
	for _, line := range reqs {
		if containsAny(strings.ToLower(line), orgTypeKeywords) {
			orgs = append(orgs, line)
		}
	}
	return EligibilityInfo{OrgTypes: orgs, Requirements: reqs}
}

// otherSections keeps the page sections whose heading is not one of the
// structured ones.
func otherSections(sections []Section) []Section {
	var others []Section
	for _, s := range sections {
		h := cleanText(s.Heading)
		if h == "" {
			continue
		}
		if _, known := knownHeadings[strings.ToLower(h)]; known {
			continue
		}
		var content []string
		for _, c := range s.Content {
			if cc := cleanText(c); cc != "" {
				content = append(content, cc)
			}
		}
		if len(content) == 0 {
			continue
		}
		others = append(others, Section{Heading: h, Content: content})
	}
	return others
}

// BuildProfile runs the rule-based taggers over a raw record.
func BuildProfile(raw RawGrant) GrantProfile {
	combined := raw.CombinedText()

	// Thin sources like feeds carry everything in one text blob. When the
	// structured fields are empty, scan the combined text and keep only what
	// actually parsed; the blob itself is not window or funding text.
	funding := ExtractFunding(raw.FundingText())
	if funding.Raw == "" {
		if f := ExtractFunding(combined); f.CapAmountSGD > 0 || f.MinAmountSGD > 0 || f.PercentMax > 0 {
			f.Raw = ""
			funding = f
		}
	}

	window := ExtractWindow(raw.WhenToApply)
	if window.Raw == "" {
		if w := ExtractWindow(combined); w.IsOpenAllYear || len(w.Dates) > 0 {
			w.Raw = ""
			window = w
		}
	}

	return GrantProfile{
		IssueAreas:  ExtractIssueAreas(combined),
		ScopeTags:   ExtractScopeTags(combined),
		KPISnippets: ExtractKPISnippets(combined, 8),
		Funding:     funding,
		Window:      window,
		Eligibility: ExtractEligibility(raw.WhoCanApply),
		Others:      otherSections(raw.Sections),
		Version:     2,
	}
}
