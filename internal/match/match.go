package match

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cheryl9/grantdeck/internal/models"
)

// Component weights. They sum to 1, so the weighted total is a 0-100 score
// before adjustments.
const (
	weightIssueArea   = 0.30
	weightScope       = 0.20
	weightFunding     = 0.20
	weightEligibility = 0.15
	weightTimeline    = 0.10
	weightStrategic   = 0.05
)

// Components is the per-dimension breakdown behind a total score.
type Components struct {
	IssueArea   float64 `json:"issue_area"`
	Scope       float64 `json:"scope"`
	Funding     float64 `json:"funding"`
	Eligibility float64 `json:"eligibility"`
	Timeline    float64 `json:"timeline"`
	Strategic   float64 `json:"strategic"`
}

// Result is one grant scored against one NPO profile.
type Result struct {
	Score       float64    `json:"score"`
	Components  Components `json:"components"`
	Confidence  string     `json:"confidence"`
	Reasoning   string     `json:"reasoning"`
	Strengths   []string   `json:"strengths"`
	Concerns    []string   `json:"concerns"`
	ActionItems []string   `json:"action_items"`
}

// Info converts a result into the match shape carried on a Grant.
func (r Result) Info() *models.MatchInfo {
	return &models.MatchInfo{
		Score:      r.Score,
		Confidence: r.Confidence,
		Reasoning:  r.Reasoning,
		Strengths:  r.Strengths,
		Concerns:   r.Concerns,
	}
}

// Score evaluates how well a grant fits a profile at the given time. Each
// component scores 0-100; a component that had to fall back to a neutral
// default for lack of data counts as unclear and lowers confidence.
func Score(profile models.NPOProfile, grant models.Grant, now time.Time) Result {
	now = now.UTC()

	issue, issueClear := scoreIssueArea(profile, grant)
	scope, scopeClear := scoreScope(profile, grant)
	funding, fundingClear := scoreFunding(profile, grant)
	eligibility, eligibilityClear := scoreEligibility(profile, grant)
	timeline, timelineClear := scoreTimeline(grant, now)
	strategic, strategicClear := scoreStrategic(profile, grant)

	comps := Components{
		IssueArea:   issue,
		Scope:       scope,
		Funding:     funding,
		Eligibility: eligibility,
		Timeline:    timeline,
		Strategic:   strategic,
	}

	total := issue*weightIssueArea +
		scope*weightScope +
		funding*weightFunding +
		eligibility*weightEligibility +
		timeline*weightTimeline +
		strategic*weightStrategic

	all := []float64{issue, scope, funding, eligibility, timeline, strategic}
	strong := 0
	for _, v := range all {
		if v >= 80 {
			strong++
		}
	}
	if strong >= 3 {
		total += 5
	}
	if issue == 0 {
		total -= 15
	}
	if issue == 100 {
		total += 5
	}
	if timeline == 0 {
		total -= 20
	}
	total = clamp(total, 0, 100)

	unclear := 0
	for _, clear := range []bool{issueClear, scopeClear, fundingClear, eligibilityClear, timelineClear, strategicClear} {
		if !clear {
			unclear++
		}
	}
	avg := 0.0
	for _, v := range all {
		avg += v
	}
	avg /= float64(len(all))

	confidence := "medium"
	switch {
	case unclear >= 2:
		confidence = "low"
	case unclear == 0 && avg >= 70:
		confidence = "high"
	}

	r := Result{
		Score:      math.Round(total),
		Components: comps,
		Confidence: confidence,
	}
	buildInsights(&r)
	return r
}

// Ranked pairs a grant with its score for ordered recommendation lists.
type Ranked struct {
	Grant  models.Grant `json:"grant"`
	Result Result       `json:"match"`
}

// Rank scores every grant and returns them ordered best-first. The sort is
// stable, so equal scores keep the input order. topN <= 0 means no truncation.
func Rank(profile models.NPOProfile, grants []models.Grant, now time.Time, topN int) []Ranked {
	ranked := make([]Ranked, 0, len(grants))
	for _, g := range grants {
		ranked = append(ranked, Ranked{Grant: g, Result: Score(profile, g, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Result.Score > ranked[j].Result.Score
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

func scoreIssueArea(p models.NPOProfile, g models.Grant) (float64, bool) {
	if len(p.IssueAreas) == 0 || len(g.IssueAreas) == 0 {
		return 50, false
	}
	overlap := overlapCount(g.IssueAreas, p.IssueAreas)
	if overlap == 0 {
		return 0, true
	}
	coverage := float64(overlap) / float64(len(p.IssueAreas)) * 100
	breadth := float64(overlap) / float64(len(g.IssueAreas)) * 100
	return coverage*0.7 + breadth*0.3, true
}

func scoreScope(p models.NPOProfile, g models.Grant) (float64, bool) {
	// An untagged grant constrains nothing.
	if g.Scope == "" {
		return 100, true
	}
	if len(p.ProjectTypes) == 0 {
		return 50, false
	}
	if containsFold(p.ProjectTypes, g.Scope) {
		return 100, true
	}
	return 30, true
}

func scoreFunding(p models.NPOProfile, g models.Grant) (float64, bool) {
	if p.FundingMin <= 0 && p.FundingMax <= 0 {
		return 50, false
	}
	if !g.HasStructuredFunding() {
		if g.PercentMax > 0 {
			return clamp(g.PercentMax, 0, 100), true
		}
		if strings.TrimSpace(g.FundingRaw) != "" {
			return 70, false
		}
		return 50, false
	}

	grantCap := g.FundingMax
	if grantCap < p.FundingMin {
		return 20, true
	}
	if p.FundingMax <= p.FundingMin || grantCap >= p.FundingMax {
		return 100, true
	}
	return 50 + (grantCap-p.FundingMin)/(p.FundingMax-p.FundingMin)*50, true
}

var (
	yearsRe = regexp.MustCompile(`(\d+)\s*(?:\+\s*)?years?`)
	staffRe = regexp.MustCompile(`(\d+)\s*(?:full[- ]time\s+)?(?:staff|employees)`)
)

// scoreEligibility walks the grant's eligibility lines looking for signals it
// can actually judge against the profile: organization type, years operating,
// staff size. Each satisfied signal adds 10, each failed one subtracts 15.
// Lines it cannot judge leave the base score untouched.
func scoreEligibility(p models.NPOProfile, g models.Grant) (float64, bool) {
	if len(g.Eligibility) == 0 {
		return 60, false
	}

	score := 50.0
	judged := false
	orgStatus := strings.ToLower(strings.TrimSpace(p.OrganizationType + " " + p.RegistrationStatus))

	for _, line := range g.Eligibility {
		l := strings.ToLower(line)

		if strings.Contains(l, "charit") || strings.Contains(l, "ipc") || strings.Contains(l, "societ") {
			if orgStatus == "" {
				continue
			}
			judged = true
			if strings.Contains(orgStatus, "charit") || strings.Contains(orgStatus, "ipc") || strings.Contains(orgStatus, "societ") {
				score += 10
			} else {
				score -= 15
			}
			continue
		}

		if m := yearsRe.FindStringSubmatch(l); m != nil {
			if p.YearsOperating <= 0 {
				continue
			}
			required, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			judged = true
			if p.YearsOperating >= float64(required) {
				score += 10
			} else {
				score -= 15
			}
			continue
		}

		if m := staffRe.FindStringSubmatch(l); m != nil {
			if p.StaffSize <= 0 {
				continue
			}
			required, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			judged = true
			if p.StaffSize >= required {
				score += 10
			} else {
				score -= 15
			}
		}
	}

	return clamp(score, 0, 100), judged
}

func scoreTimeline(g models.Grant, now time.Time) (float64, bool) {
	if g.OpenAllYear {
		return 100, true
	}
	if g.DeadlineAt == nil {
		return 60, false
	}
	until := g.DeadlineAt.Sub(now)
	switch {
	case until < 0:
		return 0, true
	case until < 7*24*time.Hour:
		return 30, true
	case until < 30*24*time.Hour:
		return 80, true
	default:
		return 100, true
	}
}

func scoreStrategic(p models.NPOProfile, g models.Grant) (float64, bool) {
	profileWords := keywords(p.Mission + " " + p.Description)
	if len(profileWords) == 0 {
		return 50, false
	}
	grantWords := keywords(strings.Join([]string{g.Title, g.Description, strings.Join(g.IssueAreas, " ")}, " "))
	if len(grantWords) == 0 {
		return 50, false
	}

	overlap := 0
	for w := range profileWords {
		if _, ok := grantWords[w]; ok {
			overlap++
		}
	}
	rate := float64(overlap) / float64(len(profileWords))
	return math.Min(100, rate*200), true
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "are": {}, "our": {}, "their": {}, "will": {}, "have": {},
	"has": {}, "was": {}, "were": {}, "been": {}, "its": {}, "all": {},
	"can": {}, "who": {}, "which": {}, "when": {}, "where": {}, "more": {},
	"into": {}, "over": {}, "through": {}, "about": {}, "such": {},
	"they": {}, "them": {}, "than": {}, "then": {}, "these": {}, "those": {},
	"your": {}, "you": {}, "not": {}, "but": {}, "also": {}, "other": {},
}

// keywords tokenizes text into a lowercase word set, dropping stop words and
// anything shorter than three letters.
func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

type componentInsight struct {
	name     string
	value    float64
	strength string
	concern  string
	action   string
}

func buildInsights(r *Result) {
	insights := []componentInsight{
		{
			name: "issue areas", value: r.Components.IssueArea,
			strength: "Issue areas align with your focus",
			concern:  "Little overlap with your issue areas",
			action:   "Reframe the project summary toward the grant's issue areas",
		},
		{
			name: "scope", value: r.Components.Scope,
			strength: "Grant scope fits your project types",
			concern:  "Scope differs from your usual project types",
			action:   "Check whether the project can be shaped to the grant's scope",
		},
		{
			name: "funding", value: r.Components.Funding,
			strength: "Funding size fits your stated need",
			concern:  "Funding amount unlikely to meet your need",
			action:   "Read the raw funding text for amounts the parser missed",
		},
		{
			name: "eligibility", value: r.Components.Eligibility,
			strength: "You meet the stated eligibility signals",
			concern:  "Some eligibility requirements look unmet",
			action:   "Review the eligibility list against your registration status",
		},
		{
			name: "timeline", value: r.Components.Timeline,
			strength: "Comfortable runway to the deadline",
			concern:  "Deadline is close or already passed",
			action:   "Confirm the closing date before starting an application",
		},
		{
			name: "strategic fit", value: r.Components.Strategic,
			strength: "Mission language mirrors the grant's",
			concern:  "Mission wording shares little with this grant",
			action:   "Tailor the proposal narrative to the grant's stated aims",
		},
	}

	best, worst := insights[0], insights[0]
	for _, in := range insights {
		if in.value > best.value {
			best = in
		}
		if in.value < worst.value {
			worst = in
		}
		if in.value >= 70 {
			r.Strengths = append(r.Strengths, in.strength)
		}
		if in.value < 50 {
			r.Concerns = append(r.Concerns, in.concern)
			r.ActionItems = append(r.ActionItems, in.action)
		}
	}

	r.Reasoning = fmt.Sprintf("Scored %.0f/100 with %s confidence; strongest on %s, weakest on %s.",
		r.Score, r.Confidence, best.name, worst.name)
}

func overlapCount(a, b []string) int {
	n := 0
	for _, x := range a {
		if containsFold(b, x) {
			n++
		}
	}
	return n
}

func containsFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
