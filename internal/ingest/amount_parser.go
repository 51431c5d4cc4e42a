package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	moneyRe   = regexp.MustCompile(`(?i)(?:S\$|\$)\s*(\d{1,3}(?:,\d{3})*(?:\.\d+)?)\b`)
	rangeRe   = regexp.MustCompile(`(?i)(?:S\$|\$)\s*(\d{1,3}(?:,\d{3})*(?:\.\d+)?)\s*(?:to|-|–|and)\s*(?:S\$|\$)\s*(\d{1,3}(?:,\d{3})*(?:\.\d+)?)\b`)
)

var (
	capMarkers    = []string{"cap", "capped", "up to", "maximum", "max", "not exceed", "no more than"}
	minMarkers    = []string{"minimum", "at least", "starting from"}
	cofundMarkers = []string{"co-fund", "cofund", "co-funding", "co funding", "co-funded", "co funded", "match", "matched", "co-pay", "copay"}
)

// ExtractFunding parses funding text for a structured cap and minimum: an
// explicit low-to-high range sets both bounds, otherwise dollar amounts near
// their marker words do. The highest mentioned percentage and co-funding
// mentions come along. An amount with no range and no nearby marker stays
// unstructured; only the raw text is kept for it.
func ExtractFunding(text string) FundingInfo {
	raw := cleanText(text)
	if raw == "" {
		return FundingInfo{}
	}
	low := strings.ToLower(raw)

	info := FundingInfo{
		Raw:               raw,
		MentionsCofunding: containsAny(low, cofundMarkers),
	}

	for _, m := range percentRe.FindAllStringSubmatch(raw, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > info.PercentMax {
			info.PercentMax = v
		}
	}

	if m := rangeRe.FindStringSubmatch(raw); m != nil {
		lo, errLo := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		hi, errHi := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if errLo == nil && errHi == nil && lo > 0 && hi >= lo {
			info.MinAmountSGD = lo
			info.CapAmountSGD = hi
		}
	}

	for _, idx := range moneyRe.FindAllStringSubmatchIndex(raw, -1) {
		val, err := strconv.ParseFloat(strings.ReplaceAll(raw[idx[2]:idx[3]], ",", ""), 64)
		if err != nil || val <= 0 {
			continue
		}
		window := markerWindow(low, idx[0])
		if info.CapAmountSGD == 0 && containsAny(window, capMarkers) {
			info.CapAmountSGD = val
		}
		if info.MinAmountSGD == 0 && containsAny(window, minMarkers) {
			info.MinAmountSGD = val
		}
	}

	return info
}

// markerWindow is the 80-byte neighborhood on each side of an amount, used to
// associate it with marker words.
func markerWindow(low string, pos int) string {
	start := pos - 80
	if start < 0 {
		start = 0
	}
	end := pos + 80
	if end > len(low) {
		end = len(low)
	}
	return low[start:end]
}
