package ingest

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// documentAnchorRe flags anchors that look like grant paperwork when no
// explicit documents selector is configured.
var documentAnchorRe = regexp.MustCompile(`(?i)(guidelines|annex|form|template|checklist|factsheet|faq|toolkit|brochure)`)

type headingKind int

const (
	headingOther headingKind = iota
	headingAbout
	headingWho
	headingWhen
	headingFunding
	headingHow
)

func classifyHeading(heading string) headingKind {
	switch strings.ToLower(cleanText(heading)) {
	case "about this grant":
		return headingAbout
	case "who can apply?":
		return headingWho
	case "when to apply?", "when can i apply?":
		return headingWhen
	case "how much funding can you receive?":
		return headingFunding
	case "how to apply?":
		return headingHow
	}
	return headingOther
}

// ParseGrantPage parses one instruction page into a RawGrant. Section
// headings route content into the structured fields; unrecognized sections
// are kept verbatim so nothing the page says is lost.
func ParseGrantPage(pageURL string, r io.Reader, sel SelectorConfig) (RawGrant, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return RawGrant{}, fmt.Errorf("parse grant page: %w", err)
	}

	titleSel := sel.Title
	if titleSel == "" {
		titleSel = "h1"
	}
	sectionSel := sel.Sections
	if sectionSel == "" {
		sectionSel = "section"
	}
	headingSel := sel.Heading
	if headingSel == "" {
		headingSel = "h2"
	}

	raw := RawGrant{
		SourceURL: CanonicalizeURL(pageURL),
		Title:     cleanText(doc.Find(titleSel).First().Text()),
	}
	if sel.Agency != "" {
		raw.Agency = cleanText(doc.Find(sel.Agency).First().Text())
	}

	doc.Find(sectionSel).Each(func(_ int, section *goquery.Selection) {
		heading := cleanText(section.Find(headingSel).First().Text())
		content := sectionContent(section, headingSel)
		if heading == "" && len(content) == 0 {
			return
		}
		raw.Sections = append(raw.Sections, Section{Heading: heading, Content: content})

		block := strings.Join(content, "\n")
		switch classifyHeading(heading) {
		case headingAbout:
			raw.About = block
		case headingWho:
			raw.WhoCanApply = block
		case headingWhen:
			raw.WhenToApply = block
		case headingFunding:
			raw.Funding = block
		case headingHow:
			raw.HowToApply = block
			if raw.ApplyURL == "" {
				if href, ok := section.Find("a[href]").First().Attr("href"); ok {
					raw.ApplyURL = resolveHref(pageURL, href)
				}
			}
		}
	})

	raw.Documents = collectDocumentLinks(doc, pageURL, sel.Documents)
	return raw, nil
}

// sectionContent pulls the text lines of a section, skipping the heading
// element. Paragraphs and list items become individual lines.
func sectionContent(section *goquery.Selection, headingSel string) []string {
	var lines []string
	section.Find("p, li").Each(func(_ int, node *goquery.Selection) {
		if text := cleanText(node.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) > 0 {
		return lines
	}

	whole := section.Clone()
	whole.Find(headingSel).Remove()
	if text := cleanText(whole.Text()); text != "" {
		return []string{text}
	}
	return nil
}

// collectDocumentLinks harvests attachment anchors. With a selector it takes
// exactly those anchors; without one it falls back to anchors whose text or
// href suggests grant paperwork.
func collectDocumentLinks(doc *goquery.Document, baseURL, docSel string) []DocumentLink {
	seen := make(map[string]bool)
	var out []DocumentLink

	add := func(node *goquery.Selection) {
		href, ok := node.Attr("href")
		if !ok {
			return
		}
		abs := resolveHref(baseURL, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		label := cleanText(node.Text())
		if label == "" {
			label = abs
		}
		out = append(out, DocumentLink{Label: label, Href: abs})
	}

	if docSel != "" {
		doc.Find(docSel).Each(func(_ int, node *goquery.Selection) { add(node) })
		return out
	}

	doc.Find("a[href]").Each(func(_ int, node *goquery.Selection) {
		href, _ := node.Attr("href")
		lower := strings.ToLower(href)
		if strings.Contains(lower, ".pdf") || documentAnchorRe.MatchString(node.Text()) {
			add(node)
		}
	})
	return out
}

// ListingPage is the outcome of parsing one listing page: the detail links
// found on it and the next page to walk, if any.
type ListingPage struct {
	DetailURLs []string
	NextURL    string
}

// ParseListingPage extracts instruction-page links from a portal listing.
func ParseListingPage(pageURL string, r io.Reader, sel SelectorConfig) (ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ListingPage{}, fmt.Errorf("parse listing page: %w", err)
	}

	if sel.Listing == "" {
		return ListingPage{}, fmt.Errorf("selector 'listing' is required for the portal strategy")
	}

	var page ListingPage
	seen := make(map[string]bool)
	doc.Find(sel.Listing).Each(func(_ int, card *goquery.Selection) {
		var href string
		var ok bool
		if sel.DetailLink == "" || sel.DetailLink == "." {
			href, ok = card.Attr("href")
		} else {
			href, ok = card.Find(sel.DetailLink).First().Attr("href")
		}
		if !ok {
			return
		}
		abs := CanonicalizeURL(resolveHref(pageURL, href))
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		page.DetailURLs = append(page.DetailURLs, abs)
	})

	if sel.NextPage != "" {
		if href, ok := doc.Find(sel.NextPage).First().Attr("href"); ok {
			page.NextURL = CanonicalizeURL(resolveHref(pageURL, href))
		}
	}

	return page, nil
}

func resolveHref(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// CanonicalizeURL lowercases the host and strips fragments and common
// tracking parameters so the same page always keys to the same URL.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "ref", "session"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
