package preview

import (
	"encoding/json"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Candidate scoring constants. The final score of a candidate is its base
// score plus min(chars, 420) plus min(words*8, 120); the highest score wins,
// first-seen on ties.
const (
	maxPreviewLen      = 420
	metaBaseScore      = 620
	metaPriorityStep   = 24
	jsonLDBaseScore    = 540
	paragraphBaseScore = 500
	titleBaseScore     = 180
	wordBonusWeight    = 8
	wordBonusCap       = 120
)

// metaPriority lists description meta keys from most to least preferred.
var metaPriority = []string{
	"og:description",
	"twitter:description",
	"description",
	"dc.description",
	"sailthru.description",
}

var (
	tagRe = regexp.MustCompile(`<[^>]*>`)
	wsRe  = regexp.MustCompile(`\s+`)
)

// Extract returns the best short description found in an HTML document,
// truncated to 420 characters. It reports false when no usable candidate
// exists. The function is pure: no I/O, no retained state.
func Extract(htmlText string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return "", false
	}

	var (
		best  Candidate
		found bool
	)
	consider := func(text string, source Source, base int) {
		text = normalizeText(text)
		if text == "" {
			return
		}
		score := base + lengthBonus(text)
		if !found || score > best.Score {
			best = Candidate{Text: text, Source: source, Score: score}
			found = true
		}
	}

	metaValues := collectMetaValues(doc)
	for i, key := range metaPriority {
		if v, ok := metaValues[key]; ok {
			consider(v, SourceMeta, metaBaseScore-metaPriorityStep*i)
		}
	}

	if v, ok := firstJSONLDText(doc); ok {
		consider(v, SourceJSONLD, jsonLDBaseScore)
	}

	doc.Find("script,style").Remove()

	if v, ok := firstParagraphText(doc); ok {
		consider(v, SourceParagraph, paragraphBaseScore)
	}

	consider(doc.Find("title").First().Text(), SourceTitle, titleBaseScore)

	if !found {
		return "", false
	}
	return truncateEllipsis(best.Text), true
}

// collectMetaValues scans <meta> tags keyed by property, name, or itemprop.
// The first tag seen for a given key wins.
func collectMetaValues(doc *goquery.Document) map[string]string {
	values := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		var key string
		for _, attr := range []string{"property", "name", "itemprop"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				key = strings.ToLower(strings.TrimSpace(v))
				break
			}
		}
		if key == "" {
			return
		}
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		if _, seen := values[key]; seen {
			return
		}
		values[key] = content
	})
	return values
}

// firstJSONLDText returns the first description or headline value found in
// any JSON-LD script block, searching nested objects and arrays.
func firstJSONLDText(doc *goquery.Document) (string, bool) {
	var (
		text  string
		found bool
	)
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("type", "")), "application/ld+json") {
			return true
		}
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		if v, ok := jsonLDText(payload); ok {
			text = v
			found = true
			return false
		}
		return true
	})
	return text, found
}

func jsonLDText(node any) (string, bool) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range []string{"description", "headline"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
		// Sorted keys keep nested-object traversal deterministic.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := jsonLDText(v[k]); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := jsonLDText(item); ok {
				return s, true
			}
		}
	}
	return "", false
}

// firstParagraphText returns the first <p> element with non-empty normalized
// text. Script and style blocks must already be removed from the document.
func firstParagraphText(doc *goquery.Document) (string, bool) {
	var (
		text  string
		found bool
	)
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := normalizeText(s.Text()); t != "" {
			text = t
			found = true
			return false
		}
		return true
	})
	return text, found
}

// normalizeText strips any residual markup, decodes named and numeric
// character references, and collapses whitespace.
func normalizeText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func lengthBonus(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars > maxPreviewLen {
		chars = maxPreviewLen
	}
	words := len(strings.Fields(text)) * wordBonusWeight
	if words > wordBonusCap {
		words = wordBonusCap
	}
	return chars + words
}

func truncateEllipsis(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPreviewLen {
		return text
	}
	return string(runes[:maxPreviewLen-1]) + "…"
}
