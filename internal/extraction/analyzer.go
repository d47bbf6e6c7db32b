package extraction

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// containerSelectors are counted independently; an element matching two of
// them is counted twice.
var containerSelectors = []string{
	"[class*='job']",
	"[class*='position']",
	"[class*='opening']",
	"[data-testid*='job']",
	".career-listing",
	".job-listing",
	".position-listing",
}

const filterSelector = "[class*='filter'], [class*='search']"

var paginationText = regexp.MustCompile(`(?i)next|more|page`)

// Analyze computes coarse structural signals. Zero candidates is a valid result.
func Analyze(markup []byte) (crawler.StructureSignals, error) {
	if len(bytes.TrimSpace(markup)) == 0 {
		return crawler.StructureSignals{}, fmt.Errorf("empty document")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return crawler.StructureSignals{}, fmt.Errorf("parse html: %w", err)
	}

	var signals crawler.StructureSignals
	for _, sel := range containerSelectors {
		signals.PotentialJobContainers += doc.Find(sel).Length()
	}
	signals.HasFilters = doc.Find(filterSelector).Length() > 0
	signals.TotalLinks = doc.Find("a").Length()
	for _, n := range doc.Nodes {
		if hasMatchingText(n, paginationText) {
			signals.HasPagination = true
			break
		}
	}
	signals.LikelyDynamic = likelyDynamic(doc, signals.PotentialJobContainers)
	return signals, nil
}

func hasMatchingText(n *html.Node, re *regexp.Regexp) bool {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return false
	}
	if n.Type == html.TextNode && re.MatchString(n.Data) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasMatchingText(c, re) {
			return true
		}
	}
	return false
}
