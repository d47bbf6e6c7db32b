package extraction

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// atsHosts are hosted applicant tracking boards. A careers page that frames
// or scripts one of them renders its listings from that host, not its own markup.
var atsHosts = []string{
	"boards.greenhouse.io",
	"job-boards.greenhouse.io",
	"jobs.lever.co",
	"myworkdayjobs.com",
	"jobs.ashbyhq.com",
	"smartrecruiters.com",
	"apply.workable.com",
	"bamboohr.com",
	"icims.com",
}

// atsMounts are the placeholder elements embed scripts fill in.
const atsMounts = "#grnhse_app, [data-ashby-job-board], .workable-embed"

// shellTextLimit is the visible text below which a page with scripts and no
// job containers is treated as an unrendered shell.
const shellTextLimit = 200

// likelyDynamic reports whether the listing is probably rendered client side:
// it embeds a hosted ATS board, or it is a script shell with no job markup.
// The pipeline never branches on it; it only travels with the analysis
// snapshot so low-confidence runs can be explained.
func likelyDynamic(doc *goquery.Document, containers int) bool {
	if embedsATS(doc) {
		return true
	}
	if containers > 0 || doc.Find("script").Length() == 0 {
		return false
	}
	n := 0
	for _, node := range doc.Nodes {
		n += visibleTextLen(node)
	}
	return n < shellTextLimit
}

func embedsATS(doc *goquery.Document) bool {
	if doc.Find(atsMounts).Length() > 0 {
		return true
	}
	found := false
	doc.Find("iframe[src], script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.ToLower(s.AttrOr("src", ""))
		for _, host := range atsHosts {
			if strings.Contains(src, host) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func visibleTextLen(n *html.Node) int {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
		return 0
	}
	if n.Type == html.TextNode {
		return len(strings.TrimSpace(n.Data))
	}
	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += visibleTextLen(c)
	}
	return total
}
