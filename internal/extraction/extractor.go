package extraction

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// Extract applies rule to markup and returns records in document order.
// Selectors come from an untrusted source: ones that fail to compile or match
// nothing mean "field absent". Only records with a title are returned.
func Extract(markup []byte, rule crawler.Selectors, baseURL string) ([]crawler.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	item := compile(rule.JobItem)
	title := compile(rule.Title)
	if item == nil || title == nil {
		return nil, nil
	}
	location := compile(rule.Location)
	department := compile(rule.Department)
	link := compile(rule.Link)
	base, _ := url.Parse(baseURL)

	var records []crawler.JobRecord
	doc.FindMatcher(item).Each(func(_ int, el *goquery.Selection) {
		rec := crawler.JobRecord{
			Title:      firstText(el, title),
			Location:   firstText(el, location),
			Department: firstText(el, department),
			URL:        firstHref(el, link, base),
		}
		if rec.Title != "" {
			records = append(records, rec)
		}
	})
	return records, nil
}

// InvalidSelectors lists the non-empty selectors of rule that do not compile.
func InvalidSelectors(rule crawler.Selectors) []string {
	var bad []string
	for _, s := range []string{rule.JobItem, rule.Title, rule.Location, rule.Department, rule.Link} {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if _, err := cascadia.Compile(s); err != nil {
			bad = append(bad, s)
		}
	}
	return bad
}

func compile(selector string) cascadia.Selector {
	if strings.TrimSpace(selector) == "" {
		return nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	return sel
}

func firstText(el *goquery.Selection, m cascadia.Selector) string {
	if m == nil {
		return ""
	}
	found := el.FindMatcher(m)
	if found.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(found.First().Text()), " ")
}

func firstHref(el *goquery.Selection, m cascadia.Selector, base *url.URL) string {
	if m == nil {
		return ""
	}
	found := el.FindMatcher(m)
	if found.Length() == 0 {
		return ""
	}
	href, ok := found.First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
