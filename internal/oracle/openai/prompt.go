package openai

import (
	"fmt"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

func rulePrompt(req crawler.RuleRequest) string {
	return fmt.Sprintf(`You write CSS selectors for scraping company careers pages.

Company: %s
URL: %s

HTML sample:
%s

Reply with a single JSON object:
{
  "job_list_selector": "container holding all jobs",
  "job_item_selector": "one element per job",
  "title_selector": "job title, relative to the job item",
  "location_selector": "job location, relative to the job item",
  "department_selector": "department, relative to the job item",
  "link_selector": "anchor to the job detail page, relative to the job item",
  "confidence_score": 0.8,
  "notes": "anything worth knowing"
}

Prefer specific selectors that only match job elements. Use null for fields the page does not show.`,
		req.CompanyName, req.URL, req.HTMLSample)
}

func suggestionPrompt(companyName, domain string) string {
	if domain == "" {
		domain = "unknown"
	}
	return fmt.Sprintf(`Company: %q
Domain: %q

List 3 to 5 URLs most likely to be this company's careers page, most likely first.
One absolute URL per line, no other text.`, companyName, domain)
}
