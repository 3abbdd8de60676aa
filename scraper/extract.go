package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"imocrawl/config"
)

// ExtractRecords evaluates a CSS extraction config against rendered HTML: one
// record per element matching the base selector, one value per field. Fields
// whose selector matches nothing are simply absent from the record.
func ExtractRecords(html string, cfg config.ExtractionConfig) ([]map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	doc.Find(cfg.BaseSelector).Each(func(_ int, el *goquery.Selection) {
		record := make(map[string]any)
		for _, field := range cfg.Fields {
			if value, ok := extractField(el, field); ok {
				record[field.Name] = value
			}
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	})

	return records, nil
}

// ExtractRecord evaluates a CSS extraction config against a detail page,
// where the whole document is one record. An empty base selector means the
// document root.
func ExtractRecord(html string, cfg config.ExtractionConfig) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	root := doc.Selection
	if cfg.BaseSelector != "" {
		root = doc.Find(cfg.BaseSelector).First()
	}

	record := make(map[string]any)
	for _, field := range cfg.Fields {
		if value, ok := extractField(root, field); ok {
			record[field.Name] = value
		}
	}
	return record, nil
}

func extractField(el *goquery.Selection, field config.CSSField) (any, bool) {
	matches := el.Find(field.Selector)
	if field.Selector == "" {
		matches = el
	}
	if matches.Length() == 0 {
		return nil, false
	}

	if field.Multiple {
		var values []string
		matches.Each(func(_ int, m *goquery.Selection) {
			if v, ok := fieldValue(m, field); ok {
				values = append(values, v)
			}
		})
		if len(values) == 0 {
			return nil, false
		}
		return values, true
	}

	v, ok := fieldValue(matches.First(), field)
	if !ok {
		return nil, false
	}
	return v, true
}

func fieldValue(el *goquery.Selection, field config.CSSField) (string, bool) {
	if field.Type == "attribute" {
		return el.Attr(field.Attribute)
	}
	return strings.TrimSpace(el.Text()), true
}

// ExtractImages pulls image URLs out of a detail page, trying each configured
// attribute per element so lazy-loaded images are picked up. Inline data URIs
// are skipped; order of first appearance is kept, duplicates dropped.
func ExtractImages(html string, selectors, attributes []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	if len(attributes) == 0 {
		attributes = []string{"src", "data-lazy", "data-src"}
	}

	var urls []string
	seen := make(map[string]bool)

	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, el *goquery.Selection) {
			for _, attr := range attributes {
				src, ok := el.Attr(attr)
				if !ok || src == "" || strings.HasPrefix(src, "data:") {
					continue
				}
				if !seen[src] {
					seen[src] = true
					urls = append(urls, src)
				}
				break
			}
		})
	}

	return urls, nil
}
