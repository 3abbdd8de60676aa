// Package normalize converts loosely-typed scraped records into canonical
// properties. Extraction output carries no type guarantees: numeric fields may
// arrive as strings, image lists may arrive as a single string, and any field
// may be missing. Every coercion here is total; bad input becomes nil, never
// an error.
package normalize

import (
	"net/url"
	"strconv"

	"imocrawl/identity"
	"imocrawl/models"
)

// Record normalizes one raw extraction record for the given source. Relative
// listing URLs are resolved against baseURL. Pure function of its inputs.
func Record(raw map[string]any, source, baseURL string) models.CanonicalProperty {
	rentPrice := toFloat(raw["rent_price_brl"])
	condoFee := toFloat(raw["condo_fee_brl"])

	var totalPrice *float64
	if rentPrice != nil {
		total := *rentPrice
		if condoFee != nil {
			total += *condoFee
		}
		totalPrice = &total
	}

	images := imageList(raw["image_urls"])
	mainImage := ""
	if len(images) > 0 {
		mainImage = images[0]
	}

	rawData := make(map[string]any)
	if len(images) > 0 {
		rawData["image_urls"] = images
	}
	if additional := imageList(raw["additional_images"]); len(additional) > 0 {
		rawData["additional_images"] = additional
	}

	return models.CanonicalProperty{
		ExternalID: identity.ExternalID(
			source,
			stringify(raw["property_url"]),
			stringify(raw["area_sqft"]),
			stringify(raw["rent_price_brl"]),
		),
		Source:        source,
		City:          stringField(raw["city"]),
		Neighborhood:  stringField(raw["neighborhood"]),
		Address:       stringField(raw["full_address"]),
		Bedrooms:      toInt(raw["bedrooms"]),
		Bathrooms:     toInt(raw["bathrooms"]),
		ParkingSpaces: toInt(raw["garages"]),
		AreaSqm:       toFloat(raw["area_sqft"]),
		RentPrice:     rentPrice,
		CondoFee:      condoFee,
		TotalPrice:    totalPrice,
		OriginalURL:   resolveURL(stringField(raw["property_url"]), baseURL),
		MainImageURL:  mainImage,
		Description:   stringField(raw["description"]),
		RawData:       rawData,
		Status:        models.PropertyStatusActive,
	}
}

// resolveURL joins a possibly-relative listing URL against the site base URL.
// Absolute URLs pass through untouched.
func resolveURL(raw, baseURL string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// imageList coerces a string or list value into an ordered list of URLs with
// duplicates removed by first occurrence.
func imageList(v any) []string {
	var urls []string
	switch val := v.(type) {
	case string:
		if val != "" {
			urls = []string{val}
		}
	case []string:
		urls = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				urls = append(urls, s)
			}
		}
	}

	seen := make(map[string]bool, len(urls))
	deduped := urls[:0]
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		deduped = append(deduped, u)
	}
	return deduped
}

func stringField(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// stringify renders a field for identity hashing. Missing fields hash as the
// empty string; JSON numbers render without a trailing ".0".
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func toInt(v any) *int {
	switch val := v.(type) {
	case int:
		return &val
	case int64:
		i := int(val)
		return &i
	case float64:
		i := int(val)
		return &i
	case string:
		if i, err := strconv.Atoi(val); err == nil {
			return &i
		}
	}
	return nil
}

func toFloat(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return &f
		}
	}
	return nil
}
