package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"evalgrid/pkg/domain"
)

const maxItemKeyLength = 40

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// CreateItemKey derives a slug key from label. Labels with no ASCII letters or
// digits fall back to item_<unix millis>.
func CreateItemKey(label string, now time.Time) string {
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(label), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > maxItemKeyLength {
		slug = slug[:maxItemKeyLength]
	}
	if slug == "" {
		return fmt.Sprintf("item_%d", now.UnixMilli())
	}
	return slug
}

// UniqueItemKey appends _1, _2, ... to base until it is not in existing.
func UniqueItemKey(base string, existing map[string]struct{}) string {
	key := base
	for suffix := 1; ; suffix++ {
		if _, taken := existing[key]; !taken {
			return key
		}
		key = fmt.Sprintf("%s_%d", base, suffix)
	}
}

func itemKeySet(items []domain.Item) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item.Key] = struct{}{}
	}
	return set
}
