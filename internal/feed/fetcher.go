// Package feed retrieves and normalizes entries from RSS/Atom sources.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// fetchTimeout bounds a single feed retrieval, including the HTTP round trip.
const fetchTimeout = 30 * time.Second

// Entry is one normalized feed item.
type Entry struct {
	Title     string
	Link      string
	Summary   string     // plain text, HTML markup stripped
	Published *time.Time // nil when the source carries no parseable timestamp
}

// Fetcher retrieves raw entries from a feed URL.
//
// Fetcher is safe for concurrent use; the underlying parser is stateless
// per call.
type Fetcher struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// New creates a Fetcher.
func New(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		parser: gofeed.NewParser(),
		logger: logger,
	}
}

// Fetch retrieves and parses the feed at url.
//
// Fetch never returns an error: an unreachable host, a timeout, or a
// malformed document is logged and yields an empty result. Callers cannot
// distinguish "empty feed" from "fetch failed"; ingestion treats both as
// zero entries.
func (f *Fetcher) Fetch(ctx context.Context, url string) []Entry {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		f.logger.Warn("feed fetch failed", "url", url, "error", err)
		return nil
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		entries = append(entries, Entry{
			Title:     strings.TrimSpace(item.Title),
			Link:      item.Link,
			Summary:   entrySummary(item),
			Published: entryPublished(item),
		})
	}

	f.logger.Debug("feed fetched", "url", url, "entries", len(entries))
	return entries
}

// entrySummary extracts the entry text, preferring the summary/description
// over full content, with HTML markup stripped. Returns "" when the entry
// carries neither.
func entrySummary(item *gofeed.Item) string {
	raw := item.Description
	if raw == "" {
		raw = item.Content
	}
	if raw == "" {
		return ""
	}
	return StripHTML(raw)
}

// entryPublished returns the parsed publish timestamp, falling back to the
// update timestamp, or nil when neither is present.
func entryPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// StripHTML reduces an HTML fragment to its text content.
// Feed summaries routinely arrive as HTML; the index and the prompt both
// want plain text. Input that fails to parse is returned trimmed as-is.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}
