// Package ingest coordinates feed refresh: fetch entries, deduplicate by URL,
// persist new articles, and embed them into the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pautahq/newsbot/internal/feed"
	"github.com/pautahq/newsbot/internal/index"
	"github.com/pautahq/newsbot/internal/store"
)

// Fetcher retrieves the current entries of a feed URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) []feed.Entry
}

// Indexer accepts documents for embedding and retrieval.
type Indexer interface {
	Add(ctx context.Context, docs []index.Document) error
}

// Storage is the slice of the relational store the coordinator needs.
type Storage interface {
	FeedByID(ctx context.Context, id int64) (*store.Feed, error)
	ArticleByURL(ctx context.Context, url string) (*store.Article, error)
	CreateArticle(ctx context.Context, article *store.Article) error
	SetFeedLastFetched(ctx context.Context, id int64, t time.Time) error
}

// Service runs ingestion passes over feeds.
//
// A pass inserts each new article individually, then embeds the whole batch
// with one index call. If embedding fails, the relational inserts stand and
// the inconsistency is logged; the index misses those articles until a
// rebuild.
type Service struct {
	fetcher Fetcher
	indexer Indexer
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an ingestion Service.
func New(fetcher Fetcher, indexer Indexer, storage Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher: fetcher,
		indexer: indexer,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// RefreshFeed runs one ingestion pass for the feed and returns the number of
// newly stored articles. last_fetched is updated whether or not anything new
// was found.
//
// Entries whose URL already exists are skipped. Two entries with the same URL
// inside one fetch result deduplicate against each other as well: the first
// wins.
func (s *Service) RefreshFeed(ctx context.Context, feedID int64) (int, error) {
	f, err := s.storage.FeedByID(ctx, feedID)
	if err != nil {
		return 0, err
	}

	entries := s.fetcher.Fetch(ctx, f.URL)

	var docs []index.Document
	inserted := 0
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Link == "" || seen[entry.Link] {
			continue
		}
		seen[entry.Link] = true

		_, err := s.storage.ArticleByURL(ctx, entry.Link)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrArticleNotFound) {
			return inserted, fmt.Errorf("checking article %q: %w", entry.Link, err)
		}

		article := &store.Article{
			Title:         entry.Title,
			Content:       entry.Summary,
			URL:           entry.Link,
			PublishedDate: entry.Published,
			FeedID:        f.ID,
		}
		if err := s.storage.CreateArticle(ctx, article); err != nil {
			if errors.Is(err, store.ErrDuplicateURL) {
				// Raced with a concurrent pass; the other insert won.
				continue
			}
			return inserted, fmt.Errorf("storing article %q: %w", entry.Link, err)
		}
		inserted++
		docs = append(docs, articleDocument(article, f))
	}

	if len(docs) > 0 {
		if err := s.indexer.Add(ctx, docs); err != nil {
			s.logger.Error("index update failed, articles stored but not searchable",
				"feed_id", f.ID, "articles", len(docs), "error", err)
		}
	}

	if err := s.storage.SetFeedLastFetched(ctx, f.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last_fetched", "feed_id", f.ID, "error", err)
	}

	s.logger.Info("refreshed feed", "feed_id", f.ID, "name", f.Name,
		"entries", len(entries), "new_articles", inserted)
	return inserted, nil
}

// articleDocument builds the index document for one stored article.
// The embedded text is the title and body separated by a blank line, so
// retrieval matches on headlines as well as content.
func articleDocument(article *store.Article, f *store.Feed) index.Document {
	content := article.Title
	if article.Content != "" {
		content += "\n\n" + article.Content
	}

	metadata := map[string]string{
		"source":     f.Name,
		"url":        article.URL,
		"category":   f.Category,
		"feed_id":    strconv.FormatInt(f.ID, 10),
		"article_id": strconv.FormatInt(article.ID, 10),
	}
	if article.PublishedDate != nil {
		metadata["published_date"] = article.PublishedDate.UTC().Format(time.RFC3339)
	}

	return index.Document{Content: content, Metadata: metadata}
}
