// Package store owns the relational records of feeds and articles.
//
// URL uniqueness is enforced at the storage layer (unique constraints in the
// schema); the ingestion coordinator performs its own existence check first,
// and the constraint is the backstop. Each insert is independently visible;
// there is no batching transaction around an ingestion pass.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors for store operations. Check with errors.Is().
var (
	// ErrFeedNotFound indicates the referenced feed does not exist.
	ErrFeedNotFound = errors.New("feed not found")

	// ErrArticleNotFound indicates the referenced article does not exist.
	ErrArticleNotFound = errors.New("article not found")

	// ErrDuplicateURL indicates an insert violated a URL uniqueness constraint.
	ErrDuplicateURL = errors.New("url already exists")
)

// Store manages feed and article persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CreateFeed registers a new feed.
// Returns ErrDuplicateURL when a feed with the same URL already exists.
func (s *Store) CreateFeed(ctx context.Context, name, url, category string) (*Feed, error) {
	feed := &Feed{Name: name, URL: url, Category: category, IsActive: true}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feeds (name, url, category) VALUES ($1, $2, $3) RETURNING id`,
		name, url, category,
	).Scan(&feed.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("feed url %q: %w", url, ErrDuplicateURL)
		}
		return nil, fmt.Errorf("creating feed: %w", err)
	}

	s.logger.Debug("created feed", "id", feed.ID, "name", name, "url", url)
	return feed, nil
}

// FeedByID retrieves a feed. Returns ErrFeedNotFound when absent.
func (s *Store) FeedByID(ctx context.Context, id int64) (*Feed, error) {
	feed := &Feed{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, url, category, is_active, last_fetched FROM feeds WHERE id = $1`,
		id,
	).Scan(&feed.ID, &feed.Name, &feed.URL, &feed.Category, &feed.IsActive, &feed.LastFetched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("feed %d: %w", id, ErrFeedNotFound)
		}
		return nil, fmt.Errorf("getting feed %d: %w", id, err)
	}
	return feed, nil
}

// Feeds lists all registered feeds, newest first.
func (s *Store) Feeds(ctx context.Context) ([]*Feed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, url, category, is_active, last_fetched FROM feeds ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*Feed
	for rows.Next() {
		feed := &Feed{}
		if err := rows.Scan(&feed.ID, &feed.Name, &feed.URL, &feed.Category, &feed.IsActive, &feed.LastFetched); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feeds: %w", err)
	}
	return feeds, nil
}

// ActiveFeeds lists feeds eligible for scheduled refresh.
func (s *Store) ActiveFeeds(ctx context.Context) ([]*Feed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, url, category, is_active, last_fetched FROM feeds WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing active feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*Feed
	for rows.Next() {
		feed := &Feed{}
		if err := rows.Scan(&feed.ID, &feed.Name, &feed.URL, &feed.Category, &feed.IsActive, &feed.LastFetched); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feeds: %w", err)
	}
	return feeds, nil
}

// DeleteFeed removes a feed and its articles (CASCADE). Already-embedded
// vectors are NOT removed from the index (a known limitation).
// Returns ErrFeedNotFound when the feed does not exist.
func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting feed %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrFeedNotFound)
	}

	s.logger.Debug("deleted feed", "id", id)
	return nil
}

// SetFeedLastFetched records when the feed was last refreshed.
// Called after every ingestion pass, whether or not new articles were found.
func (s *Store) SetFeedLastFetched(ctx context.Context, id int64, t time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE feeds SET last_fetched = $2 WHERE id = $1`, id, t)
	if err != nil {
		return fmt.Errorf("updating feed %d last_fetched: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrFeedNotFound)
	}
	return nil
}

// CreateArticle persists one article and assigns its id and creation time.
// Returns ErrDuplicateURL when an article with the same URL already exists
// under any feed: the dedupe key is global.
func (s *Store) CreateArticle(ctx context.Context, article *Article) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO articles (title, content, url, published_date, feed_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		article.Title, article.Content, article.URL, article.PublishedDate, article.FeedID,
	).Scan(&article.ID, &article.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("article url %q: %w", article.URL, ErrDuplicateURL)
		}
		return fmt.Errorf("creating article: %w", err)
	}

	s.logger.Debug("created article", "id", article.ID, "url", article.URL, "feed_id", article.FeedID)
	return nil
}

// ArticleByURL looks up an article by its URL.
// Returns ErrArticleNotFound when absent; the ingestion dedupe check relies
// on that distinction.
func (s *Store) ArticleByURL(ctx context.Context, url string) (*Article, error) {
	return s.scanArticle(s.pool.QueryRow(ctx,
		`SELECT id, title, content, url, published_date, created_at, feed_id
		 FROM articles WHERE url = $1`, url), url)
}

// ArticleByID looks up an article by id. Returns ErrArticleNotFound when absent.
func (s *Store) ArticleByID(ctx context.Context, id int64) (*Article, error) {
	return s.scanArticle(s.pool.QueryRow(ctx,
		`SELECT id, title, content, url, published_date, created_at, feed_id
		 FROM articles WHERE id = $1`, id), fmt.Sprintf("id %d", id))
}

func (s *Store) scanArticle(row pgx.Row, ref string) (*Article, error) {
	article := &Article{}
	err := row.Scan(&article.ID, &article.Title, &article.Content, &article.URL,
		&article.PublishedDate, &article.CreatedAt, &article.FeedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("article %s: %w", ref, ErrArticleNotFound)
		}
		return nil, fmt.Errorf("getting article %s: %w", ref, err)
	}
	return article, nil
}

// ArticlesByFeed lists the articles of one feed, newest first.
func (s *Store) ArticlesByFeed(ctx context.Context, feedID int64) ([]*Article, error) {
	return s.queryArticles(ctx,
		`SELECT id, title, content, url, published_date, created_at, feed_id
		 FROM articles WHERE feed_id = $1 ORDER BY created_at DESC`, feedID)
}

// Articles lists all articles, newest first.
func (s *Store) Articles(ctx context.Context) ([]*Article, error) {
	return s.queryArticles(ctx,
		`SELECT id, title, content, url, published_date, created_at, feed_id
		 FROM articles ORDER BY created_at DESC`)
}

func (s *Store) queryArticles(ctx context.Context, sql string, args ...any) ([]*Article, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		article := &Article{}
		if err := rows.Scan(&article.ID, &article.Title, &article.Content, &article.URL,
			&article.PublishedDate, &article.CreatedAt, &article.FeedID); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating articles: %w", err)
	}
	return articles, nil
}
