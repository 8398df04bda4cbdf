// Package index owns the persistent vector index of embedded article
// documents. Collections are stored in an on-disk directory and survive
// process restarts: reopening the same directory and collection name
// restores every prior addition.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/firebase/genkit/go/ai"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// Document is one entry in a collection: text plus its source metadata.
// Metadata travels with the document through search results so the boundary
// layer can cite sources.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Config holds the parameters for opening an index collection.
type Config struct {
	Path       string      // on-disk directory holding all collections
	Collection string      // logical collection name, e.g. "articles"
	Embedder   ai.Embedder // application-scoped singleton, injected
	TopK       int         // results per search; <=0 uses DefaultTopK
	Logger     *slog.Logger
}

// DefaultTopK is the number of documents returned per search when the
// configuration does not say otherwise.
const DefaultTopK = 4

// Index is a handle to one named collection. The handle is safe for
// concurrent use.
//
// Add has no upsert semantics: re-adding a document with the same metadata
// creates a duplicate vector entry. Deduplication is the caller's concern.
type Index struct {
	collection *chromem.Collection
	topK       int
	dirLock    *flock.Flock
	logger     *slog.Logger
}

// Open opens (or creates) the collection under cfg.Path.
//
// An advisory file lock guards the directory so two processes cannot corrupt
// the same index; in-process concurrency is handled by chromem itself.
func Open(cfg Config) (*Index, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dirLock := flock.New(filepath.Join(cfg.Path, ".lock"))
	locked, err := dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking index directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("index directory %q is locked by another process", cfg.Path)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		_ = dirLock.Unlock()
		return nil, fmt.Errorf("opening persistent index at %q: %w", cfg.Path, err)
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, newEmbeddingFunc(cfg.Embedder))
	if err != nil {
		_ = dirLock.Unlock()
		return nil, fmt.Errorf("opening collection %q: %w", cfg.Collection, err)
	}

	logger.Debug("vector index opened",
		"path", cfg.Path,
		"collection", cfg.Collection,
		"documents", collection.Count(),
	)

	return &Index{
		collection: collection,
		topK:       topK,
		dirLock:    dirLock,
		logger:     logger,
	}, nil
}

// Add embeds and appends docs to the collection in one batch.
// An empty batch is a no-op and never an error.
func (ix *Index) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	records := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		records[i] = chromem.Document{
			ID:       uuid.NewString(),
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}

	if err := ix.collection.AddDocuments(ctx, records, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding %d documents: %w", len(docs), err)
	}

	ix.logger.Info("documents indexed", "count", len(docs))
	return nil
}

// Search returns the most relevant documents for the query, best match
// first. An empty collection yields an empty result, not an error. The
// result size is the configured top-k, clamped to the collection size.
func (ix *Index) Search(ctx context.Context, query string) ([]Document, error) {
	k := ix.topK
	if count := ix.collection.Count(); count < k {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := ix.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("searching collection: %w", err)
	}

	docs := make([]Document, len(results))
	for i, res := range results {
		docs[i] = Document{
			Content:  res.Content,
			Metadata: res.Metadata,
		}
	}
	return docs, nil
}

// Count reports the number of documents currently in the collection.
func (ix *Index) Count() int {
	return ix.collection.Count()
}

// Close releases the directory lock. The collection data is already durable;
// chromem persists on every write.
func (ix *Index) Close() error {
	if ix.dirLock == nil {
		return nil
	}
	if err := ix.dirLock.Unlock(); err != nil {
		return fmt.Errorf("unlocking index directory: %w", err)
	}
	return nil
}
