package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pautahq/newsbot/internal/store"
)

// Refresher runs one ingestion pass for a feed.
type Refresher interface {
	RefreshFeed(ctx context.Context, feedID int64) (int, error)
}

// FeedStore is the slice of the relational store the feed handlers need.
type FeedStore interface {
	CreateFeed(ctx context.Context, name, u, category string) (*store.Feed, error)
	Feeds(ctx context.Context) ([]*store.Feed, error)
	FeedByID(ctx context.Context, id int64) (*store.Feed, error)
	DeleteFeed(ctx context.Context, id int64) error
	ArticlesByFeed(ctx context.Context, feedID int64) ([]*store.Article, error)
}

type feedHandler struct {
	store     FeedStore
	refresher Refresher
	logger    *slog.Logger
}

type createFeedRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

type refreshResponse struct {
	NewArticles int `json:"new_articles"`
}

func (h *feedHandler) list(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.store.Feeds(r.Context())
	if err != nil {
		h.logger.Error("listing feeds failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list feeds")
		return
	}
	if feeds == nil {
		feeds = []*store.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (h *feedHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "feed name is required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_url", "feed url must be absolute")
		return
	}

	feed, err := h.store.CreateFeed(r.Context(), req.Name, req.URL, req.Category)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateURL) {
			writeError(w, http.StatusConflict, "duplicate_url", "a feed with this url already exists")
			return
		}
		h.logger.Error("creating feed failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create feed")
		return
	}

	writeJSON(w, http.StatusCreated, feed)
}

func (h *feedHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := feedID(w, r)
	if !ok {
		return
	}

	feed, err := h.store.FeedByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "feed not found")
			return
		}
		h.logger.Error("getting feed failed", "feed_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not get feed")
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *feedHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := feedID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteFeed(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "feed not found")
			return
		}
		h.logger.Error("deleting feed failed", "feed_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete feed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *feedHandler) articles(w http.ResponseWriter, r *http.Request) {
	id, ok := feedID(w, r)
	if !ok {
		return
	}

	if _, err := h.store.FeedByID(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "feed not found")
			return
		}
		h.logger.Error("getting feed failed", "feed_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not get feed")
		return
	}

	articles, err := h.store.ArticlesByFeed(r.Context(), id)
	if err != nil {
		h.logger.Error("listing articles failed", "feed_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list articles")
		return
	}
	if articles == nil {
		articles = []*store.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

// refresh triggers an on-demand ingestion pass and reports how many new
// articles were stored.
func (h *feedHandler) refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := feedID(w, r)
	if !ok {
		return
	}

	count, err := h.refresher.RefreshFeed(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "feed not found")
			return
		}
		h.logger.Error("refreshing feed failed", "feed_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not refresh feed")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{NewArticles: count})
}

func feedID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "feed id must be a positive integer")
		return 0, false
	}
	return id, true
}
