package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/newsbot/internal/auth"
	"github.com/pautahq/newsbot/internal/history"
	"github.com/pautahq/newsbot/internal/rag"
	"github.com/pautahq/newsbot/internal/store"
	"github.com/pautahq/newsbot/internal/testutil"
)

type fakeFeedStore struct {
	feeds    map[int64]*store.Feed
	articles map[int64][]*store.Article
	nextID   int64
}

func newFakeFeedStore() *fakeFeedStore {
	return &fakeFeedStore{
		feeds:    make(map[int64]*store.Feed),
		articles: make(map[int64][]*store.Article),
		nextID:   1,
	}
}

func (s *fakeFeedStore) CreateFeed(_ context.Context, name, u, category string) (*store.Feed, error) {
	for _, f := range s.feeds {
		if f.URL == u {
			return nil, fmt.Errorf("feed url %q: %w", u, store.ErrDuplicateURL)
		}
	}
	f := &store.Feed{ID: s.nextID, Name: name, URL: u, Category: category, IsActive: true}
	s.feeds[f.ID] = f
	s.nextID++
	return f, nil
}

func (s *fakeFeedStore) Feeds(_ context.Context) ([]*store.Feed, error) {
	var out []*store.Feed
	for _, f := range s.feeds {
		out = append(out, f)
	}
	return out, nil
}

func (s *fakeFeedStore) FeedByID(_ context.Context, id int64) (*store.Feed, error) {
	f, ok := s.feeds[id]
	if !ok {
		return nil, fmt.Errorf("feed %d: %w", id, store.ErrFeedNotFound)
	}
	return f, nil
}

func (s *fakeFeedStore) DeleteFeed(_ context.Context, id int64) error {
	if _, ok := s.feeds[id]; !ok {
		return fmt.Errorf("feed %d: %w", id, store.ErrFeedNotFound)
	}
	delete(s.feeds, id)
	return nil
}

func (s *fakeFeedStore) ArticlesByFeed(_ context.Context, feedID int64) ([]*store.Article, error) {
	return s.articles[feedID], nil
}

type fakeRefresher struct {
	counts map[int64]int
}

func (r *fakeRefresher) RefreshFeed(_ context.Context, feedID int64) (int, error) {
	count, ok := r.counts[feedID]
	if !ok {
		return 0, fmt.Errorf("feed %d: %w", feedID, store.ErrFeedNotFound)
	}
	return count, nil
}

type fakeAnswerer struct {
	answer *rag.Answer
	err    error
}

func (a *fakeAnswerer) AskQuestion(_ context.Context, _ string) (*rag.Answer, error) {
	return a.answer, a.err
}

func (a *fakeAnswerer) AskQuestionStream(_ context.Context, _ string, cb func(rag.Chunk) error) (*rag.Answer, error) {
	if a.err != nil {
		return nil, a.err
	}
	if err := cb(rag.Chunk{Sources: a.answer.Sources}); err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(a.answer.Text, " ") {
		if err := cb(rag.Chunk{Text: word}); err != nil {
			return nil, err
		}
	}
	return a.answer, nil
}

type fakeHistory struct {
	exchanges map[int64]*history.Exchange
	nextID    int64
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{exchanges: make(map[int64]*history.Exchange), nextID: 1}
}

func (h *fakeHistory) CreateExchange(_ context.Context, userID int64, question, answer string) (*history.Exchange, error) {
	ex := &history.Exchange{ID: h.nextID, UserID: userID, Question: question, Answer: answer, CreatedAt: time.Now()}
	h.exchanges[ex.ID] = ex
	h.nextID++
	return ex, nil
}

func (h *fakeHistory) CreateStub(ctx context.Context, userID int64, question string) (*history.Exchange, error) {
	return h.CreateExchange(ctx, userID, question, "")
}

func (h *fakeHistory) FinalizeExchange(_ context.Context, id int64, answer string) error {
	ex, ok := h.exchanges[id]
	if !ok {
		return fmt.Errorf("exchange %d: %w", id, history.ErrNotFound)
	}
	ex.Answer = answer
	return nil
}

func (h *fakeHistory) ListByUser(_ context.Context, userID int64, _ int) ([]*history.Exchange, error) {
	var out []*history.Exchange
	for _, ex := range h.exchanges {
		if ex.UserID == userID {
			out = append(out, ex)
		}
	}
	return out, nil
}

func testUser() *auth.User {
	return &auth.User{ID: 1, Email: "alice@example.com"}
}

// authed attaches a user to the request context the way authMiddleware does.
func authed(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxKeyUser, testUser()))
}

func TestFeedHandler_CreateAndConflict(t *testing.T) {
	t.Parallel()

	h := &feedHandler{store: newFakeFeedStore(), refresher: &fakeRefresher{}, logger: testutil.DiscardLogger()}

	body := `{"name":"Example","url":"https://news.example.com/rss","category":"world"}`
	w := httptest.NewRecorder()
	h.create(w, httptest.NewRequest(http.MethodPost, "/api/feeds", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	var created store.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Example", created.Name)
	assert.True(t, created.IsActive)

	// Same URL again conflicts.
	w = httptest.NewRecorder()
	h.create(w, httptest.NewRequest(http.MethodPost, "/api/feeds", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFeedHandler_CreateValidation(t *testing.T) {
	t.Parallel()

	h := &feedHandler{store: newFakeFeedStore(), refresher: &fakeRefresher{}, logger: testutil.DiscardLogger()}

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing name", `{"url":"https://e.com/rss"}`},
		{"relative url", `{"name":"x","url":"/rss"}`},
		{"empty url", `{"name":"x","url":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			h.create(w, httptest.NewRequest(http.MethodPost, "/api/feeds", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestFeedHandler_ListEmpty(t *testing.T) {
	t.Parallel()

	h := &feedHandler{store: newFakeFeedStore(), refresher: &fakeRefresher{}, logger: testutil.DiscardLogger()}
	w := httptest.NewRecorder()
	h.list(w, httptest.NewRequest(http.MethodGet, "/api/feeds", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String(), "empty list serializes as [], not null")
}

func TestFeedHandler_DeleteNotFound(t *testing.T) {
	t.Parallel()

	h := &feedHandler{store: newFakeFeedStore(), refresher: &fakeRefresher{}, logger: testutil.DiscardLogger()}

	r := httptest.NewRequest(http.MethodDelete, "/api/feeds/99", nil)
	r.SetPathValue("id", "99")
	w := httptest.NewRecorder()
	h.delete(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeedHandler_Refresh(t *testing.T) {
	t.Parallel()

	fs := newFakeFeedStore()
	_, err := fs.CreateFeed(context.Background(), "Example", "https://e.com/rss", "")
	require.NoError(t, err)

	h := &feedHandler{
		store:     fs,
		refresher: &fakeRefresher{counts: map[int64]int{1: 5}},
		logger:    testutil.DiscardLogger(),
	}

	r := httptest.NewRequest(http.MethodPost, "/api/feeds/1/refresh", nil)
	r.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	h.refresh(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp refreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.NewArticles)
}

func TestFeedHandler_RefreshUnknownFeed(t *testing.T) {
	t.Parallel()

	h := &feedHandler{
		store:     newFakeFeedStore(),
		refresher: &fakeRefresher{},
		logger:    testutil.DiscardLogger(),
	}

	r := httptest.NewRequest(http.MethodPost, "/api/feeds/42/refresh", nil)
	r.SetPathValue("id", "42")
	w := httptest.NewRecorder()
	h.refresh(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatHandler_Ask(t *testing.T) {
	t.Parallel()

	hist := newFakeHistory()
	h := &chatHandler{
		engine: &fakeAnswerer{answer: &rag.Answer{
			Text: "Rates held steady.",
			Sources: []rag.Source{
				{Content: "doc", Metadata: map[string]string{"url": "https://e.com/1"}},
			},
		}},
		history: hist,
		logger:  testutil.DiscardLogger(),
	}

	r := authed(httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"rates?"}`)))
	w := httptest.NewRecorder()
	h.ask(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Rates held steady.", resp.Answer)
	require.Len(t, resp.SourceDocuments, 1)
	assert.Equal(t, "https://e.com/1", resp.SourceDocuments[0].Metadata["url"])

	// The exchange went into history.
	require.Len(t, hist.exchanges, 1)
	assert.Equal(t, "rates?", hist.exchanges[1].Question)
	assert.Equal(t, "Rates held steady.", hist.exchanges[1].Answer)
}

func TestChatHandler_AskUnauthenticated(t *testing.T) {
	t.Parallel()

	h := &chatHandler{engine: &fakeAnswerer{}, history: newFakeHistory(), logger: testutil.DiscardLogger()}
	w := httptest.NewRecorder()
	h.ask(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"q"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatHandler_AskEmptyQuestion(t *testing.T) {
	t.Parallel()

	h := &chatHandler{engine: &fakeAnswerer{}, history: newFakeHistory(), logger: testutil.DiscardLogger()}
	w := httptest.NewRecorder()
	h.ask(w, authed(httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"   "}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_Stream(t *testing.T) {
	t.Parallel()

	hist := newFakeHistory()
	h := &chatHandler{
		engine: &fakeAnswerer{answer: &rag.Answer{
			Text:    "The storm moved inland.",
			Sources: []rag.Source{{Content: "doc"}},
		}},
		history: hist,
		logger:  testutil.DiscardLogger(),
	}

	r := authed(httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"question":"storm?"}`)))
	w := httptest.NewRecorder()
	h.stream(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-History-ID"))
	assert.Equal(t, "The storm moved inland.", w.Body.String(), "streamed chunks reassemble the answer")

	// Stub was finalized with the full answer.
	assert.Equal(t, "The storm moved inland.", hist.exchanges[1].Answer)
}

func TestChatHandler_StreamGenerationError(t *testing.T) {
	t.Parallel()

	hist := newFakeHistory()
	h := &chatHandler{
		engine:  &fakeAnswerer{err: fmt.Errorf("model unavailable")},
		history: hist,
		logger:  testutil.DiscardLogger(),
	}

	r := authed(httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"question":"q"}`)))
	w := httptest.NewRecorder()
	h.stream(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// The stub stays with an empty answer, marking an interrupted exchange.
	assert.Equal(t, "", hist.exchanges[1].Answer)
}

func TestChatHandler_ListHistory(t *testing.T) {
	t.Parallel()

	hist := newFakeHistory()
	_, err := hist.CreateExchange(context.Background(), 1, "q1", "a1")
	require.NoError(t, err)
	_, err = hist.CreateExchange(context.Background(), 2, "other user", "a2")
	require.NoError(t, err)

	h := &chatHandler{engine: &fakeAnswerer{}, history: hist, logger: testutil.DiscardLogger()}

	w := httptest.NewRecorder()
	h.listHistory(w, authed(httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	var exchanges []*history.Exchange
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exchanges))
	require.Len(t, exchanges, 1, "only the caller's exchanges are returned")
	assert.Equal(t, "q1", exchanges[0].Question)
}
