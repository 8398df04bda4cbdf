package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/newsbot/internal/testutil"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example News</title>
  <link>https://news.example.com</link>
  <item>
    <title>First headline</title>
    <link>https://news.example.com/articles/1</link>
    <description>&lt;p&gt;Summary with &lt;b&gt;markup&lt;/b&gt;.&lt;/p&gt;</description>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  </item>
  <item>
    <title>Second headline</title>
    <link>https://news.example.com/articles/2</link>
    <description>Plain summary.</description>
  </item>
  <item>
    <title>No link, should be skipped</title>
    <description>Orphan entry.</description>
  </item>
</channel>
</rss>`

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := New(testutil.DiscardLogger())
	entries := f.Fetch(context.Background(), srv.URL)

	require.Len(t, entries, 2, "entries without a link must be dropped")

	assert.Equal(t, "First headline", entries[0].Title)
	assert.Equal(t, "https://news.example.com/articles/1", entries[0].Link)
	assert.Equal(t, "Summary with markup.", entries[0].Summary)
	require.NotNil(t, entries[0].Published)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), entries[0].Published.UTC())

	assert.Equal(t, "Plain summary.", entries[1].Summary)
	assert.Nil(t, entries[1].Published)
}

func TestFetcher_FetchUnreachable(t *testing.T) {
	t.Parallel()

	f := New(testutil.DiscardLogger())
	entries := f.Fetch(context.Background(), "http://127.0.0.1:1/feed.xml")
	assert.Empty(t, entries, "unreachable feeds yield no entries, not an error")
}

func TestFetcher_FetchMalformed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer srv.Close()

	f := New(testutil.DiscardLogger())
	entries := f.Fetch(context.Background(), srv.URL)
	assert.Empty(t, entries)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "just text", "just text"},
		{"tags removed", "<p>hello <b>world</b></p>", "hello world"},
		{"entities decoded", "fish &amp; chips", "fish & chips"},
		{"empty", "", ""},
		{"whitespace collapsed", "<div><p>one</p>\n  <p>two</p></div>", "one two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}
