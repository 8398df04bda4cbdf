package index

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/newsbot/internal/testutil"
)

func testEmbedder(t *testing.T) (ai.Embedder, *testutil.MockEmbedder) {
	t.Helper()
	g := genkit.Init(context.Background())
	require.NotNil(t, g)
	mock := testutil.NewMockEmbedder(4)
	return mock.RegisterEmbedder(g), mock
}

func openTestIndex(t *testing.T, dir string, embedder ai.Embedder) *Index {
	t.Helper()
	ix, err := Open(Config{
		Path:       dir,
		Collection: "articles",
		Embedder:   embedder,
		TopK:       2,
		Logger:     testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	return ix
}

func TestOpen_RequiresEmbedderAndCollection(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Path: t.TempDir(), Collection: "articles"})
	assert.Error(t, err)

	embedder, _ := testEmbedder(t)
	_, err = Open(Config{Path: t.TempDir(), Embedder: embedder})
	assert.Error(t, err)
}

func TestAddAndSearch(t *testing.T) {
	t.Parallel()

	embedder, mock := testEmbedder(t)
	ix := openTestIndex(t, t.TempDir(), embedder)
	defer func() { require.NoError(t, ix.Close()) }()

	// Pin vectors so similarity ordering is exact.
	mock.SetVector("markets rallied", []float32{1, 0, 0, 0})
	mock.SetVector("storm warning issued", []float32{0, 1, 0, 0})
	mock.SetVector("how did markets do", []float32{1, 0, 0, 0})

	err := ix.Add(context.Background(), []Document{
		{Content: "markets rallied", Metadata: map[string]string{"url": "https://e.com/a"}},
		{Content: "storm warning issued", Metadata: map[string]string{"url": "https://e.com/b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Count())

	docs, err := ix.Search(context.Background(), "how did markets do")
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "markets rallied", docs[0].Content, "best match comes first")
	assert.Equal(t, "https://e.com/a", docs[0].Metadata["url"], "metadata travels with results")
}

func TestSearch_EmptyCollection(t *testing.T) {
	t.Parallel()

	embedder, _ := testEmbedder(t)
	ix := openTestIndex(t, t.TempDir(), embedder)
	defer func() { require.NoError(t, ix.Close()) }()

	docs, err := ix.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearch_ClampsToCollectionSize(t *testing.T) {
	t.Parallel()

	embedder, _ := testEmbedder(t)
	ix := openTestIndex(t, t.TempDir(), embedder)
	defer func() { require.NoError(t, ix.Close()) }()

	// One document, top-k configured as 2.
	err := ix.Add(context.Background(), []Document{{Content: "only entry"}})
	require.NoError(t, err)

	docs, err := ix.Search(context.Background(), "only entry")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestAdd_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	embedder, _ := testEmbedder(t)
	ix := openTestIndex(t, t.TempDir(), embedder)
	defer func() { require.NoError(t, ix.Close()) }()

	require.NoError(t, ix.Add(context.Background(), nil))
	assert.Equal(t, 0, ix.Count())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	embedder, _ := testEmbedder(t)

	ix := openTestIndex(t, dir, embedder)
	err := ix.Add(context.Background(), []Document{
		{Content: "durable entry", Metadata: map[string]string{"url": "https://e.com/d"}},
	})
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	reopened := openTestIndex(t, dir, embedder)
	defer func() { require.NoError(t, reopened.Close()) }()

	assert.Equal(t, 1, reopened.Count(), "documents survive a restart")
	docs, err := reopened.Search(context.Background(), "durable entry")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://e.com/d", docs[0].Metadata["url"])
}

func TestOpen_DirectoryLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	embedder, _ := testEmbedder(t)

	ix := openTestIndex(t, dir, embedder)
	defer func() { require.NoError(t, ix.Close()) }()

	_, err := Open(Config{
		Path:       dir,
		Collection: "articles",
		Embedder:   embedder,
		Logger:     testutil.DiscardLogger(),
	})
	assert.Error(t, err, "a second handle on the same directory must be refused")
}
