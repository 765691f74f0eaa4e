// Package teststore runs the store contract against the sqlite driver in
// memory. The ranking and normalization assertions here pin down semantics
// every backend must share.
package teststore

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jokeerr "github.com/mirthlab/jokebox/internal/errors"
	"github.com/mirthlab/jokebox/internal/observability"
	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/store"
	"github.com/mirthlab/jokebox/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	p := &profile.Profile{
		Mode:                "dev",
		Driver:              "sqlite",
		DSN:                 ":memory:",
		EmbeddingDimensions: 4,
		SimilarityThreshold: 0.6,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)

	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createJoke(t *testing.T, st *store.Store, text string, embedding []float32) *store.Joke {
	t.Helper()
	joke, err := st.CreateJoke(context.Background(), &store.Joke{
		Text:      text,
		Embedding: embedding,
	})
	require.NoError(t, err)
	return joke
}

func TestCreateAndGetJoke(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	created, err := st.CreateJoke(ctx, &store.Joke{Text: "joke A"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, store.DefaultCategory, created.Category)

	found, err := st.GetJoke(ctx, &store.FindJoke{ID: &created.ID})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "joke A", found.Text)

	missing := int32(9999)
	none, err := st.GetJoke(ctx, &store.FindJoke{ID: &missing})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCreateJokeEmptyText(t *testing.T) {
	st := newTestStore(t)

	_, err := st.CreateJoke(context.Background(), &store.Joke{Text: ""})
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeInvalidArgument))
}

func TestCreateJokeDimensionMismatch(t *testing.T) {
	st := newTestStore(t)

	_, err := st.CreateJoke(context.Background(), &store.Joke{
		Text:      "joke B",
		Embedding: []float32{1, 0},
	})
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeInvalidArgument))
}

func TestUpsertJokeByText(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first, err := st.UpsertJoke(ctx, &store.Joke{Text: "joke C", Category: "pun"})
	require.NoError(t, err)

	source := "book"
	second, err := st.UpsertJoke(ctx, &store.Joke{Text: "joke C", Category: "classic", Source: &source})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "classic", second.Category)

	all, err := st.ListJokes(ctx, &store.FindJoke{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "classic", all[0].Category)
}

func TestUpdateJokeEmbedding(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	joke := createJoke(t, st, "joke D", nil)

	pending, err := st.FindJokesWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, joke.ID, pending[0].ID)

	require.NoError(t, st.UpdateJokeEmbedding(ctx, joke.ID, []float32{1, 0, 0, 0}))

	pending, err = st.FindJokesWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = st.UpdateJokeEmbedding(ctx, 9999, []float32{1, 0, 0, 0})
	require.Error(t, err)
}

func TestSearchRankingAndTieBreak(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// Two identical vectors tie at score 1; the lower id must come first.
	b := createJoke(t, st, "joke tie B", []float32{1, 0, 0, 0})
	c := createJoke(t, st, "joke tie C", []float32{1, 0, 0, 0})
	far := createJoke(t, st, "joke far", []float32{0, 1, 0, 0})

	results := st.SearchJokes(ctx, &store.SearchJokesOptions{
		Vector: []float32{1, 0, 0, 0},
		Limit:  10,
	})
	require.Len(t, results, 3)

	assert.Equal(t, b.ID, results[0].Joke.ID)
	assert.Equal(t, c.ID, results[1].Joke.ID)
	assert.Equal(t, far.ID, results[2].Joke.ID)

	for i, result := range results {
		assert.GreaterOrEqual(t, result.Score, float32(0))
		assert.LessOrEqual(t, result.Score, float32(1))
		if i > 0 {
			assert.LessOrEqual(t, result.Score, results[i-1].Score)
		}
	}

	// Orthogonal vectors rescale to 0 similarity.
	assert.InDelta(t, 0, results[2].Score, 1e-6)
}

func TestSearchSmallerCorpusThanLimit(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	createJoke(t, st, "only joke", []float32{0, 0, 1, 0})

	results := st.SearchJokes(ctx, &store.SearchJokesOptions{
		Vector: []float32{0, 0, 1, 0},
		Limit:  5,
	})
	assert.Len(t, results, 1)
}

func TestSearchSkipsJokesWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	createJoke(t, st, "unembedded joke", nil)
	embedded := createJoke(t, st, "embedded joke", []float32{1, 0, 0, 0})

	results := st.SearchJokes(ctx, &store.SearchJokesOptions{
		Vector: []float32{1, 0, 0, 0},
		Limit:  10,
	})
	require.Len(t, results, 1)
	assert.Equal(t, embedded.ID, results[0].Joke.ID)
}

func TestSearchErrorDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	createJoke(t, st, "some joke", []float32{1, 0, 0, 0})

	// The sqlite driver cannot embed text itself; a missing vector is a
	// driver error that the store degrades to "no candidates".
	results := st.SearchJokes(ctx, &store.SearchJokesOptions{Text: "some joke", Limit: 5})
	assert.Empty(t, results)
}

func TestSearchFailureWarnsWithRequestContext(t *testing.T) {
	st := newTestStore(t)
	createJoke(t, st, "some joke", []float32{1, 0, 0, 0})

	var buf bytes.Buffer
	reqCtx := observability.NewRequestContext(
		slog.New(slog.NewJSONHandler(&buf, nil)), "retrieve_one")
	ctx := observability.WithRequestContext(context.Background(), reqCtx)

	results := st.SearchJokes(ctx, &store.SearchJokesOptions{Text: "some joke", Limit: 5})
	assert.Empty(t, results)

	output := buf.String()
	assert.Contains(t, output, reqCtx.RequestID)
	assert.Contains(t, output, `"driver":"sqlite"`)
}

func TestResolveTagsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first, err := st.ResolveTags(ctx, []string{"x", "x"})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := st.ResolveTags(ctx, []string{"x"})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	all, err := st.ListTags(ctx, &store.FindTag{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTagRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	joke := createJoke(t, st, "joke A", nil)

	tags, err := st.ResolveTags(ctx, []string{"pun", "short"})
	require.NoError(t, err)
	require.NoError(t, st.SetJokeTags(ctx, joke.ID, tags))

	found, err := st.GetJoke(ctx, &store.FindJoke{ID: &joke.ID})
	require.NoError(t, err)
	names := []string{}
	for _, tag := range found.Tags {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"pun", "short"}, names)
}

func TestSetJokeTagsReplaces(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	joke := createJoke(t, st, "joke B", nil)

	first, err := st.ResolveTags(ctx, []string{"old"})
	require.NoError(t, err)
	require.NoError(t, st.SetJokeTags(ctx, joke.ID, first))

	second, err := st.ResolveTags(ctx, []string{"new"})
	require.NoError(t, err)
	require.NoError(t, st.SetJokeTags(ctx, joke.ID, second))

	found, err := st.GetJoke(ctx, &store.FindJoke{ID: &joke.ID})
	require.NoError(t, err)
	require.Len(t, found.Tags, 1)
	assert.Equal(t, "new", found.Tags[0].Name)
}

func TestFeedbackUnknownJokeWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.CreateFeedback(ctx, &store.Feedback{JokeID: 99999, Liked: true})
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeNotFound))

	all, err := st.ListFeedback(ctx, &store.FindFeedback{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFeedbackDefaultsToAnonymous(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	joke := createJoke(t, st, "joke C", nil)

	feedback, err := st.CreateFeedback(ctx, &store.Feedback{JokeID: joke.ID, Liked: true})
	require.NoError(t, err)
	assert.Equal(t, store.AnonymousUserID, feedback.UserID)

	all, err := st.ListFeedback(ctx, &store.FindFeedback{JokeID: &joke.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Liked)
}

func TestQueryLogAppendAndList(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	joke := createJoke(t, st, "joke D", nil)

	userContext := "for kids"
	first, err := st.CreateQueryLog(ctx, &store.QueryLog{
		Query:          "animal",
		Context:        &userContext,
		SearchText:     "animal for kids",
		Embedding:      []float32{1, 0, 0, 0},
		SelectedJokeID: &joke.ID,
		Score:          0.7,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = st.CreateQueryLog(ctx, &store.QueryLog{
		Query:               "anything",
		SearchText:          "anything",
		ClarificationNeeded: true,
	})
	require.NoError(t, err)

	logs, err := st.ListQueryLogs(ctx, &store.FindQueryLog{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Most recent first.
	assert.Equal(t, "anything", logs[0].Query)
	assert.Equal(t, "animal", logs[1].Query)
	require.NotNil(t, logs[1].SelectedJokeID)
	assert.Equal(t, joke.ID, *logs[1].SelectedJokeID)
}

func TestRandomJoke(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	empty, err := st.RandomJoke(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	created := createJoke(t, st, "only joke", nil)
	random, err := st.RandomJoke(ctx)
	require.NoError(t, err)
	require.NotNil(t, random)
	assert.Equal(t, created.ID, random.ID)
}
