package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jokeerr "github.com/mirthlab/jokebox/internal/errors"
	"github.com/mirthlab/jokebox/internal/observability"
	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/plugin/ai"
	"github.com/mirthlab/jokebox/store"
)

// fakeStore satisfies the engine's Store interface with canned search
// results and records every write for assertions.
type fakeStore struct {
	searchResults []*store.JokeWithScore
	jokes         map[int32]*store.Joke

	queryLogs   []*store.QueryLog
	feedbacks   []*store.Feedback
	queryLogErr error

	upserted    *store.Joke
	embeddings  map[int32][]float32
	jokeTags    map[int32][]*store.Tag
	nextTagID   int32
	tagsByName  map[string]*store.Tag
	resolveErrs error

	sawRequestContext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jokes:      map[int32]*store.Joke{},
		embeddings: map[int32][]float32{},
		jokeTags:   map[int32][]*store.Tag{},
		tagsByName: map[string]*store.Tag{},
	}
}

func (f *fakeStore) SearchJokes(ctx context.Context, _ *store.SearchJokesOptions) []*store.JokeWithScore {
	_, f.sawRequestContext = observability.FromContext(ctx)
	if f.searchResults == nil {
		return []*store.JokeWithScore{}
	}
	return f.searchResults
}

func (f *fakeStore) GetJoke(_ context.Context, find *store.FindJoke) (*store.Joke, error) {
	if find.ID != nil {
		return f.jokes[*find.ID], nil
	}
	return nil, nil
}

func (f *fakeStore) RandomJoke(_ context.Context) (*store.Joke, error) {
	for _, joke := range f.jokes {
		return joke, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertJoke(_ context.Context, create *store.Joke) (*store.Joke, error) {
	create.ID = 1
	f.upserted = create
	f.jokes[create.ID] = create
	return create, nil
}

func (f *fakeStore) UpdateJokeEmbedding(_ context.Context, id int32, embedding []float32) error {
	f.embeddings[id] = embedding
	return nil
}

func (f *fakeStore) ResolveTags(_ context.Context, names []string) ([]*store.Tag, error) {
	if f.resolveErrs != nil {
		return nil, f.resolveErrs
	}
	tags := []*store.Tag{}
	for _, name := range names {
		if name == "" {
			continue
		}
		tag, ok := f.tagsByName[name]
		if !ok {
			f.nextTagID++
			tag = &store.Tag{ID: f.nextTagID, Name: name}
			f.tagsByName[name] = tag
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (f *fakeStore) SetJokeTags(_ context.Context, jokeID int32, tags []*store.Tag) error {
	f.jokeTags[jokeID] = tags
	return nil
}

func (f *fakeStore) CreateQueryLog(_ context.Context, create *store.QueryLog) (*store.QueryLog, error) {
	if f.queryLogErr != nil {
		return nil, f.queryLogErr
	}
	create.ID = int32(len(f.queryLogs) + 1)
	f.queryLogs = append(f.queryLogs, create)
	return create, nil
}

func (f *fakeStore) CreateFeedback(_ context.Context, create *store.Feedback) (*store.Feedback, error) {
	if f.jokes[create.JokeID] == nil {
		return nil, jokeerr.NotFoundf("joke %d not found", create.JokeID)
	}
	create.ID = int32(len(f.feedbacks) + 1)
	f.feedbacks = append(f.feedbacks, create)
	return create, nil
}

func newTestEngine(s Store) *Engine {
	p := &profile.Profile{
		Driver:              "sqlite",
		SimilarityThreshold: 0.6,
		EmbeddingDimensions: 16,
	}
	return NewEngine(s, ai.NewMockEmbeddingService(16), p)
}

func chickenJoke() *store.Joke {
	return &store.Joke{
		ID:       1,
		Text:     "Why did the chicken cross the road? To get to the other side!",
		Category: "classic",
		Tags:     []*store.Tag{{ID: 1, Name: "classic"}},
	}
}

func TestRetrieveOneEmptyQuery(t *testing.T) {
	engine := newTestEngine(newFakeStore())

	_, err := engine.RetrieveOne(context.Background(), "  ", nil)
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeInvalidArgument))
}

func TestRetrieveOneEmptyCorpus(t *testing.T) {
	fake := newFakeStore()
	engine := newTestEngine(fake)

	result, err := engine.RetrieveOne(context.Background(), "anything", nil)
	require.NoError(t, err)

	assert.Equal(t, NoMatchJokeID, result.ID)
	assert.Equal(t, float32(0), result.Score)
	assert.True(t, result.ClarificationNeeded)
	assert.NotEmpty(t, result.ClarificationPrompt)
	assert.Equal(t, NoMatchCategory, result.Category)

	// The empty outcome still produces exactly one query log entry.
	require.Len(t, fake.queryLogs, 1)
	assert.Equal(t, "anything", fake.queryLogs[0].Query)
	assert.True(t, fake.queryLogs[0].ClarificationNeeded)
	assert.Nil(t, fake.queryLogs[0].SelectedJokeID)
	assert.Equal(t, float32(0), fake.queryLogs[0].Score)
}

func TestRetrieveOneSubstringOverride(t *testing.T) {
	// Sub-threshold score, but "chicken" occurs in the joke text, so the
	// lexical overlap overrides the ambiguity flag.
	fake := newFakeStore()
	fake.searchResults = []*store.JokeWithScore{{Joke: chickenJoke(), Score: 0.4}}
	engine := newTestEngine(fake)

	result, err := engine.RetrieveOne(context.Background(), "chicken joke", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), result.ID)
	assert.False(t, result.ClarificationNeeded)
	assert.Empty(t, result.ClarificationPrompt)
	assert.Equal(t, float32(0.4), result.Score)

	require.Len(t, fake.queryLogs, 1)
	assert.False(t, fake.queryLogs[0].ClarificationNeeded)
	require.NotNil(t, fake.queryLogs[0].SelectedJokeID)
	assert.Equal(t, int32(1), *fake.queryLogs[0].SelectedJokeID)
}

func TestRetrieveOneAmbiguous(t *testing.T) {
	// Low score and no lexical overlap: clarification with a prompt.
	fake := newFakeStore()
	fake.searchResults = []*store.JokeWithScore{{Joke: chickenJoke(), Score: 0.1}}
	engine := newTestEngine(fake)

	result, err := engine.RetrieveOne(context.Background(), "xyzzy nonsense", nil)
	require.NoError(t, err)

	assert.True(t, result.ClarificationNeeded)
	assert.NotEmpty(t, result.ClarificationPrompt)
	assert.Equal(t, int32(1), result.ID)

	require.Len(t, fake.queryLogs, 1)
	assert.True(t, fake.queryLogs[0].ClarificationNeeded)
}

func TestRetrieveOneConfidentMatch(t *testing.T) {
	fake := newFakeStore()
	fake.searchResults = []*store.JokeWithScore{{Joke: chickenJoke(), Score: 0.92}}
	engine := newTestEngine(fake)

	result, err := engine.RetrieveOne(context.Background(), "poultry humor", nil)
	require.NoError(t, err)

	assert.False(t, result.ClarificationNeeded)
	assert.Equal(t, []string{"classic"}, result.Tags)
}

func TestRetrieveOneSearchTextComposition(t *testing.T) {
	fake := newFakeStore()
	engine := newTestEngine(fake)

	userContext := "for kids"
	_, err := engine.RetrieveOne(context.Background(), "animal", &userContext)
	require.NoError(t, err)

	require.Len(t, fake.queryLogs, 1)
	assert.Equal(t, "animal for kids", fake.queryLogs[0].SearchText)
	assert.Equal(t, "animal", fake.queryLogs[0].Query)
}

func TestRetrieveCarriesRequestContext(t *testing.T) {
	// The request id travels down to the store so its warnings correlate
	// with the engine's decision logs.
	fake := newFakeStore()
	engine := newTestEngine(fake)

	_, err := engine.RetrieveOne(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.True(t, fake.sawRequestContext)

	fake.sawRequestContext = false
	_, err = engine.RetrieveMany(context.Background(), "anything", nil, 3)
	require.NoError(t, err)
	assert.True(t, fake.sawRequestContext)
}

func TestRetrieveOneQueryLogFailureIsBestEffort(t *testing.T) {
	fake := newFakeStore()
	fake.searchResults = []*store.JokeWithScore{{Joke: chickenJoke(), Score: 0.9}}
	fake.queryLogErr = errors.New("log table unavailable")
	engine := newTestEngine(fake)

	result, err := engine.RetrieveOne(context.Background(), "chicken", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), result.ID)
}

func TestRetrieveManyEmptyCorpus(t *testing.T) {
	fake := newFakeStore()
	engine := newTestEngine(fake)

	results, err := engine.RetrieveMany(context.Background(), "anything", nil, 5)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, NoMatchJokeID, results[0].ID)
	assert.True(t, results[0].ClarificationNeeded)
	require.Len(t, fake.queryLogs, 1)
}

func TestRetrieveManyPerItemFlags(t *testing.T) {
	confident := &store.Joke{ID: 2, Text: "A confident pun.", Category: "pun"}
	weak := &store.Joke{ID: 5, Text: "Totally unrelated quip.", Category: "misc"}

	fake := newFakeStore()
	fake.searchResults = []*store.JokeWithScore{
		{Joke: confident, Score: 0.8},
		{Joke: weak, Score: 0.3},
	}
	engine := newTestEngine(fake)

	results, err := engine.RetrieveMany(context.Background(), "qqqq", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].ClarificationNeeded)
	assert.True(t, results[1].ClarificationNeeded)
	assert.NotEmpty(t, results[1].ClarificationPrompt)

	// The log entry flag is the OR of the per-item flags; the selected id is
	// the primary match.
	require.Len(t, fake.queryLogs, 1)
	assert.True(t, fake.queryLogs[0].ClarificationNeeded)
	require.NotNil(t, fake.queryLogs[0].SelectedJokeID)
	assert.Equal(t, int32(2), *fake.queryLogs[0].SelectedJokeID)
	assert.Equal(t, float32(0.8), fake.queryLogs[0].Score)
}

func TestRetrieveManyOverridePrimaryOnly(t *testing.T) {
	primary := &store.Joke{ID: 1, Text: "The chicken crossed again.", Category: "classic"}
	secondary := &store.Joke{ID: 2, Text: "A chicken walks into a bar.", Category: "bar"}

	fake := newFakeStore()
	fake.searchResults = []*store.JokeWithScore{
		{Joke: primary, Score: 0.4},
		{Joke: secondary, Score: 0.3},
	}
	engine := newTestEngine(fake)

	results, err := engine.RetrieveMany(context.Background(), "chicken", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Only the primary match gets the substring override.
	assert.False(t, results[0].ClarificationNeeded)
	assert.True(t, results[1].ClarificationNeeded)
}

func TestAddJokeRoundTrip(t *testing.T) {
	fake := newFakeStore()
	engine := newTestEngine(fake)

	joke, err := engine.AddJoke(context.Background(), "joke A", "pun", nil, []string{"pun", "short"})
	require.NoError(t, err)

	require.NotNil(t, fake.upserted)
	assert.Equal(t, "joke A", fake.upserted.Text)
	assert.NotEmpty(t, fake.embeddings[joke.ID])

	names := []string{}
	for _, tag := range fake.jokeTags[joke.ID] {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"pun", "short"}, names)
}

func TestAddJokeEmptyText(t *testing.T) {
	engine := newTestEngine(newFakeStore())

	_, err := engine.AddJoke(context.Background(), "", "pun", nil, nil)
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeInvalidArgument))
}

func TestAddJokeEmbeddingFailurePropagates(t *testing.T) {
	fake := newFakeStore()
	p := &profile.Profile{Driver: "sqlite", SimilarityThreshold: 0.6}
	engine := NewEngine(fake, failingEmbedder{}, p)

	_, err := engine.AddJoke(context.Background(), "joke B", "", nil, nil)
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeEmbeddingUnavailable))
	assert.Nil(t, fake.upserted)
}

func TestRecordFeedbackUnknownJoke(t *testing.T) {
	fake := newFakeStore()
	engine := newTestEngine(fake)

	_, err := engine.RecordFeedback(context.Background(), 99999, true, "", nil)
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeNotFound))
	assert.Empty(t, fake.feedbacks)
}

func TestRecordFeedback(t *testing.T) {
	fake := newFakeStore()
	fake.jokes[7] = &store.Joke{ID: 7, Text: "stored joke"}
	engine := newTestEngine(fake)

	feedback, err := engine.RecordFeedback(context.Background(), 7, true, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(7), feedback.JokeID)
	assert.True(t, feedback.Liked)
	require.Len(t, fake.feedbacks, 1)
}

func TestGetJokeNotFound(t *testing.T) {
	engine := newTestEngine(newFakeStore())

	_, err := engine.GetJoke(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, jokeerr.IsCode(err, jokeerr.ErrCodeNotFound))
}

func TestContainsFold(t *testing.T) {
	text := "Why did the chicken cross the road?"

	assert.True(t, containsFold(text, "CHICKEN"))
	assert.True(t, containsFold(text, "chicken joke"))
	assert.True(t, containsFold(text, "cross the road"))
	assert.False(t, containsFold(text, "xyzzy nonsense"))
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) Dimensions() int { return 16 }
