package loader

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirthlab/jokebox/plugin/ai"
	"github.com/mirthlab/jokebox/store"
)

type fakeStore struct {
	mu sync.Mutex

	jokesByText map[string]*store.Joke
	nextJokeID  int32
	embeddings  map[int32][]float32
	tagsByName  map[string]*store.Tag
	nextTagID   int32
	jokeTags    map[int32][]*store.Tag
	findLimits  []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jokesByText: map[string]*store.Joke{},
		embeddings:  map[int32][]float32{},
		tagsByName:  map[string]*store.Tag{},
		jokeTags:    map[int32][]*store.Tag{},
	}
}

func (f *fakeStore) UpsertJoke(_ context.Context, create *store.Joke) (*store.Joke, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.jokesByText[create.Text]; ok {
		existing.Category = create.Category
		existing.Source = create.Source
		return existing, nil
	}
	f.nextJokeID++
	create.ID = f.nextJokeID
	f.jokesByText[create.Text] = create
	return create, nil
}

func (f *fakeStore) UpdateJokeEmbedding(_ context.Context, id int32, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[id] = embedding
	return nil
}

func (f *fakeStore) FindJokesWithoutEmbedding(_ context.Context, limit int) ([]*store.Joke, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findLimits = append(f.findLimits, limit)
	pending := []*store.Joke{}
	for _, joke := range f.jokesByText {
		if f.embeddings[joke.ID] == nil {
			pending = append(pending, joke)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeStore) ResolveTags(_ context.Context, names []string) ([]*store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags := []*store.Tag{}
	for _, name := range names {
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jokeTags[jokeID] = tags
	return nil
}

func TestLoadFile(t *testing.T) {
	records, err := LoadFile(filepath.Join("testdata", "sample_jokes.json"))
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "classic", records[0].Category)
	assert.Contains(t, records[0].Tags, "animals")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "does_not_exist.json"))
	require.Error(t, err)
}

func TestImportSampleCorpus(t *testing.T) {
	fake := newFakeStore()
	l := New(fake, ai.NewMockEmbeddingService(16))

	result, err := l.ImportFile(context.Background(), filepath.Join("testdata", "sample_jokes.json"), false)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 5, result.Embedded)
	assert.Equal(t, 0, result.Skipped)
	assert.Len(t, fake.embeddings, 5)

	chicken := fake.jokesByText["Why did the chicken cross the road? To get to the other side!"]
	require.NotNil(t, chicken)
	names := []string{}
	for _, tag := range fake.jokeTags[chicken.ID] {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"animals", "classic", "short"}, names)
}

func TestImportIsIdempotent(t *testing.T) {
	fake := newFakeStore()
	l := New(fake, ai.NewMockEmbeddingService(16))

	records := []JokeRecord{
		{Text: "joke A", Category: "pun", Tags: []string{"pun", "short"}},
	}

	_, err := l.Import(context.Background(), records, false)
	require.NoError(t, err)

	// Re-import with a changed category: no new joke, category updated,
	// tag set replaced.
	records[0].Category = "classic"
	records[0].Tags = []string{"classic"}
	result, err := l.Import(context.Background(), records, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Len(t, fake.jokesByText, 1)
	joke := fake.jokesByText["joke A"]
	assert.Equal(t, "classic", joke.Category)
	require.Len(t, fake.jokeTags[joke.ID], 1)
	assert.Equal(t, "classic", fake.jokeTags[joke.ID][0].Name)

	// Shared tags created by the first import are reused, not duplicated.
	assert.Len(t, fake.tagsByName, 3)
}

func TestImportSkipsEmptyText(t *testing.T) {
	fake := newFakeStore()
	l := New(fake, ai.NewMockEmbeddingService(16))

	result, err := l.Import(context.Background(), []JokeRecord{
		{Text: ""},
		{Text: "joke B"},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
}

func TestImportDrainsPendingBacklog(t *testing.T) {
	// Jokes left unembedded by earlier runs are backfilled even when the
	// import itself contributes nothing.
	fake := newFakeStore()
	for _, text := range []string{"old joke A", "old joke B"} {
		_, err := fake.UpsertJoke(context.Background(), &store.Joke{Text: text})
		require.NoError(t, err)
	}
	l := New(fake, ai.NewMockEmbeddingService(16))

	result, err := l.Import(context.Background(), []JokeRecord{{Text: ""}}, false)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Embedded)
	assert.Len(t, fake.embeddings, 2)

	// The backfill pages with a fixed positive limit, never one derived
	// from the import size.
	require.NotEmpty(t, fake.findLimits)
	for _, limit := range fake.findLimits {
		assert.Equal(t, backfillBatch, limit)
	}
}

func TestImportRegenerateReembedsAll(t *testing.T) {
	fake := newFakeStore()
	l := New(fake, ai.NewMockEmbeddingService(16))

	records := []JokeRecord{{Text: "joke C"}, {Text: "joke D"}}
	_, err := l.Import(context.Background(), records, false)
	require.NoError(t, err)

	result, err := l.Import(context.Background(), records, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Embedded)
}
