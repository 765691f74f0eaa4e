// Package retrieval implements the semantic retrieval and
// ambiguity-resolution engine: query text in, ranked joke matches out, with a
// confidence threshold deciding whether to answer directly or ask the caller
// to clarify, and an audit log entry per call.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	jokeerr "github.com/mirthlab/jokebox/internal/errors"
	"github.com/mirthlab/jokebox/internal/observability"
	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/plugin/ai"
	"github.com/mirthlab/jokebox/store"
)

// NoMatchJokeID is the sentinel id returned when a search yields no
// candidates. Real joke ids start at 1.
const NoMatchJokeID int32 = 0

// NoMatchCategory marks the sentinel result's category.
const NoMatchCategory = "unknown"

const (
	noMatchText       = "I couldn't find a joke matching your query. Could you try a different topic?"
	noMatchManyText   = "I couldn't find any jokes matching your query. Could you try a different topic?"
	noMatchPrompt     = "Can you tell me more about what kind of joke you're looking for?"
	noMatchManyPrompt = "Can you tell me more about what kind of jokes you're looking for?"

	ambiguousPrompt     = "Your request was a bit ambiguous. Could you be more specific about the kind of joke you want?"
	ambiguousManyPrompt = "Could you be more specific about the type of joke you want?"
)

// Store is the persistence surface the engine depends on. *store.Store
// satisfies it; tests substitute a mock.
type Store interface {
	SearchJokes(ctx context.Context, opts *store.SearchJokesOptions) []*store.JokeWithScore
	GetJoke(ctx context.Context, find *store.FindJoke) (*store.Joke, error)
	RandomJoke(ctx context.Context) (*store.Joke, error)
	UpsertJoke(ctx context.Context, create *store.Joke) (*store.Joke, error)
	UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error
	ResolveTags(ctx context.Context, names []string) ([]*store.Tag, error)
	SetJokeTags(ctx context.Context, jokeID int32, tags []*store.Tag) error
	CreateQueryLog(ctx context.Context, create *store.QueryLog) (*store.QueryLog, error)
	CreateFeedback(ctx context.Context, create *store.Feedback) (*store.Feedback, error)
}

// MatchResult is the decision bundle for one matched (or unmatched) joke.
type MatchResult struct {
	ID       int32
	Text     string
	Category string
	Source   *string
	Tags     []string
	// Score is the similarity of this match in [0, 1].
	Score               float32
	ClarificationNeeded bool
	// ClarificationPrompt is non-empty only when clarification is needed.
	ClarificationPrompt string
}

// Engine runs the retrieval state machine: compose search text, search,
// decide ambiguity, log. Safe for concurrent use; all state lives in the
// store.
type Engine struct {
	store    Store
	embedder ai.EmbeddingService
	// threshold is the similarity below which a match is flagged ambiguous.
	threshold float32
	// storeEmbeds is set for backends that embed query text themselves
	// (mongo); the engine then skips the shared embedder on the search path
	// and the query log carries no vector.
	storeEmbeds bool
}

// NewEngine creates a retrieval engine configured from the profile.
func NewEngine(s Store, embedder ai.EmbeddingService, p *profile.Profile) *Engine {
	return &Engine{
		store:       s,
		embedder:    embedder,
		threshold:   float32(p.SimilarityThreshold),
		storeEmbeds: p.Driver == "mongo",
	}
}

// RetrieveOne returns the best-matching joke for the query, or the no-match
// sentinel when the search produces no candidates. Either way exactly one
// query log entry is written, best-effort.
func (e *Engine) RetrieveOne(ctx context.Context, query string, userContext *string) (*MatchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, jokeerr.InvalidArgument("query must not be empty")
	}
	reqCtx := observability.NewRequestContext(nil, "retrieve_one")
	ctx = observability.WithRequestContext(ctx, reqCtx)

	searchText := composeSearchText(query, userContext)
	vector := e.embedQuery(ctx, searchText)
	candidates := e.store.SearchJokes(ctx, &store.SearchJokesOptions{
		Text:   searchText,
		Vector: vector,
		Limit:  1,
	})

	if len(candidates) == 0 {
		e.writeQueryLog(ctx, query, userContext, searchText, vector, true, nil, 0)
		reqCtx.Info("no candidates",
			slog.Int(observability.LogFieldQueryLen, len(query)),
			slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
		return noMatchResult(noMatchText, noMatchPrompt), nil
	}

	primary := candidates[0]
	needsClarification := primary.Score < e.threshold
	if needsClarification && containsFold(primary.Joke.Text, query) {
		// Lexical overlap is sufficient evidence of relevance even when
		// embedding similarity under-scores it.
		needsClarification = false
	}

	e.writeQueryLog(ctx, query, userContext, searchText, vector, needsClarification, &primary.Joke.ID, primary.Score)
	reqCtx.Info("retrieval decision",
		slog.Int(observability.LogFieldQueryLen, len(query)),
		slog.Int(observability.LogFieldJokeID, int(primary.Joke.ID)),
		slog.Float64(observability.LogFieldScore, float64(primary.Score)),
		slog.Bool("clarification_needed", needsClarification),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))

	result := toMatchResult(primary.Joke, primary.Score)
	result.ClarificationNeeded = needsClarification
	if needsClarification {
		result.ClarificationPrompt = ambiguousPrompt
	}
	return result, nil
}

// RetrieveMany returns up to limit matches for the query, each carrying its
// own ambiguity flag. The substring override applies only to the primary
// match. A corpus smaller than limit returns fewer results; callers are
// expected to pass a positive limit.
func (e *Engine) RetrieveMany(ctx context.Context, query string, userContext *string, limit int) ([]*MatchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, jokeerr.InvalidArgument("query must not be empty")
	}
	reqCtx := observability.NewRequestContext(nil, "retrieve_many")
	ctx = observability.WithRequestContext(ctx, reqCtx)

	searchText := composeSearchText(query, userContext)
	vector := e.embedQuery(ctx, searchText)
	candidates := e.store.SearchJokes(ctx, &store.SearchJokesOptions{
		Text:   searchText,
		Vector: vector,
		Limit:  limit,
	})

	if len(candidates) == 0 {
		e.writeQueryLog(ctx, query, userContext, searchText, vector, true, nil, 0)
		return []*MatchResult{noMatchResult(noMatchManyText, noMatchManyPrompt)}, nil
	}

	results := make([]*MatchResult, 0, len(candidates))
	anyClarification := false
	for i, candidate := range candidates {
		needsClarification := candidate.Score < e.threshold
		if i == 0 && needsClarification && containsFold(candidate.Joke.Text, query) {
			needsClarification = false
		}
		anyClarification = anyClarification || needsClarification

		result := toMatchResult(candidate.Joke, candidate.Score)
		result.ClarificationNeeded = needsClarification
		if needsClarification {
			result.ClarificationPrompt = ambiguousManyPrompt
		}
		results = append(results, result)
	}

	primary := candidates[0]
	e.writeQueryLog(ctx, query, userContext, searchText, vector, anyClarification, &primary.Joke.ID, primary.Score)
	reqCtx.Info("retrieval decision",
		slog.Int(observability.LogFieldQueryLen, len(query)),
		slog.Int("result_count", len(results)),
		slog.Int(observability.LogFieldJokeID, int(primary.Joke.ID)),
		slog.Float64(observability.LogFieldScore, float64(primary.Score)),
		slog.Bool("clarification_needed", anyClarification),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return results, nil
}

// AddJoke creates or updates a joke by text identity, computes its embedding
// and replaces its tag set. Unlike the search path, an embedding failure here
// propagates: silently storing an unsearchable joke would corrupt the corpus.
func (e *Engine) AddJoke(ctx context.Context, text, category string, source *string, tagNames []string) (*store.Joke, error) {
	if strings.TrimSpace(text) == "" {
		return nil, jokeerr.InvalidArgument("joke text must not be empty")
	}

	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, jokeerr.EmbeddingUnavailable("failed to embed joke text", err)
	}

	joke, err := e.store.UpsertJoke(ctx, &store.Joke{
		Text:     text,
		Category: category,
		Source:   source,
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateJokeEmbedding(ctx, joke.ID, embedding); err != nil {
		return nil, err
	}

	tags, err := e.store.ResolveTags(ctx, tagNames)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetJokeTags(ctx, joke.ID, tags); err != nil {
		return nil, err
	}

	joke.Embedding = embedding
	joke.Tags = tags
	return joke, nil
}

// RecordFeedback appends a like/dislike signal for a joke. Feedback on an
// unknown joke id fails with NOT_FOUND and records nothing.
func (e *Engine) RecordFeedback(ctx context.Context, jokeID int32, liked bool, userID string, comment *string) (*store.Feedback, error) {
	return e.store.CreateFeedback(ctx, &store.Feedback{
		JokeID:  jokeID,
		Liked:   liked,
		UserID:  userID,
		Comment: comment,
	})
}

// GetJoke fetches a joke by id.
func (e *Engine) GetJoke(ctx context.Context, id int32) (*store.Joke, error) {
	joke, err := e.store.GetJoke(ctx, &store.FindJoke{ID: &id})
	if err != nil {
		return nil, err
	}
	if joke == nil {
		return nil, jokeerr.NotFoundf("joke %d not found", id)
	}
	return joke, nil
}

// GetRandom returns a uniformly sampled joke, or nil on an empty corpus.
func (e *Engine) GetRandom(ctx context.Context) (*store.Joke, error) {
	return e.store.RandomJoke(ctx)
}

// embedQuery embeds the search text through the shared embedder. It returns
// nil when the backend embeds internally, and also on embedding failure: a
// dead model on the search path degrades to the no-candidates outcome rather
// than a hard error.
func (e *Engine) embedQuery(ctx context.Context, searchText string) []float32 {
	if e.storeEmbeds {
		return nil
	}
	vector, err := e.embedder.Embed(ctx, searchText)
	if err != nil {
		if reqCtx, ok := observability.FromContext(ctx); ok {
			reqCtx.Warn("query embedding failed, degrading to no candidates",
				slog.String("error", err.Error()))
		} else {
			slog.Warn("query embedding failed, degrading to no candidates",
				slog.String("error", err.Error()))
		}
		return nil
	}
	return vector
}

// writeQueryLog appends the audit entry for one retrieval call. Best-effort:
// a persistence failure is logged and never changes the returned result.
func (e *Engine) writeQueryLog(ctx context.Context, query string, userContext *string, searchText string, vector []float32, clarificationNeeded bool, selectedJokeID *int32, score float32) {
	_, err := e.store.CreateQueryLog(ctx, &store.QueryLog{
		Query:               query,
		Context:             userContext,
		SearchText:          searchText,
		Embedding:           vector,
		ClarificationNeeded: clarificationNeeded,
		SelectedJokeID:      selectedJokeID,
		Score:               score,
	})
	if err != nil {
		slog.Warn("failed to write query log",
			slog.String("query", query),
			slog.String("error", err.Error()))
	}
}

func composeSearchText(query string, userContext *string) string {
	if userContext != nil && *userContext != "" {
		return query + " " + *userContext
	}
	return query
}

// containsFold reports whether the query lexically overlaps the text,
// case-insensitively. The whole query rarely appears verbatim ("chicken joke"
// vs "Why did the chicken cross the road?"), so any single query token
// occurring in the text counts as overlap too.
func containsFold(text, query string) bool {
	text = strings.ToLower(text)
	query = strings.ToLower(query)
	if strings.Contains(text, query) {
		return true
	}
	for _, token := range strings.Fields(query) {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func toMatchResult(joke *store.Joke, score float32) *MatchResult {
	tags := make([]string, 0, len(joke.Tags))
	for _, tag := range joke.Tags {
		tags = append(tags, tag.Name)
	}
	return &MatchResult{
		ID:       joke.ID,
		Text:     joke.Text,
		Category: joke.Category,
		Source:   joke.Source,
		Tags:     tags,
		Score:    score,
	}
}

func noMatchResult(text, prompt string) *MatchResult {
	return &MatchResult{
		ID:                  NoMatchJokeID,
		Text:                text,
		Category:            NoMatchCategory,
		Tags:                []string{},
		Score:               0,
		ClarificationNeeded: true,
		ClarificationPrompt: prompt,
	}
}
