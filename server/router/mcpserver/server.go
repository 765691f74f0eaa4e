// Package mcpserver exposes the retrieval engine over the Model Context
// Protocol: tools for retrieval, insertion and feedback, plus read-only
// resources for direct joke access. The same server instance can be served
// over stdio or mounted as a streamable HTTP handler.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	jokeerr "github.com/mirthlab/jokebox/internal/errors"
	"github.com/mirthlab/jokebox/internal/observability"
	"github.com/mirthlab/jokebox/server/retrieval"
	"github.com/mirthlab/jokebox/store"
)

const serverName = "jokebox"

// JokeResponse is the wire shape of a joke returned by tools and resources.
type JokeResponse struct {
	ID                  int32    `json:"id"`
	Text                string   `json:"text"`
	Category            string   `json:"category,omitempty"`
	Source              *string  `json:"source,omitempty"`
	SimilarityScore     float32  `json:"similarity_score"`
	Tags                []string `json:"tags"`
	ClarificationNeeded bool     `json:"clarification_needed,omitempty"`
	ClarificationPrompt string   `json:"clarification_prompt,omitempty"`
}

// GetJokeArgs are the arguments of the get_joke tool.
type GetJokeArgs struct {
	Query   string  `json:"query"`
	Context *string `json:"context,omitempty"`
}

// GetJokesArgs are the arguments of the get_jokes tool.
type GetJokesArgs struct {
	Query   string  `json:"query"`
	Limit   int     `json:"limit,omitempty"`
	Context *string `json:"context,omitempty"`
}

// AddJokeArgs are the arguments of the add_joke tool.
type AddJokeArgs struct {
	Text     string   `json:"text"`
	Category string   `json:"category,omitempty"`
	Source   *string  `json:"source,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// RecordFeedbackArgs are the arguments of the record_feedback tool.
type RecordFeedbackArgs struct {
	JokeID  int32   `json:"joke_id"`
	Liked   bool    `json:"liked"`
	UserID  string  `json:"user_id,omitempty"`
	Comment *string `json:"comment,omitempty"`
}

// FeedbackResponse is the wire shape of a record_feedback result.
type FeedbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewServer builds the MCP server with all tools and resources registered.
func NewServer(engine *retrieval.Engine, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_joke",
		Description: "Get a single joke matching the query. A low-confidence match carries a clarification prompt instead of being presented as authoritative.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args GetJokeArgs) (*mcp.CallToolResult, any, error) {
		result, err := engine.RetrieveOne(ctx, args.Query, args.Context)
		if err != nil {
			logToolError("get_joke", err)
			return nil, nil, err
		}
		return nil, toJokeResponse(result), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_jokes",
		Description: "Get up to limit jokes matching the query, each with its own similarity score and clarification flag.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args GetJokesArgs) (*mcp.CallToolResult, any, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}
		results, err := engine.RetrieveMany(ctx, args.Query, args.Context, limit)
		if err != nil {
			logToolError("get_jokes", err)
			return nil, nil, err
		}
		jokes := make([]*JokeResponse, 0, len(results))
		for _, result := range results {
			jokes = append(jokes, toJokeResponse(result))
		}
		return nil, map[string]any{"jokes": jokes}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_joke",
		Description: "Add a joke to the corpus, or update it when one with the same text already exists. Tags replace the existing tag set.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args AddJokeArgs) (*mcp.CallToolResult, any, error) {
		joke, err := engine.AddJoke(ctx, args.Text, args.Category, args.Source, args.Tags)
		if err != nil {
			logToolError("add_joke", err)
			return nil, nil, err
		}
		response := jokeToResponse(joke)
		// A freshly added joke is a perfect match for itself.
		response.SimilarityScore = 1.0
		return nil, response, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_feedback",
		Description: "Record a like/dislike signal for a joke by id.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args RecordFeedbackArgs) (*mcp.CallToolResult, any, error) {
		_, err := engine.RecordFeedback(ctx, args.JokeID, args.Liked, args.UserID, args.Comment)
		if err != nil {
			if jokeerr.IsCode(err, jokeerr.ErrCodeNotFound) {
				return nil, FeedbackResponse{Success: false, Message: err.Error()}, nil
			}
			logToolError("record_feedback", err)
			return nil, nil, err
		}
		return nil, FeedbackResponse{Success: true, Message: "Feedback recorded successfully"}, nil
	})

	server.AddResource(&mcp.Resource{
		URI:         "jokes://random",
		Name:        "random_joke",
		Description: "A uniformly sampled joke from the corpus.",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		joke, err := engine.GetRandom(ctx)
		if err != nil {
			return nil, err
		}
		if joke == nil {
			return nil, fmt.Errorf("the joke corpus is empty")
		}
		return resourceResult(req.Params.URI, jokeToResponse(joke))
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "jokes://{id}",
		Name:        "joke_by_id",
		Description: "A single joke fetched by its numeric id.",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		id, err := parseJokeURI(req.Params.URI)
		if err != nil {
			return nil, err
		}
		joke, err := engine.GetJoke(ctx, id)
		if err != nil {
			return nil, err
		}
		return resourceResult(req.Params.URI, jokeToResponse(joke))
	})

	return server
}

// logToolError records a failed tool call with its taxonomy code.
func logToolError(tool string, err error) {
	slog.Warn("tool call failed",
		slog.String("tool", tool),
		slog.String(observability.LogFieldErrorCode,
			string(jokeerr.GetCodeFromError(err, jokeerr.ErrCodeInternal))),
		slog.String("error", err.Error()))
}

// parseJokeURI extracts the numeric id from a jokes://{id} URI.
func parseJokeURI(uri string) (int32, error) {
	raw, ok := strings.CutPrefix(uri, "jokes://")
	if !ok {
		return 0, fmt.Errorf("unsupported resource uri: %s", uri)
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, jokeerr.InvalidArgument(fmt.Sprintf("invalid joke id %q", raw))
	}
	return int32(id), nil
}

func resourceResult(uri string, response *JokeResponse) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

func toJokeResponse(result *retrieval.MatchResult) *JokeResponse {
	return &JokeResponse{
		ID:                  result.ID,
		Text:                result.Text,
		Category:            result.Category,
		Source:              result.Source,
		SimilarityScore:     result.Score,
		Tags:                result.Tags,
		ClarificationNeeded: result.ClarificationNeeded,
		ClarificationPrompt: result.ClarificationPrompt,
	}
}

func jokeToResponse(joke *store.Joke) *JokeResponse {
	tags := make([]string, 0, len(joke.Tags))
	for _, tag := range joke.Tags {
		tags = append(tags, tag.Name)
	}
	return &JokeResponse{
		ID:       joke.ID,
		Text:     joke.Text,
		Category: joke.Category,
		Source:   joke.Source,
		Tags:     tags,
	}
}
