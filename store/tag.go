package store

import (
	"context"
)

// Tag is a label attached to jokes. Names are unique and matched exactly;
// case-insensitive matching would be an extension of the driver lookup.
type Tag struct {
	ID   int32
	Name string
}

// FindTag is the find condition for tags.
type FindTag struct {
	ID   *int32
	Name *string
}

// ResolveTags looks up each name and creates missing tags, returning one Tag
// per distinct input name. Resolving the same name repeatedly never creates
// duplicates.
func (s *Store) ResolveTags(ctx context.Context, names []string) ([]*Tag, error) {
	tags := make([]*Tag, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		tag, err := s.driver.UpsertTag(ctx, name)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// ListTags lists tags matching the find condition.
func (s *Store) ListTags(ctx context.Context, find *FindTag) ([]*Tag, error) {
	return s.driver.ListTags(ctx, find)
}

// SetJokeTags replaces the joke's tag set with the given tags. Replacement
// (clear then re-attach) keeps "add" and "re-import" flows consistent.
func (s *Store) SetJokeTags(ctx context.Context, jokeID int32, tags []*Tag) error {
	tagIDs := make([]int32, len(tags))
	for i, tag := range tags {
		tagIDs[i] = tag.ID
	}
	return s.driver.SetJokeTags(ctx, jokeID, tagIDs)
}
