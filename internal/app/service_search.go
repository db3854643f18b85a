package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"voxium/internal/auth"
	"voxium/internal/rbac"
	"voxium/internal/search"
	"voxium/internal/store"
)

const (
	defaultSearchLimit = 80
	maxSearchLimit     = 200
	dateOnly           = "2006-01-02"
)

// SearchInput carries the raw query string values of a search request.
type SearchInput struct {
	Query  string
	Author string
	RoomID string
	From   string
	To     string
	Limit  string
}

// SearchMessages returns messages matching every non-blank filter, newest
// first, restricted to rooms the caller can read.
func (s *Service) SearchMessages(ctx context.Context, claims auth.Claims, input SearchInput) ([]store.Message, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	filter, err := parseSearchInput(input)
	if err != nil {
		return nil, err
	}
	if filter.RoomID != "" {
		if _, err := s.accessibleRoom(ctx, claims, filter.RoomID); err != nil {
			return nil, err
		}
	}
	filter.ViewerRole = claims.Role
	filter.Admin = rbac.IsAdmin(claims.Role)

	messages, ok, err := s.searchIndex(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !ok {
		messages, err = s.store.SearchMessages(ctx, filter)
		if err != nil {
			return nil, s.storeFailure("search messages", err, "")
		}
	}
	return s.enrich(ctx, messages)
}

// searchIndex uses the message index to narrow the time window of the SQL
// search. Index hits are rechecked with the full filter; the newest
// filter.Limit SQL matches all lie at or after the oldest confirmed hit, so the
// narrowed search returns the same rows as a full scan. ok is false when the
// index cannot confirm a full page and the caller must scan.
func (s *Service) searchIndex(ctx context.Context, filter store.SearchFilter) ([]store.Message, bool, error) {
	if s.index == nil || filter.Content == "" || filter.Author != "" {
		return nil, false, nil
	}
	ids, ok := s.index.SearchIDs(search.Query{
		Text:       filter.Content,
		RoomID:     filter.RoomID,
		ViewerRole: filter.ViewerRole,
		Admin:      filter.Admin,
		From:       filter.From,
		To:         filter.To,
		Limit:      filter.Limit,
	})
	if !ok || len(ids) < filter.Limit {
		return nil, false, nil
	}

	confirm := filter
	confirm.IDs = ids
	hits, err := s.store.SearchMessages(ctx, confirm)
	if err != nil {
		return nil, false, s.storeFailure("confirm indexed messages", err, "")
	}
	if len(hits) < filter.Limit {
		return nil, false, nil
	}

	oldest := hits[len(hits)-1].CreatedAt
	narrowed := filter
	if narrowed.From == nil || narrowed.From.Before(oldest) {
		narrowed.From = &oldest
	}
	messages, err := s.store.SearchMessages(ctx, narrowed)
	if err != nil {
		return nil, false, s.storeFailure("search messages", err, "")
	}
	return messages, true, nil
}

func parseSearchInput(input SearchInput) (store.SearchFilter, error) {
	filter := store.SearchFilter{
		RoomID:  strings.TrimSpace(input.RoomID),
		Content: strings.TrimSpace(input.Query),
		Author:  strings.TrimSpace(input.Author),
		Limit:   defaultSearchLimit,
	}

	if raw := strings.TrimSpace(input.Limit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return store.SearchFilter{}, errInvalidInput("limit must be an integer", map[string]string{"limit": raw})
		}
		filter.Limit = min(max(limit, 1), maxSearchLimit)
	}

	from, err := parseBound(input.From, false)
	if err != nil {
		return store.SearchFilter{}, errInvalidInput("from must be YYYY-MM-DD or RFC3339", map[string]string{"from": input.From})
	}
	to, err := parseBound(input.To, true)
	if err != nil {
		return store.SearchFilter{}, errInvalidInput("to must be YYYY-MM-DD or RFC3339", map[string]string{"to": input.To})
	}
	filter.From = from
	filter.To = to
	return filter, nil
}

// parseBound accepts a date, widened to the start or end of that UTC day, or
// a full RFC3339 timestamp.
func parseBound(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if day, err := time.Parse(dateOnly, raw); err == nil {
		if endOfDay {
			day = day.Add(24*time.Hour - time.Microsecond)
		}
		return &day, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return &ts, nil
}
