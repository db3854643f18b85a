package store

import (
	"strconv"
	"strings"
	"time"
)

// predicate is one WHERE fragment. Each "?" in clause is bound to the next
// value of args, in order.
type predicate struct {
	clause string
	args   []any
}

type selectQuery struct {
	base    string
	where   []predicate
	orderBy string
	limit   int
}

func newSelect(base string) *selectQuery {
	return &selectQuery{base: base}
}

func (q *selectQuery) and(clause string, args ...any) *selectQuery {
	q.where = append(q.where, predicate{clause: clause, args: args})
	return q
}

// whereIf adds the predicate only when ok holds.
func (q *selectQuery) whereIf(ok bool, clause string, args ...any) *selectQuery {
	if !ok {
		return q
	}
	return q.and(clause, args...)
}

func (q *selectQuery) order(orderBy string) *selectQuery {
	q.orderBy = orderBy
	return q
}

func (q *selectQuery) limitTo(limit int) *selectQuery {
	q.limit = limit
	return q
}

// build renders the statement with Postgres $n placeholders and the matching
// argument list.
func (q *selectQuery) build() (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(q.where)+1)
	sb.WriteString(q.base)

	for i, pred := range q.where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = appendClause(&sb, pred, args)
	}
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	if q.limit > 0 {
		args = append(args, q.limit)
		sb.WriteString(" LIMIT $")
		sb.WriteString(strconv.Itoa(len(args)))
	}
	return sb.String(), args
}

func appendClause(sb *strings.Builder, pred predicate, args []any) []any {
	next := 0
	for _, r := range pred.clause {
		if r != '?' {
			sb.WriteRune(r)
			continue
		}
		args = append(args, pred.args[next])
		next++
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(len(args)))
	}
	return args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching value as a literal substring.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}

// searchQuery composes the message search statement. Every filter predicate is
// only added when its argument is present and non-blank.
func searchQuery(filter SearchFilter) (string, []any) {
	content := strings.TrimSpace(filter.Content)
	author := strings.TrimSpace(filter.Author)
	roomID := strings.TrimSpace(filter.RoomID)

	q := newSelect(`SELECT `+messageColumns+` `+messageFrom+` JOIN rooms r ON r.id = m.room_id`).
		whereIf(!filter.Admin, `(r.required_role = 'user' OR r.required_role = ?)`, filter.ViewerRole).
		whereIf(len(filter.IDs) > 0, `m.id = ANY(?)`, filter.IDs).
		whereIf(roomID != "", `m.room_id = ?`, roomID).
		whereIf(content != "", `m.content ILIKE ?`, containsPattern(content)).
		whereIf(author != "", `m.username ILIKE ?`, containsPattern(author)).
		whereIf(filter.From != nil, `m.created_at >= ?`, derefTime(filter.From)).
		whereIf(filter.To != nil, `m.created_at <= ?`, derefTime(filter.To)).
		order(`m.created_at DESC, m.id DESC`).
		limitTo(filter.Limit)
	return q.build()
}

func derefTime(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return *value
}
