package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// foreignKeyViolation is the SQLSTATE raised when a reaction references a
// message deleted concurrently.
const foreignKeyViolation = "23503"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var room Room
	err := s.db.QueryRowContext(ctx, `SELECT id, name, required_role FROM rooms WHERE id=$1`, roomID).
		Scan(&room.ID, &room.Name, &room.RequiredRole)
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

// ListRoomMessages returns the first limit messages of a room, oldest first.
func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.room_id = $1
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list room messages: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("scan room messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) ListPinnedMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.room_id = $1 AND m.pinned_at IS NOT NULL
		ORDER BY m.pinned_at DESC, m.id DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pinned messages: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("scan pinned messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` `+messageFrom+` WHERE m.id = $1`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// GetMessageRoom joins a message to its room. A message whose room row is
// gone is treated as living in an open room.
func (s *PostgresStore) GetMessageRoom(ctx context.Context, messageID string) (MessageRoom, error) {
	var (
		info     MessageRoom
		imageURL sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.room_id, m.user_id, COALESCE(r.required_role, 'user'), m.image_url
		FROM messages m
		LEFT JOIN rooms r ON r.id = m.room_id
		WHERE m.id = $1
	`, messageID).Scan(&info.MessageID, &info.RoomID, &info.OwnerID, &info.RequiredRole, &imageURL)
	if err != nil {
		return MessageRoom{}, fmt.Errorf("get message room: %w", err)
	}
	info.ImageURL = optionalString(imageURL)
	return info, nil
}

func (s *PostgresStore) SearchMessages(ctx context.Context, filter SearchFilter) ([]Message, error) {
	query, args := searchQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("scan search messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, user_id, username, content, reply_to_id, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.RoomID, msg.UserID, msg.Username, msg.Content,
		nullableString(msg.ReplyToID), nullableString(msg.ImageURL), msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return s.GetMessage(ctx, msg.ID)
}

// DeleteMessage removes the reaction edges of a message, then the message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1`, messageID); err != nil {
		return fmt.Errorf("delete message reactions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(res, "delete message")
}

// AddReaction is idempotent: adding an existing edge is a no-op.
func (s *PostgresStore) AddReaction(ctx context.Context, edge ReactionEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, edge.MessageID, edge.UserID, edge.Emoji, edge.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("add reaction: %w", sql.ErrNoRows)
		}
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, edge ReactionEdge) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3
	`, edge.MessageID, edge.UserID, edge.Emoji)
	if err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// ListReactionUsers returns who reacted with emoji, in reaction order.
func (s *PostgresStore) ListReactionUsers(ctx context.Context, messageID, emoji string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM message_reactions
		WHERE message_id=$1 AND emoji=$2
		ORDER BY created_at ASC, user_id ASC
	`, messageID, emoji)
	if err != nil {
		return nil, fmt.Errorf("list reaction users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan reaction user: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction users: %w", err)
	}
	return users, nil
}

// ListReactionEdges fetches every edge of the given messages in one query.
// Malformed rows are returned as is; callers decide whether to skip them.
func (s *PostgresStore) ListReactionEdges(ctx context.Context, messageIDs []string) ([]ReactionEdge, error) {
	if len(messageIDs) == 0 {
		return []ReactionEdge{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC, user_id ASC
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reaction edges: %w", err)
	}
	defer rows.Close()

	edges := make([]ReactionEdge, 0)
	for rows.Next() {
		edge, err := scanReactionEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reaction edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction edges: %w", err)
	}
	return edges, nil
}

func (s *PostgresStore) PinMessage(ctx context.Context, messageID, pinnedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET pinned_at=$2, pinned_by=$3 WHERE id=$1`, messageID, at, pinnedBy)
	if err != nil {
		return fmt.Errorf("pin message: %w", err)
	}
	return requireAffected(res, "pin message")
}

func (s *PostgresStore) UnpinMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET pinned_at=NULL, pinned_by=NULL WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("unpin message: %w", err)
	}
	return requireAffected(res, "unpin message")
}

// PurgeUserMessages deletes every message authored by userID and returns what
// was removed so attached files can be cleaned up.
func (s *PostgresStore) PurgeUserMessages(ctx context.Context, userID string) ([]PurgedMessage, error) {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id IN (SELECT id FROM messages WHERE user_id=$1)
	`, userID); err != nil {
		return nil, fmt.Errorf("purge reactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `DELETE FROM messages WHERE user_id=$1 RETURNING id, room_id, image_url`, userID)
	if err != nil {
		return nil, fmt.Errorf("purge messages: %w", err)
	}
	defer rows.Close()

	purged := make([]PurgedMessage, 0)
	for rows.Next() {
		var (
			item     PurgedMessage
			imageURL sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.RoomID, &imageURL); err != nil {
			return nil, fmt.Errorf("scan purged message: %w", err)
		}
		item.ImageURL = optionalString(imageURL)
		purged = append(purged, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged messages: %w", err)
	}
	return purged, nil
}

// ListIndexRecords streams every message with its room's required role, for
// rebuilding the search index.
func (s *PostgresStore) ListIndexRecords(ctx context.Context) ([]IndexRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.user_id, COALESCE(m.username, ''), COALESCE(m.content, ''),
			COALESCE(r.required_role, 'user'), m.created_at
		FROM messages m
		LEFT JOIN rooms r ON r.id = m.room_id
		ORDER BY m.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list index records: %w", err)
	}
	defer rows.Close()

	records := make([]IndexRecord, 0)
	for rows.Next() {
		var rec IndexRecord
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.UserID, &rec.Username, &rec.Content, &rec.RequiredRole, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index records: %w", err)
	}
	return records, nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
