package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const conversationCols = `id, profile_id, title, started_at, updated_at`

func scanConversation(scanner interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	err := scanner.Scan(&c.ID, &c.ProfileID, &c.Title, &c.StartedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ConversationStore) Create(profileID int64, title string) (*model.Conversation, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityConversations)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO conversations (id, profile_id, title, row_version) VALUES (?, ?, ?, ?)`,
		id, profileID, title, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	if err := clearTombstone(tx, model.EntityConversations, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// GetByID returns the conversation with its messages loaded.
func (s *ConversationStore) GetByID(id string) (*model.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.Messages, err = s.listMessages(s.db, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ConversationStore) ListByProfile(profileID int64) ([]model.Conversation, error) {
	return s.listWhere(s.db, `profile_id = ?`, profileID)
}

func (s *ConversationStore) ListChanged(q Querier, profileID, since int64) ([]model.Conversation, error) {
	return s.listWhere(q, `profile_id = ? AND row_version > ?`, profileID, since)
}

func (s *ConversationStore) listWhere(q Querier, where string, args ...any) ([]model.Conversation, error) {
	rows, err := q.Query(`SELECT `+conversationCols+` FROM conversations WHERE `+where+` ORDER BY updated_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	for i := range convs {
		convs[i].Messages, err = s.listMessages(q, convs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// AppendMessage adds a turn to a conversation. Messages are a dependent table
// of the conversations collection: the conversations counter bumps and the
// owning thread is touched so delta sync resends it whole.
func (s *ConversationStore) AppendMessage(conversationID string, role model.MessageRole, content string) (*model.Message, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityConversations)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content) VALUES (?, ?, ?, ?)`,
		id, conversationID, role, content,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	_, err = tx.Exec(
		`UPDATE conversations SET row_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		v, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	var m model.Message
	err = s.db.QueryRow(
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

func (s *ConversationStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRow(`DELETE FROM conversations WHERE id = ? RETURNING profile_id`, id).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	v, err := bumpVersion(tx, model.EntityConversations)
	if err != nil {
		return err
	}
	if err := logDeletion(tx, model.EntityConversations, profileID, id, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *ConversationStore) listMessages(q Querier, conversationID string) ([]model.Message, error) {
	rows, err := q.Query(
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
