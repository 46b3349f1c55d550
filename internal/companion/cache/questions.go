package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeferredQuestion is something the user wants to ask at their next
// appointment. Questions are local to the companion and never synced.
type DeferredQuestion struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	CreatedAt time.Time  `json:"created_at"`
	AskedAt   *time.Time `json:"asked_at,omitempty"`
}

// AddQuestion records a question for the next appointment.
func (c *Cache) AddQuestion(question string) (*DeferredQuestion, error) {
	q := &DeferredQuestion{
		ID:        uuid.NewString(),
		Question:  question,
		CreatedAt: time.Now().UTC(),
	}
	_, err := c.db.Exec(
		`INSERT INTO deferred_questions (id, question, created_at) VALUES (?, ?, ?)`,
		q.ID, q.Question, q.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

// PendingQuestions lists questions not yet marked asked, oldest first.
func (c *Cache) PendingQuestions() ([]DeferredQuestion, error) {
	rows, err := c.db.Query(
		`SELECT id, question, created_at, asked_at FROM deferred_questions
		 WHERE asked_at IS NULL ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []DeferredQuestion
	for rows.Next() {
		var q DeferredQuestion
		if err := rows.Scan(&q.ID, &q.Question, &q.CreatedAt, &q.AskedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// MarkAsked stamps the given questions as asked, in one transaction.
func (c *Cache) MarkAsked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.Exec(
			`UPDATE deferred_questions SET asked_at = ? WHERE id = ? AND asked_at IS NULL`,
			now, id,
		); err != nil {
			return fmt.Errorf("mark asked: %w", err)
		}
	}
	return tx.Commit()
}

// ClearAsked deletes the given questions, provided they were already marked
// asked. Unknown and still-pending ids are left alone.
func (c *Cache) ClearAsked(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := c.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int64
	for _, id := range ids {
		res, err := tx.Exec(
			`DELETE FROM deferred_questions WHERE id = ? AND asked_at IS NOT NULL`, id,
		)
		if err != nil {
			return 0, fmt.Errorf("clear asked question: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("cleared rows affected: %w", err)
		}
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}
	return n, nil
}
