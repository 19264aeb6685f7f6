package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/types"
)

// txn wraps a *sql.Tx and implements storage.Tx.
type txn struct {
	tx *sql.Tx
}

var _ storage.Tx = (*txn)(nil)

// InTx runs fn inside a single transaction. The transaction is rolled
// back when fn returns an error or panics, committed otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&txn{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// InsertCommit stores a commit if (mapping_id, sha) is absent. Replaying
// a page that was already stored affects zero rows.
func (t *txn) InsertCommit(ctx context.Context, c *types.Commit) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO commits (mapping_id, sha, author_name, author_email, message,
		                     additions, deletions, files_changed, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mapping_id, sha) DO NOTHING`,
		c.MappingID, c.SHA, c.AuthorName, c.AuthorEmail, c.Message,
		c.Additions, c.Deletions, c.FilesChanged, c.CommittedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert commit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert commit: rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *txn) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error) {
	return updateTaskStatus(ctx, t.tx, taskID, status)
}
