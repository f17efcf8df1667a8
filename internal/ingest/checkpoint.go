package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Checkpoint mirrors one row of the per-tenant `_uho_state` table (§3):
// the Poller's resume point for one program id.
type Checkpoint struct {
	ProgramID           string
	LastSlot            uint64
	LastSignature       string
	EventsIndexed       int64
	InstructionsIndexed int64
	Status              string
	StartedAt           *time.Time
	LastPollAt          *time.Time
	Error               *string
}

// EnsureCheckpoint inserts a fresh stopped-state row for programID if one
// does not already exist, then returns the current row. Two pollers
// racing to create the same row collide on the primary key; per §4.6 the
// collision is absorbed by ON CONFLICT DO NOTHING and the winner's row is
// read back rather than failing the caller.
func (w *Writer) EnsureCheckpoint(ctx context.Context, namespace, programID string) (*Checkpoint, error) {
	var cp *Checkpoint
	err := w.pool.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO "_uho_state" (program_id, status) VALUES ($1, 'stopped')
			ON CONFLICT (program_id) DO NOTHING`, programID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// lost the race; fall through to read the winner's row
			} else {
				return fmt.Errorf("ensure checkpoint: %w", err)
			}
		}
		cp, err = scanCheckpoint(ctx, conn, programID)
		return err
	})
	return cp, err
}

// GetCheckpoint reads the current checkpoint row for programID.
func (w *Writer) GetCheckpoint(ctx context.Context, namespace, programID string) (*Checkpoint, error) {
	var cp *Checkpoint
	err := w.pool.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		cp, err = scanCheckpoint(ctx, conn, programID)
		return err
	})
	return cp, err
}

func scanCheckpoint(ctx context.Context, conn *pgxpool.Conn, programID string) (*Checkpoint, error) {
	var cp Checkpoint
	var lastSig *string
	err := conn.QueryRow(ctx, `
		SELECT program_id, last_slot, last_signature, events_indexed, instructions_indexed, status, started_at, last_poll_at, error
		FROM "_uho_state" WHERE program_id = $1`, programID).
		Scan(&cp.ProgramID, &cp.LastSlot, &lastSig, &cp.EventsIndexed, &cp.InstructionsIndexed, &cp.Status, &cp.StartedAt, &cp.LastPollAt, &cp.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Checkpoint{ProgramID: programID, Status: "stopped"}, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if lastSig != nil {
		cp.LastSignature = *lastSig
	}
	return &cp, nil
}

// ResetCheckpoint deletes programID's checkpoint row in namespace,
// forcing the next EnsureCheckpoint call to start a fresh backward scan
// from the program's current slot. Grounded on the teacher's
// cmd/tools/reset_checkpoint one-shot DELETE, generalized from the
// teacher's single flat indexing_checkpoints table to a per-tenant
// `_uho_state` row. Reports whether a row was actually deleted.
func (w *Writer) ResetCheckpoint(ctx context.Context, namespace, programID string) (bool, error) {
	var deleted bool
	err := w.pool.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM "_uho_state" WHERE program_id = $1`, programID)
		if err != nil {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	return deleted, err
}

// UpdateCheckpoint advances the checkpoint row after a successful batch
// (§4.5 step 5, §4.6).
func (w *Writer) UpdateCheckpoint(ctx context.Context, namespace string, cp Checkpoint) error {
	return w.pool.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE "_uho_state"
			SET last_slot = $2, last_signature = $3, events_indexed = $4, instructions_indexed = $5, status = $6, last_poll_at = now(), error = $7
			WHERE program_id = $1`,
			cp.ProgramID, cp.LastSlot, cp.LastSignature, cp.EventsIndexed, cp.InstructionsIndexed, cp.Status, cp.Error,
		)
		return err
	})
}

// SetCheckpointStatus transitions status alone, used on pause/resume/error
// without disturbing the slot/signature cursor.
func (w *Writer) SetCheckpointStatus(ctx context.Context, namespace, programID, status string, errMsg *string) error {
	return w.pool.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		if status == "running" {
			_, err = conn.Exec(ctx, `UPDATE "_uho_state" SET status = $2, started_at = now(), error = NULL WHERE program_id = $1`, programID, status)
		} else {
			_, err = conn.Exec(ctx, `UPDATE "_uho_state" SET status = $2, error = $3 WHERE program_id = $1`, programID, status, errMsg)
		}
		return err
	})
}
