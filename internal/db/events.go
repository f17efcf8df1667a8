package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uho-indexer/uho/internal/schema"
	"github.com/uho-indexer/uho/internal/uhoerrors"
)

// EventRow is one decoded row read back from a tenant's event table,
// shaped for the listEvents/getEventByTx outbound operation (§6):
// metadata columns named explicitly, decoded fields folded into Data.
type EventRow struct {
	Slot         uint64
	BlockTime    *time.Time
	TxSignature  string
	IxIndex      int
	InnerIxIndex *int
	IndexedAt    time.Time
	Data         map[string]any
}

// OrderDirection is asc or desc on one of the four orderable columns
// named in §6.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

var orderableColumns = map[string]bool{
	"slot":         true,
	"block_time":   true,
	"tx_signature": true,
	"indexed_at":   true,
}

// EventFilter narrows a listEvents call per §6: a slot range, a
// block_time range, and equality on any known column. OrderBy must be
// one of the four orderable columns; it defaults to "slot".
type EventFilter struct {
	SlotFrom  *uint64
	SlotTo    *uint64
	From      *time.Time
	To        *time.Time
	Equals    map[string]any
	OrderBy   string
	Direction OrderDirection
	Limit     int
	Offset    int
}

// ListEvents runs a filtered, paged read against namespace's
// `{program}_{event}` table. Every identifier (table, column names) is
// validated against schema.ValidIdentifier before being interpolated —
// Postgres has no bind-parameter syntax for identifiers, so values are
// always bound as $N while names are validated-then-interpolated,
// mirroring the compiler's own quoteIdent discipline.
func (p *Pool) ListEvents(ctx context.Context, namespace, programName, eventName string, filter EventFilter) ([]EventRow, error) {
	table := schema.EventTableName(programName, eventName)
	if !schema.ValidIdentifier(table) {
		return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid table name %q", table)
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = "slot"
	}
	if !orderableColumns[orderBy] {
		return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "column %q is not orderable", orderBy)
	}
	dir := filter.Direction
	if dir == "" {
		dir = OrderAsc
	}
	if dir != OrderAsc && dir != OrderDesc {
		return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid order direction %q", dir)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	where, args := buildEventWhere(filter)

	query := fmt.Sprintf(
		`SELECT slot, block_time, tx_signature, ix_index, inner_ix_index, indexed_at, row_to_json(t) FROM %q t %s ORDER BY %q %s LIMIT $%d OFFSET $%d`,
		table, where, orderBy, strings.ToUpper(string(dir)), len(args)+1, len(args)+2,
	)
	args = append(args, limit, filter.Offset)

	var out []EventRow
	err := p.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scanEventRow(rows)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEventByTx returns every row in table matching txSignature, in
// ix_index order — a transaction can carry more than one instance of
// the same event across its instructions.
func (p *Pool) GetEventByTx(ctx context.Context, namespace, programName, eventName, txSignature string) ([]EventRow, error) {
	table := schema.EventTableName(programName, eventName)
	if !schema.ValidIdentifier(table) {
		return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid table name %q", table)
	}

	query := fmt.Sprintf(
		`SELECT slot, block_time, tx_signature, ix_index, inner_ix_index, indexed_at, row_to_json(t) FROM %q t WHERE tx_signature = $1 ORDER BY ix_index ASC`,
		table,
	)

	var out []EventRow
	err := p.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, txSignature)
		if err != nil {
			return fmt.Errorf("get event by tx: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scanEventRow(rows)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountEvents returns the total row count for table, ignoring paging.
func (p *Pool) CountEvents(ctx context.Context, namespace, programName, eventName string) (int64, error) {
	table := schema.EventTableName(programName, eventName)
	if !schema.ValidIdentifier(table) {
		return 0, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid table name %q", table)
	}

	var count int64
	err := p.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %q`, table)).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// TxLogs is one row of the `_tx_logs` raw retention table, giving a
// deep-dive read path over the log lines a transaction actually emitted
// (§5.1's supplemented raw-log retention feature).
type TxLogs struct {
	Slot        uint64
	LogMessages []string
}

// GetTxLogs reads the retained raw log lines for txSignature, grounded
// on the teacher's raw-payload retention idiom generalized from whole
// blocks to a single transaction's log lines.
func (p *Pool) GetTxLogs(ctx context.Context, namespace, txSignature string) (*TxLogs, error) {
	var logs TxLogs
	var raw []byte
	err := p.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `SELECT slot, log_messages FROM "_tx_logs" WHERE tx_signature = $1`, txSignature).
			Scan(&logs.Slot, &raw)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, uhoerrors.NewNotFoundError("tx_logs", txSignature)
		}
		return nil, fmt.Errorf("get tx logs: %w", err)
	}
	if err := json.Unmarshal(raw, &logs.LogMessages); err != nil {
		return nil, err
	}
	return &logs, nil
}

func buildEventWhere(filter EventFilter) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SlotFrom != nil {
		conds = append(conds, "slot >= "+next(*filter.SlotFrom))
	}
	if filter.SlotTo != nil {
		conds = append(conds, "slot <= "+next(*filter.SlotTo))
	}
	if filter.From != nil {
		conds = append(conds, "block_time >= "+next(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "block_time <= "+next(*filter.To))
	}
	for col, val := range filter.Equals {
		if !schema.ValidIdentifier(col) {
			continue
		}
		conds = append(conds, fmt.Sprintf("%q = ", col)+next(val))
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanEventRow(rows pgx.Rows) (EventRow, error) {
	var row EventRow
	var raw []byte
	if err := rows.Scan(&row.Slot, &row.BlockTime, &row.TxSignature, &row.IxIndex, &row.InnerIxIndex, &row.IndexedAt, &raw); err != nil {
		return EventRow{}, err
	}
	row.Data = make(map[string]any)
	if err := json.Unmarshal(raw, &row.Data); err != nil {
		return EventRow{}, err
	}
	return row, nil
}
