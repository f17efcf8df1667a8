// Package ingest implements the Poller (C5) and Writer (C6): the per
// (tenant, program) pipeline that walks new signatures, decodes them,
// and lands rows idempotently in the tenant's namespace before fanning
// them out. Grounded on the teacher's internal/ingester NetworkPoller
// (ticker loop shape) and internal/repository/postgres.go (batched
// transactional upserts with ON CONFLICT DO NOTHING).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/decode"
	"github.com/uho-indexer/uho/internal/fanout"
	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/schema"
	"github.com/uho-indexer/uho/internal/uhoerrors"
)

// Writer lands decoded rows for one tenant namespace inside a single
// transaction per batch, then fans out one notification per row actually
// inserted (§4.6).
type Writer struct {
	pool   *db.Pool
	bus    *fanout.Bus
	logger zerolog.Logger
}

func NewWriter(pool *db.Pool, bus *fanout.Bus) *Writer {
	return &Writer{pool: pool, bus: bus, logger: log.With().Str("component", "writer").Logger()}
}

// BatchStats summarizes one WriteBatch call for the poller/backfill
// manager's progress counters.
type BatchStats struct {
	EventsWritten       int64
	InstructionsWritten int64
	TransfersWritten    int64
	BalanceDeltasWritten int64
	UnknownColumns      int64
}

// RawTxLog is one transaction's raw log lines, retained verbatim
// alongside the decoded rows so a caller can deep-dive a transaction
// that produced no recognized event or instruction (§5.1's supplemented
// raw-log retention feature).
type RawTxLog struct {
	Slot        uint64
	TxSignature string
	LogMessages []string
}

// WriteBatch inserts every row decoded from one poll tick (or one
// backfill page) inside a single transaction, then publishes a fanout
// message per row that was newly inserted (conflicts are not
// re-broadcast, per §4.8). rawLogs is retained into `_tx_logs` in the
// same transaction so the deep-dive read path never observes a
// decoded row without its source log lines.
func (w *Writer) WriteBatch(ctx context.Context, namespace string, descriptor *idl.ProgramDescriptor, subscriberIDs []string, rows []decode.Row, rawLogs []RawTxLog) (BatchStats, error) {
	var stats BatchStats
	if len(rows) == 0 && len(rawLogs) == 0 {
		return stats, nil
	}

	eventsByName := make(map[string]*idl.EventDescriptor, len(descriptor.Events))
	for i := range descriptor.Events {
		eventsByName[descriptor.Events[i].Name] = &descriptor.Events[i]
	}
	instrsByName := make(map[string]*idl.InstructionDescriptor, len(descriptor.Instructions))
	for i := range descriptor.Instructions {
		instrsByName[descriptor.Instructions[i].Name] = &descriptor.Instructions[i]
	}

	type published struct {
		eventName string
		slot      uint64
		txSig     string
		data      map[string]any
	}
	var toPublish []published

	// Bind every row's columns/values up front, outside the transaction,
	// so a bad IDL-type binding fails before a connection is even
	// acquired, and so rows naturally group by destination table for the
	// bulk-copy path below.
	var items []insertable
	for _, row := range rows {
		switch row.Kind {
		case decode.RowEvent:
			ev := row.Event
			desc, ok := eventsByName[ev.EventName]
			if !ok {
				stats.UnknownColumns++
				continue
			}
			table := schema.EventTableName(descriptor.ProgramName, idl.SnakeCase(ev.EventName))
			cols, vals, err := buildEventRow(desc, ev)
			if err != nil {
				return stats, uhoerrors.NewWriteFatalError(fmt.Errorf("bind event row for %s: %w", table, err))
			}
			items = append(items, insertable{
				table:        table,
				cols:         cols,
				vals:         vals,
				keyCols:      []string{"tx_signature", "ix_index", "inner_ix_index"},
				conflictExpr: `(tx_signature, ix_index, COALESCE(inner_ix_index, -1))`,
				onInserted: func() {
					stats.EventsWritten++
					toPublish = append(toPublish, published{ev.EventName, ev.Slot, ev.TxSignature, ev.Data})
				},
			})
		case decode.RowInstruction:
			ix := row.Instruction
			desc, ok := instrsByName[ix.InstructionName]
			if !ok {
				stats.UnknownColumns++
				continue
			}
			table := schema.InstructionTableName(descriptor.ProgramName, desc.Name)
			cols, vals, err := buildInstructionRow(desc, ix)
			if err != nil {
				return stats, uhoerrors.NewWriteFatalError(fmt.Errorf("bind instruction row for %s: %w", table, err))
			}
			items = append(items, insertable{
				table:        table,
				cols:         cols,
				vals:         vals,
				keyCols:      []string{"tx_signature", "ix_index"},
				conflictExpr: `(tx_signature, ix_index)`,
				onInserted: func() {
					stats.InstructionsWritten++
					merged := make(map[string]any, len(ix.Args)+len(ix.Accounts))
					for k, v := range ix.Args {
						merged[k] = v
					}
					for k, v := range ix.Accounts {
						merged["account_"+k] = v
					}
					toPublish = append(toPublish, published{ix.InstructionName, ix.Slot, ix.TxSignature, merged})
				},
			})
		case decode.RowTokenTransfer:
			t := row.TokenTransfer
			items = append(items, insertable{
				table: `_cpi_transfers`,
				cols: []string{"slot", "block_time", "tx_signature", "parent_ix_index", "inner_ix_index",
					"instruction_type", "source", "destination", "authority", "mint", "amount", "decimals"},
				vals: []any{
					t.Slot, t.BlockTime, t.TxSignature, t.IxIndex, t.InnerIxIndex,
					t.InstructionType, t.Source, t.Destination, t.Authority, t.Mint, t.Amount, t.Decimals,
				},
				keyCols:      []string{"tx_signature", "parent_ix_index", "inner_ix_index"},
				conflictExpr: `(tx_signature, parent_ix_index, COALESCE(inner_ix_index, -1))`,
				onInserted: func() {
					stats.TransfersWritten++
					toPublish = append(toPublish, published{"tokenTransfer:" + t.InstructionType, t.Slot, t.TxSignature, tokenTransferData(t)})
				},
			})
		case decode.RowBalanceDelta:
			b := row.BalanceDelta
			items = append(items, insertable{
				table: `_token_balance_changes`,
				cols: []string{"slot", "block_time", "tx_signature", "account_index", "account", "mint",
					"owner", "pre_amount", "post_amount", "delta"},
				vals: []any{
					b.Slot, b.BlockTime, b.TxSignature, b.AccountIndex, b.Account, b.Mint, b.Owner, b.PreAmount, b.PostAmount, b.Delta,
				},
				keyCols:      []string{"tx_signature", "account_index"},
				conflictExpr: `(tx_signature, account_index)`,
				onInserted: func() {
					stats.BalanceDeltasWritten++
					toPublish = append(toPublish, published{"balanceDelta", b.Slot, b.TxSignature, balanceDeltaData(b)})
				},
			})
		}
	}

	err := w.pool.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := writeInsertables(ctx, tx, items); err != nil {
			return err
		}

		for _, rl := range rawLogs {
			if err := insertTxLogs(ctx, tx, rl); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return stats, uhoerrors.NewWriteFatalError(err)
	}

	for _, p := range toPublish {
		w.bus.Publish(fanout.Message{
			ProgramID:   descriptor.ProgramID,
			EventName:   p.eventName,
			Slot:        p.slot,
			TxSignature: p.txSig,
			Data:        p.data,
			Subscribers: subscriberIDs,
		})
	}
	return stats, nil
}

func tokenTransferData(t *decode.DecodedTokenTransfer) map[string]any {
	d := map[string]any{
		"instructionType": t.InstructionType,
		"source":          t.Source,
		"destination":     t.Destination,
		"authority":       t.Authority,
		"amount":          t.Amount,
	}
	if t.Mint != nil {
		d["mint"] = *t.Mint
	}
	if t.Decimals != nil {
		d["decimals"] = *t.Decimals
	}
	return d
}

func balanceDeltaData(b *decode.DecodedBalanceDelta) map[string]any {
	d := map[string]any{
		"account":    b.Account,
		"preAmount":  b.PreAmount,
		"postAmount": b.PostAmount,
		"delta":      b.Delta,
	}
	if b.Mint != nil {
		d["mint"] = *b.Mint
	}
	if b.Owner != nil {
		d["owner"] = *b.Owner
	}
	return d
}

// buildEventRow binds desc's declared fields by name from ev.Data,
// dropping any field absent from the row (never erroring — IDL drift is
// degraded gracefully per §4.3.2's instruction-decoder rule, applied
// symmetrically here).
func buildEventRow(desc *idl.EventDescriptor, ev *decode.DecodedEvent) ([]string, []any, error) {
	cols := []string{"slot", "block_time", "tx_signature", "ix_index", "inner_ix_index"}
	vals := []any{ev.Slot, ev.BlockTime, ev.TxSignature, ev.IxIndex, ev.InnerIxIndex}

	for _, f := range desc.Fields {
		v, err := bindFieldValue(f, ev.Data[f.Name])
		if err != nil {
			return nil, nil, fmt.Errorf("bind field %s: %w", f.Name, err)
		}
		cols = append(cols, f.Name)
		vals = append(vals, v)
	}
	return cols, vals, nil
}

func buildInstructionRow(desc *idl.InstructionDescriptor, ix *decode.DecodedInstruction) ([]string, []any, error) {
	cols := []string{"slot", "block_time", "tx_signature", "ix_index"}
	vals := []any{ix.Slot, ix.BlockTime, ix.TxSignature, ix.IxIndex}

	for _, f := range desc.Args {
		v, err := bindFieldValue(f, ix.Args[f.Name])
		if err != nil {
			return nil, nil, fmt.Errorf("bind field %s: %w", f.Name, err)
		}
		cols = append(cols, f.Name)
		vals = append(vals, v)
	}
	for _, name := range desc.Accounts {
		cols = append(cols, "account_"+name)
		vals = append(vals, nullIfEmpty(ix.Accounts[name]))
	}
	return cols, vals, nil
}

// insertable is one row bound for a destination table, grouped by table
// name in writeInsertables so rows sharing a table land via one bulk
// COPY-and-merge instead of one INSERT each.
type insertable struct {
	table        string
	cols         []string
	vals         []any
	keyCols      []string // subset of cols identifying a row, for matching a merge's RETURNING rows back to their insertable
	conflictExpr string   // the ON CONFLICT target, e.g. "(tx_signature, ix_index)"
	onInserted   func()   // invoked once per row actually inserted (not swallowed by ON CONFLICT DO NOTHING)
}

// writeInsertables lands items inside tx, grouped by destination table.
// A table with more than one row in this batch is landed with a single
// pgx.CopyFrom into a temp staging table followed by one
// INSERT ... SELECT ... ON CONFLICT DO NOTHING, mirroring the teacher's
// bulk-COPY-with-per-row-fallback idiom in
// internal/repository/postgres_ingest.go's SaveBatch (COPY into a
// tmp_* table, then merge); a table with exactly one row in this batch
// falls back to a plain INSERT ... RETURNING, since a one-row COPY buys
// nothing over a direct insert.
func writeInsertables(ctx context.Context, tx pgx.Tx, items []insertable) error {
	byTable := make(map[string][]insertable)
	var order []string
	for _, it := range items {
		if _, ok := byTable[it.table]; !ok {
			order = append(order, it.table)
		}
		byTable[it.table] = append(byTable[it.table], it)
	}

	for _, table := range order {
		group := byTable[table]
		if len(group) == 1 {
			inserted, err := insertSingle(ctx, tx, group[0])
			if err != nil {
				return fmt.Errorf("insert into %s: %w", table, err)
			}
			if inserted {
				group[0].onInserted()
			}
			continue
		}

		insertedKeys, err := copyThenMerge(ctx, tx, table, group)
		if err != nil {
			return fmt.Errorf("bulk copy into %s: %w", table, err)
		}
		for _, it := range group {
			if insertedKeys[rowKey(it.keyValues())] {
				it.onInserted()
			}
		}
	}
	return nil
}

func (it insertable) keyValues() []any {
	idx := make(map[string]any, len(it.cols))
	for i, c := range it.cols {
		idx[c] = it.vals[i]
	}
	vals := make([]any, len(it.keyCols))
	for i, k := range it.keyCols {
		vals[i] = idx[k]
	}
	return vals
}

func insertSingle(ctx context.Context, tx pgx.Tx, it insertable) (bool, error) {
	query := fmt.Sprintf(
		`INSERT INTO %q (%s) VALUES (%s)
		 ON CONFLICT %s DO NOTHING
		 RETURNING id`,
		it.table, quoteCols(it.cols), placeholders(len(it.cols)), it.conflictExpr)
	var id int64
	err := tx.QueryRow(ctx, query, it.vals...).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil // ON CONFLICT DO NOTHING: already indexed
		}
		return false, err
	}
	return true, nil
}

// copyThenMerge bulk-loads group's rows into a session-local staging
// table shaped after table's own columns (so it automatically matches
// table's column types without the caller naming them), then merges the
// staging rows into table with one ON CONFLICT DO NOTHING, RETURNING the
// key columns of every row actually inserted.
func copyThenMerge(ctx context.Context, tx pgx.Tx, table string, group []insertable) (map[string]bool, error) {
	cols := group[0].cols
	keyCols := group[0].keyCols
	conflictExpr := group[0].conflictExpr

	rows := make([][]any, len(group))
	for i, it := range group {
		rows[i] = it.vals
	}

	staging := "uho_copy_staging"
	createStmt := fmt.Sprintf(
		`CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %q WITH NO DATA`,
		staging, quoteCols(cols), table)
	if _, err := tx.Exec(ctx, createStmt); err != nil {
		return nil, fmt.Errorf("create staging table: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cols, pgx.CopyFromRows(rows)); err != nil {
		return nil, fmt.Errorf("copy into staging: %w", err)
	}

	mergeQuery := fmt.Sprintf(
		`INSERT INTO %q (%s) SELECT %s FROM %s
		 ON CONFLICT %s DO NOTHING
		 RETURNING %s`,
		table, quoteCols(cols), quoteCols(cols), staging, conflictExpr, quoteCols(keyCols))
	rowsRet, err := tx.Query(ctx, mergeQuery)
	if err != nil {
		return nil, fmt.Errorf("merge staging: %w", err)
	}
	defer rowsRet.Close()

	inserted := make(map[string]bool, len(group))
	for rowsRet.Next() {
		vals, err := rowsRet.Values()
		if err != nil {
			return nil, err
		}
		inserted[rowKey(vals)] = true
	}
	if err := rowsRet.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE %s", staging)); err != nil {
		return nil, fmt.Errorf("drop staging table: %w", err)
	}
	return inserted, nil
}

// rowKey builds a map key from a row's key-column values so a merge's
// RETURNING rows can be matched back to the insertable that produced
// them; nil (absent inner_ix_index, for instance) is a distinct key
// component from any concrete value.
func rowKey(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case nil:
			parts[i] = "\x00nil"
		case *int:
			if x == nil {
				parts[i] = "\x00nil"
			} else {
				parts[i] = fmt.Sprint(*x)
			}
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, "\x00")
}

// insertTxLogs retains rl's raw log lines in "_tx_logs", ignoring a
// conflict on tx_signature — a transaction is only ever logged once,
// even if the poller revisits it after a retried write.
func insertTxLogs(ctx context.Context, tx pgx.Tx, rl RawTxLog) error {
	encoded, err := json.Marshal(rl.LogMessages)
	if err != nil {
		return fmt.Errorf("marshal log_messages for %s: %w", rl.TxSignature, err)
	}
	const query = `
		INSERT INTO "_tx_logs" (tx_signature, slot, log_messages)
		VALUES ($1,$2,$3)
		ON CONFLICT (tx_signature) DO NOTHING`
	if _, err := tx.Exec(ctx, query, rl.TxSignature, rl.Slot, encoded); err != nil {
		return fmt.Errorf("insert tx logs for %s: %w", rl.TxSignature, err)
	}
	return nil
}

// bindFieldValue converts a Borsh-decoded value into the form pgx should
// bind for f's SQL type: JSONB columns need an explicit []byte marshal
// since vec/array/unresolved-defined values decode into plain Go slices
// and maps pgx cannot infer a JSONB encoding for on its own.
func bindFieldValue(f idl.FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.SQLType == idl.SQLJSONB {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return v, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func quoteCols(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ", ")
}
