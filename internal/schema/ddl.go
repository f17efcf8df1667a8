package schema

import (
	"fmt"
	"strings"

	"github.com/uho-indexer/uho/internal/idl"
)

// EnablementKind distinguishes an event enablement entry from an
// instruction one; both share the {name, enabled} shape.
type EnablementKind string

const (
	EnablementEvent       EnablementKind = "event"
	EnablementInstruction EnablementKind = "instruction"
)

// Enablement marks one event or instruction name as active for a given
// subscription; the compiler only emits tables for enabled names.
type Enablement struct {
	Name    string
	Type    EnablementKind
	Enabled bool
}

// FeatureFlags toggle the cross-cutting CPI-transfer and balance-delta
// tables, which exist independent of any single event/instruction.
type FeatureFlags struct {
	CPITransfers  bool
	BalanceDeltas bool
}

// DDL compiles descriptor + enablement + featureFlags into an ordered
// list of `IF NOT EXISTS` statements: the checkpoint table and raw-log
// table are always emitted; event/instruction tables only for enabled
// names; CPI-transfer/balance-delta tables iff their flag is set.
func DDL(descriptor *idl.ProgramDescriptor, enablement []Enablement, flags FeatureFlags) ([]string, error) {
	var stmts []string

	stmts = append(stmts, checkpointTableDDL()...)
	stmts = append(stmts, rawLogTableDDL()...)

	enabledEvents := enabledNames(enablement, EnablementEvent)
	enabledInstrs := enabledNames(enablement, EnablementInstruction)

	for _, ev := range descriptor.Events {
		if !enabledEvents[ev.Name] {
			continue
		}
		table := eventTableName(descriptor.ProgramName, idl.SnakeCase(ev.Name))
		ddl, err := eventTableDDL(table, ev)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl...)
	}

	for _, ix := range descriptor.Instructions {
		if !enabledInstrs[ix.Name] {
			continue
		}
		table := instructionTableName(descriptor.ProgramName, ix.Name)
		ddl, err := instructionTableDDL(table, ix)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl...)
	}

	if flags.CPITransfers {
		stmts = append(stmts, cpiTransfersTableDDL()...)
	}
	if flags.BalanceDeltas {
		stmts = append(stmts, balanceDeltaTableDDL()...)
	}

	return stmts, nil
}

func enabledNames(enablement []Enablement, kind EnablementKind) map[string]bool {
	out := make(map[string]bool)
	for _, e := range enablement {
		if e.Type == kind && e.Enabled {
			out[e.Name] = true
		}
	}
	return out
}

func checkpointTableDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS "_uho_state" (
	"program_id" TEXT PRIMARY KEY,
	"last_slot" BIGINT NOT NULL DEFAULT 0,
	"last_signature" TEXT,
	"events_indexed" BIGINT NOT NULL DEFAULT 0,
	"instructions_indexed" BIGINT NOT NULL DEFAULT 0,
	"status" TEXT NOT NULL DEFAULT 'stopped',
	"started_at" TIMESTAMPTZ,
	"last_poll_at" TIMESTAMPTZ,
	"error" TEXT
)`,
	}
}

func rawLogTableDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS "_tx_logs" (
	"tx_signature" TEXT PRIMARY KEY,
	"slot" BIGINT NOT NULL,
	"log_messages" JSONB NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS "_tx_logs_slot_idx" ON "_tx_logs" ("slot")`,
	}
}

func cpiTransfersTableDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS "_cpi_transfers" (
	"id" BIGSERIAL PRIMARY KEY,
	"slot" BIGINT NOT NULL,
	"block_time" TIMESTAMPTZ,
	"tx_signature" TEXT NOT NULL,
	"parent_ix_index" INTEGER NOT NULL,
	"inner_ix_index" INTEGER,
	"instruction_type" TEXT NOT NULL,
	"source" TEXT NOT NULL,
	"destination" TEXT NOT NULL,
	"authority" TEXT NOT NULL,
	"mint" TEXT,
	"amount" TEXT NOT NULL,
	"decimals" INTEGER,
	"indexed_at" TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "_cpi_transfers_unique_idx" ON "_cpi_transfers" ("tx_signature", "parent_ix_index", COALESCE("inner_ix_index", -1))`,
		`CREATE INDEX IF NOT EXISTS "_cpi_transfers_slot_idx" ON "_cpi_transfers" ("slot")`,
		`CREATE INDEX IF NOT EXISTS "_cpi_transfers_tx_idx" ON "_cpi_transfers" ("tx_signature")`,
	}
}

func balanceDeltaTableDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS "_token_balance_changes" (
	"id" BIGSERIAL PRIMARY KEY,
	"slot" BIGINT NOT NULL,
	"block_time" TIMESTAMPTZ,
	"tx_signature" TEXT NOT NULL,
	"account_index" INTEGER NOT NULL,
	"account" TEXT NOT NULL,
	"mint" TEXT,
	"owner" TEXT,
	"pre_amount" NUMERIC(20,0) NOT NULL,
	"post_amount" NUMERIC(20,0) NOT NULL,
	"delta" NUMERIC(20,0) NOT NULL,
	"indexed_at" TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "_token_balance_changes_unique_idx" ON "_token_balance_changes" ("tx_signature", "account_index")`,
		`CREATE INDEX IF NOT EXISTS "_token_balance_changes_slot_idx" ON "_token_balance_changes" ("slot")`,
	}
}

func eventTableDDL(table string, ev idl.EventDescriptor) ([]string, error) {
	qTable, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}

	var cols []string
	cols = append(cols,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"slot" BIGINT NOT NULL`,
		`"block_time" TIMESTAMPTZ`,
		`"tx_signature" TEXT NOT NULL`,
		`"ix_index" INTEGER NOT NULL`,
		`"inner_ix_index" INTEGER`,
	)
	for _, f := range ev.Fields {
		col, err := fieldColumnDDL(f)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	cols = append(cols, `"indexed_at" TIMESTAMPTZ NOT NULL DEFAULT now()`)

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", qTable, strings.Join(cols, ",\n\t"))

	stmts := []string{create}
	stmts = append(stmts, standardIndexes(table)...)
	stmts = append(stmts, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %s ("tx_signature", "ix_index", COALESCE("inner_ix_index", -1))`,
		table+"_unique_idx", qTable))
	return stmts, nil
}

func instructionTableDDL(table string, ix idl.InstructionDescriptor) ([]string, error) {
	qTable, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}

	var cols []string
	cols = append(cols,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"slot" BIGINT NOT NULL`,
		`"block_time" TIMESTAMPTZ`,
		`"tx_signature" TEXT NOT NULL`,
		`"ix_index" INTEGER NOT NULL`,
	)
	for _, f := range ix.Args {
		col, err := fieldColumnDDL(f)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	for _, acctName := range ix.Accounts {
		acctCol, err := quoteIdent("account_" + acctName)
		if err != nil {
			return nil, err
		}
		cols = append(cols, fmt.Sprintf("%s TEXT", acctCol))
	}
	cols = append(cols, `"indexed_at" TIMESTAMPTZ NOT NULL DEFAULT now()`)

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", qTable, strings.Join(cols, ",\n\t"))

	stmts := []string{create}
	stmts = append(stmts, standardIndexes(table)...)
	stmts = append(stmts, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %s ("tx_signature", "ix_index")`,
		table+"_unique_idx", qTable))
	return stmts, nil
}

func standardIndexes(table string) []string {
	qTable := mustQuoteIdent(table)
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %s ("slot")`, table+"_slot_idx", qTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %s ("tx_signature")`, table+"_tx_idx", qTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %s ("block_time")`, table+"_block_time_idx", qTable),
	}
}

func fieldColumnDDL(f idl.FieldDescriptor) (string, error) {
	col, err := quoteIdent(f.Name)
	if err != nil {
		return "", err
	}
	nullability := "NOT NULL"
	if f.Nullable {
		nullability = ""
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", col, f.SQLType, nullability)), nil
}
