package schema

import (
	"fmt"
	"strings"

	"github.com/uho-indexer/uho/internal/idl"
)

// Aggregate is one of the closed set of aggregate functions the view
// compiler accepts (§4.2).
type Aggregate string

const (
	AggCount Aggregate = "count"
	AggSum   Aggregate = "sum"
	AggAvg   Aggregate = "avg"
	AggMin   Aggregate = "min"
	AggMax   Aggregate = "max"
	AggFirst Aggregate = "first"
	AggLast  Aggregate = "last"
)

var validAggregates = map[Aggregate]bool{
	AggCount: true, AggSum: true, AggAvg: true, AggMin: true,
	AggMax: true, AggFirst: true, AggLast: true,
}

// SelectExpr is one projected column of a compiled view: either a bare
// field reference (Aggregate == "") or an aggregate over Field.
type SelectExpr struct {
	Aggregate Aggregate
	Field     string
	Alias     string
}

// CompareOp restricts WHERE clauses to simple equality/relational
// comparisons against a literal.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// WhereCond is one WHERE clause term; Value must be a number, bool, or
// string — the only types the view compiler permits to interpolate
// (§4.2).
type WhereCond struct {
	Field string
	Op    CompareOp
	Value any
}

// View is a declarative materialized-view definition: Source names the
// event or instruction it reads from, GroupBy/Select/Where reference
// only identifiers present on that source.
type View struct {
	Name          string
	Source        string
	GroupBy       []string
	Select        []SelectExpr
	Where         []WhereCond
	RefreshPeriod string // informational; the scheduler owns the actual ticker
}

var metadataColumns = map[string]bool{
	"slot": true, "block_time": true, "tx_signature": true,
	"ix_index": true, "inner_ix_index": true, "indexed_at": true,
}

// CompileView validates and compiles a View against descriptor into a
// `CREATE MATERIALIZED VIEW IF NOT EXISTS` statement. Fails with
// INVALID_VIEW if the source doesn't resolve, an identifier escapes the
// source's field set ∪ metadata columns, or an aggregate is outside the
// closed set.
func CompileView(descriptor *idl.ProgramDescriptor, v View) (string, error) {
	fieldSet, tableName, err := resolveViewSource(descriptor, v.Source)
	if err != nil {
		return "", err
	}

	knownIdent := func(name string) bool {
		return fieldSet[name] || metadataColumns[name]
	}

	for _, g := range v.GroupBy {
		if !knownIdent(g) {
			return "", newInvalidView("group by field %q not on source %q", g, v.Source)
		}
	}
	for _, w := range v.Where {
		if !knownIdent(w.Field) {
			return "", newInvalidView("where field %q not on source %q", w.Field, v.Source)
		}
	}

	selectParts := make([]string, 0, len(v.Select))
	for _, sel := range v.Select {
		if sel.Field != "" && !knownIdent(sel.Field) {
			return "", newInvalidView("select field %q not on source %q", sel.Field, v.Source)
		}
		part, err := compileSelectExpr(sel)
		if err != nil {
			return "", err
		}
		selectParts = append(selectParts, part)
	}
	if len(selectParts) == 0 {
		return "", newInvalidView("view %q has no select list", v.Name)
	}

	viewName, err := quoteIdent(v.Name)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS\nSELECT %s\nFROM %s",
		viewName, strings.Join(selectParts, ", "), mustQuoteIdent(tableName))

	if len(v.Where) > 0 {
		clauses := make([]string, len(v.Where))
		for i, w := range v.Where {
			lit, err := literalFor(w.Value)
			if err != nil {
				return "", err
			}
			clauses[i] = fmt.Sprintf("%s %s %s", mustQuoteIdent(w.Field), w.Op, lit)
		}
		sb.WriteString("\nWHERE " + strings.Join(clauses, " AND "))
	}

	if len(v.GroupBy) > 0 {
		sb.WriteString("\nGROUP BY " + fmtIdentList(v.GroupBy))
	}

	return sb.String(), nil
}

func resolveViewSource(descriptor *idl.ProgramDescriptor, source string) (map[string]bool, string, error) {
	if ev := descriptor.EventByName(source); ev != nil {
		fields := make(map[string]bool, len(ev.Fields))
		for _, f := range ev.Fields {
			fields[f.Name] = true
		}
		return fields, eventTableName(descriptor.ProgramName, idl.SnakeCase(ev.Name)), nil
	}
	if ix := descriptor.InstructionByName(source); ix != nil {
		fields := make(map[string]bool, len(ix.Args)+len(ix.Accounts))
		for _, f := range ix.Args {
			fields[f.Name] = true
		}
		for _, a := range ix.Accounts {
			fields["account_"+a] = true
		}
		return fields, instructionTableName(descriptor.ProgramName, ix.Name), nil
	}
	return nil, "", newInvalidView("source %q does not resolve to an event or instruction", source)
}

func compileSelectExpr(sel SelectExpr) (string, error) {
	if sel.Aggregate == "" {
		return mustQuoteIdent(sel.Field) + aliasSuffix(sel.Alias), nil
	}
	if !validAggregates[sel.Aggregate] {
		return "", newInvalidView("unknown aggregate %q", sel.Aggregate)
	}

	col := mustQuoteIdent(sel.Field)
	var expr string
	switch sel.Aggregate {
	case AggFirst:
		expr = fmt.Sprintf("(ARRAY_AGG(%s ORDER BY %q ASC))[1]", col, "slot")
	case AggLast:
		expr = fmt.Sprintf("(ARRAY_AGG(%s ORDER BY %q DESC))[1]", col, "slot")
	default:
		expr = fmt.Sprintf("%s(%s)", strings.ToUpper(string(sel.Aggregate)), col)
	}
	return expr + aliasSuffix(sel.Alias), nil
}

func aliasSuffix(alias string) string {
	if alias == "" {
		return ""
	}
	return " AS " + mustQuoteIdent(alias)
}

func literalFor(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return quoteLiteral(val), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val), nil
	default:
		return "", newInvalidView("where value of unsupported type %T", v)
	}
}
