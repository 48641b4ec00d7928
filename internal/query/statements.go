package query

import (
	"fmt"

	"github.com/vexsearch/offstore/internal/value"
)

// CountColumn is the label count statements select into.
const CountColumn = "n"

// CountEqual builds a statement counting rows of table whose column equals
// v. A null v counts rows where the column is null.
func CountEqual(table, column string, v any) (string, []any) {
	if value.IsNull(v) {
		return fmt.Sprintf("SELECT COUNT(*) AS %s FROM %s WHERE %s IS NULL",
			CountColumn, QuoteIdent(table), QuoteIdent(column)), nil
	}
	s, _ := value.String(v)
	return fmt.Sprintf("SELECT COUNT(*) AS %s FROM %s WHERE CAST(%s AS VARCHAR) = ?",
		CountColumn, QuoteIdent(table), QuoteIdent(column)), []any{s}
}
