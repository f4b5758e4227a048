// Package sqlvalidate hardens free-form filter/score-expression fragments
// proposed for the kNN search query before they are interpolated into SQL
// (spec.md section 4.5). Fragments are wrapped in a template, parsed into
// a JSON AST by the real Postgres grammar, and walked against an
// allowlist of node kinds, columns, functions, and type casts.
package sqlvalidate

import (
	"encoding/json"
	"fmt"

	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
)

// Kind selects which template a fragment is wrapped in before parsing.
type Kind int

const (
	// KindFilter wraps the fragment as a WHERE-clause boolean expression.
	KindFilter Kind = iota
	// KindScore wraps the fragment as a SELECT-list scalar expression.
	KindScore
)

const (
	filterTemplate = "SELECT 1 FROM emails e JOIN email_chunks ec ON true WHERE (%s)"
	scoreTemplate  = "SELECT (%s) AS score FROM emails e JOIN email_chunks ec ON true"
)

// allowedColumns is the published column allowlist (spec.md section 4.5).
var allowedColumns = map[string]bool{
	"doc_id": true, "sender": true, "recipient": true, "subject": true,
	"email_date": true, "action_score": true, "importance_score": true,
	"processed": true, "ingested_at": true,
}

// allowedFunctions is the published function allowlist (spec.md section
// 4.5).
var allowedFunctions = map[string]bool{
	"least": true, "greatest": true, "lower": true, "upper": true,
	"extract": true, "date_trunc": true, "now": true, "coalesce": true,
	"length": true, "similarity": true,
}

// allowedTypes is the published cast-target allowlist (spec.md section
// 4.5).
var allowedTypes = map[string]bool{
	"float": true, "float8": true, "float4": true, "int": true, "int4": true,
	"text": true, "timestamptz": true, "interval": true, "vector": true,
}

// structuralNodes are transparent wrapper node kinds a fragment's parse
// tree is always expected to contain (spec.md section 4.5), including the
// JoinExpr/RangeVar nodes of the templates' own FROM clause.
var structuralNodes = map[string]bool{
	"RawStmt": true, "SelectStmt": true, "ResTarget": true,
	"JoinExpr": true, "RangeVar": true,
}

// allowedNodes are the non-structural node kinds a fragment may use.
// Extend this set, not scattered conditionals, per spec.md section 9's
// design note on keeping the allowlist first-class.
var allowedNodes = map[string]bool{
	"A_Expr": true, "BoolExpr": true, "ColumnRef": true, "A_Const": true,
	"FuncCall": true, "TypeCast": true, "TypeName": true, "String": true,
	"Integer": true, "Float": true, "Boolean": true, "Null": true,
	"List": true, "NullTest": true, "A_ArrayExpr": true,
}

var _ driven.SQLValidator = (*Validator)(nil)

// Validator implements driven.SQLValidator.
type Validator struct{}

// New constructs a Validator.
func New() *Validator { return &Validator{} }

// Validate wraps fragment in the filter template, parses it, and walks
// the resulting AST against the allowlists, returning
// domain.ErrSQLFragmentRejected on any violation.
func (v *Validator) Validate(fragment string) (string, error) {
	return v.validateKind(fragment, KindFilter)
}

// ValidateKind validates fragment against the template matching kind,
// so the same validator backs both the WHERE filter and the ORDER BY
// score expression substitution points (spec.md section 4.4/4.5).
func (v *Validator) ValidateKind(fragment string, kind Kind) (string, error) {
	return v.validateKind(fragment, kind)
}

// ValidateScoreExpr validates fragment against the score-expression
// template (driven.SQLValidator).
func (v *Validator) ValidateScoreExpr(fragment string) (string, error) {
	return v.validateKind(fragment, KindScore)
}

func (v *Validator) validateKind(fragment string, kind Kind) (string, error) {
	template := filterTemplate
	if kind == KindScore {
		template = scoreTemplate
	}
	wrapped := fmt.Sprintf(template, fragment)

	astJSON, err := pgquery.ParseToJSON(wrapped)
	if err != nil {
		return "", fmt.Errorf("%w: parse error: %v", domain.ErrSQLFragmentRejected, err)
	}

	var tree any
	if err := json.Unmarshal([]byte(astJSON), &tree); err != nil {
		return "", fmt.Errorf("%w: malformed ast: %v", domain.ErrSQLFragmentRejected, err)
	}

	if err := walk(tree); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSQLFragmentRejected, err)
	}

	return fragment, nil
}
