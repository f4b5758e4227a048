package driven

// SQLValidator hardens free-form LLM-proposed filter fragments before they
// are interpolated into the kNN search query (spec.md section 4.5's SQL
// Fragment Validator). Implementations parse the fragment as a real SQL AST
// and walk it against an allowlist rather than pattern-matching text.
type SQLValidator interface {
	// Validate returns the fragment unchanged if it is safe to interpolate
	// into a WHERE clause, or domain.ErrSQLFragmentRejected (wrapped with
	// detail) if it is not.
	Validate(fragment string) (string, error)

	// ValidateScoreExpr is Validate against the ORDER BY score-expression
	// template instead of the WHERE-filter template (spec.md section 4.5).
	ValidateScoreExpr(fragment string) (string, error)
}
