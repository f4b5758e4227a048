package sqlvalidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderrag/core/internal/core/domain"
)

func TestValidateAcceptsAllowedFragment(t *testing.T) {
	v := New()
	got, err := v.Validate("e.action_score > 50 AND e.processed = true")
	require.NoError(t, err, "unexpected rejection")
	assert.NotEmpty(t, got, "expected fragment echoed back")
}

func TestValidateRejectsSubquery(t *testing.T) {
	v := New()
	_, err := v.Validate("doc_id IN (SELECT doc_id FROM emails)")
	assert.ErrorIs(t, err, domain.ErrSQLFragmentRejected)
}

func TestValidateRejectsDisallowedFunction(t *testing.T) {
	v := New()
	_, err := v.Validate("pg_sleep(10) > 0")
	assert.Error(t, err, "expected rejection")
}

func TestValidateRejectsDisallowedColumn(t *testing.T) {
	v := New()
	_, err := v.Validate("password = 'x'")
	assert.Error(t, err, "expected rejection")
}

func TestValidateRejectsMalformedSQL(t *testing.T) {
	v := New()
	_, err := v.Validate("this is not ; valid sql (")
	assert.Error(t, err, "expected rejection")
}
