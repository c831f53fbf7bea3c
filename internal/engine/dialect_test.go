package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbhub/internal/core"
)

func TestForKind(t *testing.T) {
	my, err := ForKind(core.EngineMySQL)
	require.NoError(t, err)
	assert.Equal(t, core.EngineMySQL, my.Kind())

	pg, err := ForKind(core.EnginePostgreSQL)
	require.NoError(t, err)
	assert.Equal(t, core.EnginePostgreSQL, pg.Kind())

	_, err = ForKind(core.EngineKind("oracle"))
	var br *core.BadRequestError
	require.ErrorAs(t, err, &br)
	assert.Contains(t, br.Message, "oracle")
}

func TestDialectHelpers(t *testing.T) {
	my := MySQL{}
	pg := PostgreSQL{}

	assert.Equal(t, "LIMIT 100", my.LimitClause(100))
	assert.Equal(t, "LIMIT 5", pg.LimitClause(5))

	assert.Equal(t, "?", my.Placeholder(1))
	assert.Equal(t, "?", my.Placeholder(7))
	assert.Equal(t, "$1", pg.Placeholder(1))
	assert.Equal(t, "$7", pg.Placeholder(7))

	assert.Equal(t, "`users`", my.QuoteIdent("users"))
	assert.Equal(t, "`odd``name`", my.QuoteIdent("odd`name"))
	assert.Equal(t, `"users"`, pg.QuoteIdent("users"))
	assert.Equal(t, `"odd""name"`, pg.QuoteIdent(`odd"name`))
}

func TestQuoteConnValue(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", "''"},
		{"has space", "'has space'"},
		{`back\slash`, `'back\\slash'`},
		{"quo'te", `'quo\'te'`},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, quoteConnValue(tc.in), "quoteConnValue(%q)", tc.in)
	}
}
