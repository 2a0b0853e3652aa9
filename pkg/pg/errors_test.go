package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/estatecrm/pkg/pg"
)

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert payout: %w", &pgconn.PgError{Code: "23505", ConstraintName: "agent_payouts_agent_period_key"})
	fk := &pgconn.PgError{Code: "23503"}

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.Equal(t, "agent_payouts_agent_period_key", pg.ConstraintName(dup))
	assert.False(t, pg.IsDuplicateKeyError(fk))
	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))

	assert.False(t, pg.IsDuplicateKeyError(nil))
	assert.False(t, pg.IsNotFoundError(nil))
	assert.False(t, pg.IsDuplicateKeyError(errors.New("plain")))
	assert.Empty(t, pg.ConstraintName(errors.New("plain")))
}
