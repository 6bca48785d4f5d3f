package repositories

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"

	"github.com/admin-platform/backend/internal/models"
)

func TestFromPG(t *testing.T) {
	id := uuid.MustParse("0b6c1f34-4f7e-4a43-9d32-6a8f2d1c9e10")
	assert.Equal(t, id.String(), fromPG([16]byte(id)))

	num := pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}
	assert.Equal(t, 12.5, fromPG(num))
	assert.Nil(t, fromPG(pgtype.Numeric{}))

	assert.Equal(t, "plain", fromPG("plain"))
	assert.Nil(t, fromPG(nil))
}

func TestToPG(t *testing.T) {
	assert.Equal(t, "42", toPG(json.Number("42")))
	assert.Equal(t, `{"a":1}`, toPG(map[string]any{"a": 1}))
	assert.Equal(t, `["x","y"]`, toPG([]any{"x", "y"}))

	ordered := models.NewAttributes()
	ordered.Set("z", 1)
	ordered.Set("a", 2)
	assert.Equal(t, `{"z":1,"a":2}`, toPG(ordered))

	assert.Equal(t, "text", toPG("text"))
	assert.Equal(t, 7, toPG(7))
	assert.Nil(t, toPG(nil))
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"users"`, ident("users"))
	assert.Equal(t, `"we""ird"`, ident(`we"ird`))
}
