package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderClause_AppendsIDTiebreaker(t *testing.T) {
	assert.Equal(t, "price ASC, id ASC", orderClause("price", "asc"))
	assert.Equal(t, "price DESC, id DESC", orderClause("price", "desc"))
	assert.Equal(t, "rating DESC, id DESC", orderClause("rating", "desc"))
	assert.Equal(t, "stock ASC, id ASC", orderClause("stock", ""))
}

func TestOrderClause_IDSortHasNoDoubleKey(t *testing.T) {
	assert.Equal(t, "id ASC", orderClause("id", "asc"))
	assert.Equal(t, "id DESC", orderClause("id", "desc"))
	assert.Equal(t, "id ASC", orderClause("not-a-column", ""))
}
