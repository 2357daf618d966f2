package notify

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "1 check needs attention", Subject(make([]models.Check, 1)))
	assert.Equal(t, "3 checks need attention", Subject(make([]models.Check, 3)))
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "row", Pluralize("row", 1))
	assert.Equal(t, "rows", Pluralize("row", 0))
	assert.Equal(t, "queries", Pluralize("query", 2))
}

func TestText(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	checks := []models.Check{
		{QueryName: "Late orders", State: models.CheckStateFailing, Message: "3 rows"},
		{ID: id, State: models.CheckStateTimedOut},
	}

	assert.Equal(t,
		"2 checks need attention\n- Late orders: failing (3 rows)\n- Check 550e8400-e29b-41d4-a716-446655440000: timed out",
		Text(checks))
}
