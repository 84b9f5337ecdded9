package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategories(t *testing.T) {
	got := ParseCategories([]string{"steps", " heart_rate ", "", "sleep"})
	assert.Equal(t, []Category{CategorySteps, CategoryHeartRate, CategorySleep}, got)
	assert.Empty(t, ParseCategories(nil))
}
