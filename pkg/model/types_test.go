package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

func TestTrailingWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	start, end := model.TrailingWindow(now, 7)
	assert.Equal(t, "2024-03-04", start.Format(model.DateLayout))
	assert.Equal(t, "2024-03-10", end.Format(model.DateLayout))

	start, end = model.TrailingWindow(now, 0)
	assert.Equal(t, start, end)
}

func TestMonthBounds(t *testing.T) {
	start, end := model.MonthBounds(time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-02-01", start.Format(model.DateLayout))
	assert.Equal(t, "2024-02-29", end.Format(model.DateLayout))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, model.SeverityCritical.Rank(), model.SeverityHigh.Rank())
	assert.Greater(t, model.SeverityHigh.Rank(), model.SeverityMedium.Rank())
	assert.Greater(t, model.SeverityMedium.Rank(), model.SeverityLow.Rank())
	assert.Equal(t, 0, model.Severity("unknown").Rank())
}

func TestDimensionTypeValid(t *testing.T) {
	assert.True(t, model.DimensionResourceGroup.Valid())
	assert.False(t, model.DimensionType("tenant").Valid())
}
