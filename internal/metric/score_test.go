package metric

import (
	"testing"

	"github.com/dushixiang/kpimon/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestGroupIndices(t *testing.T) {
	groups := GroupIndices([]IndicatorRate{
		{IndicatorID: "a", Group: models.GroupAvailability, Weight: 3, Hits: 10, Total: 10},
		{IndicatorID: "b", Group: models.GroupAvailability, Weight: 1, Hits: 0, Total: 4},
		{IndicatorID: "c", Group: models.GroupAvailability, Weight: 5, Hits: 0, Total: 0},
		{IndicatorID: "d", Group: models.GroupSecurity, Weight: 0, Hits: 1, Total: 1},
	})

	availability := groups[models.GroupAvailability]
	assert.True(t, availability.HasData)
	// (100*3 + 0*1) / 4，没有数据的 c 不参与
	assert.InDelta(t, 75.0, availability.Index, 1e-9)
	assert.Equal(t, 2, availability.Indicators)

	// 权重为 0 的分组视为没有指数
	assert.False(t, groups[models.GroupSecurity].HasData)
	assert.False(t, groups[models.GroupNavigation].HasData)
	assert.Len(t, groups, len(models.Groups))
}

func TestComposite(t *testing.T) {
	groups := map[string]models.GroupStat{
		models.GroupAvailability: {Index: 80, HasData: true},
		models.GroupPerformance:  {Index: 40, HasData: true},
		models.GroupNavigation:   {HasData: false},
	}
	weights := map[string]float64{
		models.GroupAvailability: 3,
		models.GroupPerformance:  1,
		models.GroupNavigation:   10,
	}
	assert.InDelta(t, 70.0, Composite(groups, weights), 1e-9)
	assert.Equal(t, 0.0, Composite(groups, nil))
	assert.Equal(t, 0.0, Composite(map[string]models.GroupStat{}, weights))
}

func TestDREI(t *testing.T) {
	weights := map[string]float64{
		models.DREIOpenCritical: 4,
		models.DREIOpenHigh:     3,
		models.DREIOpenMedium:   2,
		models.DREIOpenLow:      1,
		models.DREISLABreach:    10,
	}

	t.Run("没有事件也没有检测", func(t *testing.T) {
		raw, final := DREI(DREIInput{Weights: weights, Criticality: 100})
		assert.Equal(t, 0.0, raw)
		assert.Equal(t, 0.0, final)
	})

	t.Run("按权重归一化并乘以关键程度", func(t *testing.T) {
		raw, final := DREI(DREIInput{
			Incidents: map[models.Severity]models.SeverityStat{
				models.SeverityP1: {Open: 1, Total: 2}, // 50%
				models.SeverityP4: {Open: 0, Total: 3},
			},
			Checks:      10,
			Misses:      2, // 20%
			Weights:     weights,
			Criticality: 50,
		})
		// (50*4 + 20*10) / 20 = 20
		assert.InDelta(t, 20.0, raw, 1e-9)
		assert.InDelta(t, 10.0, final, 1e-9)
	})

	t.Run("没有权重", func(t *testing.T) {
		raw, _ := DREI(DREIInput{Checks: 1, Misses: 1})
		assert.Equal(t, 0.0, raw)
	})
}

func TestCurrentHealth(t *testing.T) {
	assert.Equal(t, 100.0, CurrentHealth(100, 0))
	assert.Equal(t, 45.0, CurrentHealth(50, 60))
}

func TestCriticality(t *testing.T) {
	weights := map[string]float64{"High": 100, "Medium": 60, "Low": 30, "HIGHEST": 120}
	assert.Equal(t, 100.0, Criticality("high - citizen facing", weights, 30))
	assert.Equal(t, 120.0, Criticality("Highest", weights, 30))
	assert.Equal(t, 60.0, Criticality("MEDIUM", weights, 30))
	assert.Equal(t, 30.0, Criticality("unknown", weights, 30))
	assert.Equal(t, 30.0, Criticality("", weights, 30))
}
