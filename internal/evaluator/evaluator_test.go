package evaluator

import (
	"testing"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 {
	return &v
}

func indicator(outcome models.Outcome, high, medium, low string) models.Indicator {
	return models.Indicator{
		ID:           "kpi-1",
		Outcome:      outcome,
		TargetHigh:   high,
		TargetMedium: medium,
		TargetLow:    low,
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"1%", 1},
		{"5s", 5},
		{"3.5MB", 3.5},
		{" 2.5 sec", 2.5},
		{"<= 100", 100},
		{"-1", -1},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("没有数字", func(t *testing.T) {
		_, err := ParseTarget("N/A")
		assert.ErrorIs(t, err, kpierr.ErrTargetParse)
	})

	t.Run("只有符号", func(t *testing.T) {
		_, err := ParseTarget("--")
		assert.ErrorIs(t, err, kpierr.ErrTargetParse)
	})
}

func TestEvaluateEqualityIsHit(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.Outcome
		target  string
		value   float64
	}{
		{"秒", models.OutcomeSeconds, "2.5s", 2.5},
		{"兆字节", models.OutcomeMegabytes, "3.5MB", 3.5},
		{"百分比", models.OutcomePercent, "80%", 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ind := indicator(tt.outcome, tt.target, tt.target, tt.target)
			v := Evaluate(probe.Result{ProblemDetected: true, Value: ptr(tt.value)}, ind, models.ImpactMedium)
			assert.Equal(t, models.StatusHit, v.Status)
		})
	}
}

func TestEvaluateMonotonic(t *testing.T) {
	t.Run("百分比越高越好", func(t *testing.T) {
		ind := indicator(models.OutcomePercent, "90%", "80%", "70%")
		assert.Equal(t, models.StatusMiss, Evaluate(probe.Result{Value: ptr(79.9)}, ind, models.ImpactMedium).Status)
		assert.Equal(t, models.StatusHit, Evaluate(probe.Result{Value: ptr(80.1)}, ind, models.ImpactMedium).Status)
		assert.Equal(t, models.StatusHit, Evaluate(probe.Result{Value: ptr(100)}, ind, models.ImpactMedium).Status)
	})

	t.Run("秒越低越好", func(t *testing.T) {
		ind := indicator(models.OutcomeSeconds, "1s", "2s", "3s")
		assert.Equal(t, models.StatusHit, Evaluate(probe.Result{Value: ptr(0.5)}, ind, models.ImpactHigh).Status)
		assert.Equal(t, models.StatusMiss, Evaluate(probe.Result{Value: ptr(1.01)}, ind, models.ImpactHigh).Status)
	})
}

func TestEvaluateSubMillisecondBoundary(t *testing.T) {
	t.Run("秒略高于阈值为 miss", func(t *testing.T) {
		ind := indicator(models.OutcomeSeconds, "2s", "2s", "2s")
		v := Evaluate(probe.Result{Value: ptr(2.0004)}, ind, models.ImpactHigh)
		assert.Equal(t, models.StatusMiss, v.Status)
		require.NotNil(t, v.Value)
		assert.Equal(t, 2.0, *v.Value)
		assert.Equal(t, "2", v.Result)
	})

	t.Run("百分比略低于阈值为 miss", func(t *testing.T) {
		ind := indicator(models.OutcomePercent, "95%", "95%", "95%")
		v := Evaluate(probe.Result{Value: ptr(94.9996)}, ind, models.ImpactHigh)
		assert.Equal(t, models.StatusMiss, v.Status)
		assert.Equal(t, "95%", v.Result)
	})
}

func TestEvaluateThresholdByImpact(t *testing.T) {
	ind := indicator(models.OutcomeSeconds, "1s", "2s", "3s")
	result := probe.Result{Value: ptr(2.5)}

	high := Evaluate(result, ind, models.ImpactHigh)
	assert.Equal(t, models.StatusMiss, high.Status)
	assert.Equal(t, "1s", high.Target)

	medium := Evaluate(result, ind, models.ImpactMedium)
	assert.Equal(t, models.StatusMiss, medium.Status)
	assert.Equal(t, "2s", medium.Target)

	low := Evaluate(result, ind, models.ImpactLow)
	assert.Equal(t, models.StatusHit, low.Status)
	assert.Equal(t, "3s", low.Target)
	assert.Equal(t, "2.5", low.Result)
}

func TestEvaluateFlag(t *testing.T) {
	ind := indicator(models.OutcomeFlag, "", "", "")

	miss := Evaluate(probe.Result{ProblemDetected: true, Details: "HTTP 503"}, ind, models.ImpactHigh)
	assert.Equal(t, models.StatusMiss, miss.Status)
	assert.Equal(t, "true", miss.Result)
	assert.Equal(t, "HTTP 503", miss.Details)
	assert.Nil(t, miss.Value)

	hit := Evaluate(probe.Result{ProblemDetected: false}, ind, models.ImpactHigh)
	assert.Equal(t, models.StatusHit, hit.Status)
	assert.Equal(t, "false", hit.Result)
}

func TestEvaluateFallsBackToFlag(t *testing.T) {
	t.Run("阈值无法解析", func(t *testing.T) {
		ind := indicator(models.OutcomeSeconds, "N/A", "N/A", "N/A")
		v := Evaluate(probe.Result{ProblemDetected: true, Value: ptr(0.1)}, ind, models.ImpactLow)
		assert.Equal(t, models.StatusMiss, v.Status)
		require.NotNil(t, v.Value)
		assert.Equal(t, 0.1, *v.Value)
	})

	t.Run("数值为空", func(t *testing.T) {
		ind := indicator(models.OutcomePercent, "80%", "80%", "80%")
		v := Evaluate(probe.Result{ProblemDetected: false}, ind, models.ImpactLow)
		assert.Equal(t, models.StatusHit, v.Status)
		assert.Nil(t, v.Value)
	})
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "97.5%", Display(models.OutcomePercent, false, ptr(97.5)))
	assert.Equal(t, "2.5", Display(models.OutcomeSeconds, false, ptr(2.5)))
	assert.Equal(t, "3.25", Display(models.OutcomeMegabytes, true, ptr(3.25)))
	assert.Equal(t, "true", Display(models.OutcomeFlag, true, nil))
}
