package evaluator

import (
	"math"
	"strconv"
	"strings"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/probe"
)

// ParseTarget 去掉单位等无关字符后解析阈值，如 "1%" -> 1, "5s" -> 5, "3.5MB" -> 3.5
func ParseTarget(target string) (float64, error) {
	var b strings.Builder
	for _, r := range target {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, kpierr.Wrap(kpierr.ErrTargetParse, strconv.ErrSyntax)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, kpierr.Wrap(kpierr.ErrTargetParse, err)
	}
	return v, nil
}

// Evaluate 根据指标结果类型和资产影响级别判定 hit/miss
func Evaluate(result probe.Result, indicator models.Indicator, level models.ImpactLevel) models.Verdict {
	target := indicator.TargetFor(level)
	verdict := models.Verdict{
		Target:  target,
		Details: result.Details,
	}

	hit := !result.ProblemDetected
	if indicator.Outcome.Numeric() && result.Value != nil {
		// 判定使用原始测量值，舍入只用于存储和展示
		measured := *result.Value
		value := round(measured)
		verdict.Value = &value
		if threshold, err := ParseTarget(target); err == nil {
			hit = compare(indicator.Outcome, measured, threshold)
		}
	}

	if hit {
		verdict.Status = models.StatusHit
	} else {
		verdict.Status = models.StatusMiss
	}
	verdict.Result = Display(indicator.Outcome, result.ProblemDetected, verdict.Value)
	return verdict
}

func compare(outcome models.Outcome, value, threshold float64) bool {
	switch outcome {
	case models.OutcomePercent:
		return value >= threshold
	default:
		// Seconds / Megabytes 越小越好
		return value <= threshold
	}
}

// Display 结果展示值
func Display(outcome models.Outcome, problemDetected bool, value *float64) string {
	if outcome == models.OutcomeFlag || !outcome.Numeric() {
		return strconv.FormatBool(problemDetected)
	}
	if value == nil {
		return strconv.FormatBool(problemDetected)
	}
	s := strconv.FormatFloat(*value, 'f', -1, 64)
	if outcome == models.OutcomePercent {
		return s + "%"
	}
	return s
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
