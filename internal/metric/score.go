package metric

import (
	"sort"
	"strings"

	"github.com/dushixiang/kpimon/internal/models"
)

// IndicatorRate 单个指标在窗口内的命中情况
type IndicatorRate struct {
	IndicatorID string
	Group       string
	Weight      float64
	Hits        int64
	Total       int64
}

// GroupIndices 计算分组指数（0-100）
// 窗口内没有数据的指标不参与加权，整组都没有数据时 HasData 为 false
func GroupIndices(rates []IndicatorRate) map[string]models.GroupStat {
	type acc struct {
		weighted float64
		weight   float64
		stat     models.GroupStat
	}
	accs := make(map[string]*acc, len(models.Groups))
	for _, g := range models.Groups {
		accs[g] = &acc{}
	}

	for _, r := range rates {
		if r.Total <= 0 {
			continue
		}
		a, ok := accs[r.Group]
		if !ok {
			a = &acc{}
			accs[r.Group] = a
		}
		hitRate := float64(r.Hits) / float64(r.Total) * 100
		a.weighted += hitRate * r.Weight
		a.weight += r.Weight
		a.stat.Indicators++
		a.stat.Hits += r.Hits
		a.stat.Total += r.Total
	}

	result := make(map[string]models.GroupStat, len(accs))
	for group, a := range accs {
		stat := a.stat
		if a.weight > 0 {
			stat.Index = a.weighted / a.weight
			stat.HasData = true
		}
		result[group] = stat
	}
	return result
}

// Composite 按权重组合分组指数，只统计有数据的分组
func Composite(groups map[string]models.GroupStat, weights map[string]float64) float64 {
	var sum, total float64
	for group, w := range weights {
		stat, ok := groups[group]
		if !ok || !stat.HasData {
			continue
		}
		sum += stat.Index * w
		total += w
	}
	if total <= 0 {
		return 0
	}
	return sum / total
}

// DREIInput DREI 计算所需的输入
type DREIInput struct {
	Incidents   map[models.Severity]models.SeverityStat
	Checks      int64
	Misses      int64
	Weights     map[string]float64 // DREI 分类权重
	Criticality float64            // 资产关键程度百分比
}

// DREI 返回归一化后的原始值和乘以资产关键程度后的最终值
func DREI(in DREIInput) (raw, final float64) {
	var component, total float64
	for _, bucket := range models.DREIBuckets {
		w := in.Weights[bucket.Name]
		stat := in.Incidents[bucket.Severity]
		var ratio float64
		if stat.Total > 0 {
			ratio = float64(stat.Open) / float64(stat.Total) * 100
		}
		component += ratio * w
	}

	var breach float64
	if in.Checks > 0 {
		breach = float64(in.Misses) / float64(in.Checks) * 100
	}
	component += breach * in.Weights[models.DREISLABreach]

	for _, w := range in.Weights {
		total += w
	}
	if total > 0 {
		raw = component / total
	}
	return raw, raw * in.Criticality / 100
}

// CurrentHealth 综合健康度
func CurrentHealth(ocm, drei float64) float64 {
	return (ocm + (100 - drei)) / 2
}

// Criticality 按前缀匹配资产关键程度（忽略大小写），名称更长的优先，匹配不到时使用默认值
func Criticality(level string, weights map[string]float64, def float64) float64 {
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		return def
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		if name != "" && strings.HasPrefix(level, strings.ToUpper(name)) {
			return weights[name]
		}
	}
	return def
}
