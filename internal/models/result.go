package models

// VerdictStatus 单次检测结论
type VerdictStatus string

const (
	StatusHit     VerdictStatus = "hit"
	StatusMiss    VerdictStatus = "miss"
	StatusSkipped VerdictStatus = "skipped"
	StatusError   VerdictStatus = "error"
)

// Counted 是否计入连续性窗口和命中率
func (s VerdictStatus) Counted() bool {
	return s == StatusHit || s == StatusMiss
}

// KPIResult 每个 (资产, 指标) 的最新结果快照
type KPIResult struct {
	ID          string        `gorm:"primaryKey" json:"id"`
	AssetID     string        `gorm:"uniqueIndex:ux_result_asset_indicator;not null" json:"assetId"`
	IndicatorID string        `gorm:"uniqueIndex:ux_result_asset_indicator;not null" json:"indicatorId"`
	Status      VerdictStatus `json:"status"`                   // hit/miss/skipped/error
	Value       *float64      `json:"value"`                    // 归一化数值，可能为空
	Result      string        `json:"result"`                   // 展示值，如 97.5%
	Target      string        `json:"target"`                   // 本次使用的目标值
	Details     string        `gorm:"type:text" json:"details"` // 探测详情
	CreatedAt   int64         `json:"createdAt"`                // 首次写入时间（毫秒）
	UpdatedAt   int64         `json:"updatedAt"`                // 最后更新时间（毫秒）
}

func (KPIResult) TableName() string {
	return "kpi_results"
}

// KPIResultHistory 追加写入的历史记录，Seq 单调递增决定先后顺序
type KPIResultHistory struct {
	Seq         uint64        `gorm:"primaryKey;autoIncrement" json:"seq"`
	ResultID    string        `gorm:"index" json:"resultId"`
	AssetID     string        `gorm:"index:idx_history_asset_indicator;index:idx_history_asset_created;not null" json:"assetId"`
	IndicatorID string        `gorm:"index:idx_history_asset_indicator;not null" json:"indicatorId"`
	Status      VerdictStatus `gorm:"index" json:"status"`
	Value       *float64      `json:"value"`
	Result      string        `json:"result"`
	Target      string        `json:"target"`
	Details     string        `gorm:"type:text" json:"details"`
	CreatedAt   int64         `gorm:"index:idx_history_asset_created" json:"createdAt"` // 毫秒
}

func (KPIResultHistory) TableName() string {
	return "kpi_result_histories"
}

// Verdict 一次评估的结论，写入快照和历史
type Verdict struct {
	Status  VerdictStatus `json:"status"`
	Value   *float64      `json:"value"`
	Result  string        `json:"result"`
	Target  string        `json:"target"`
	Details string        `json:"details"`
}

// SkippedVerdict 探测无法得出结论时使用
func SkippedVerdict(target, details string) Verdict {
	return Verdict{Status: StatusSkipped, Target: target, Details: details}
}
