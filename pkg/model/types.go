package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionID string
type TargetID string

// ExchangeRate 汇率快照：每单位目标金属（克）对应的美元价格
type ExchangeRate struct {
	RatePerUnit decimal.Decimal `json:"ratePerUnit"`
	Source      string          `json:"source"`
	ObservedAt  time.Time       `json:"observedAt"`
}

// Valid 判断汇率是否可用于换算
func (r *ExchangeRate) Valid() bool {
	return r != nil && r.RatePerUnit.IsPositive()
}

// Equal 判断两个汇率快照是否等价
func (r *ExchangeRate) Equal(o *ExchangeRate) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.RatePerUnit.Equal(o.RatePerUnit) && r.Source == o.Source && r.ObservedAt.Equal(o.ObservedAt)
}

// MatchCandidate 单次扫描中的候选金额
type MatchCandidate struct {
	Start             int
	End               int
	RawText           string
	NormalizedAmount  decimal.Decimal
	SourcePatternRank int
	Valid             bool
	Err               error // 解析失败原因，Valid 为 false 时非空
}

// Replacement 一次需要写入 DOM 的替换
type Replacement struct {
	Start        int
	End          int
	OriginalText string
	Amount       decimal.Decimal
	DisplayText  string
}

type DisplayFormat string

const (
	DisplayMetric DisplayFormat = "metric"
	DisplayTroy   DisplayFormat = "troy"
)

// ParseDisplayFormat 解析显示格式，未知值回落为 metric
func ParseDisplayFormat(s string) DisplayFormat {
	switch DisplayFormat(s) {
	case DisplayTroy:
		return DisplayTroy
	default:
		return DisplayMetric
	}
}

// ExtensionState 进程级配置，由外部持有
type ExtensionState struct {
	Enabled       bool          `json:"enabled"`
	DisplayFormat DisplayFormat `json:"displayFormat"`
}

// Settings 设置存储的完整快照
type Settings struct {
	State        ExtensionState `json:"state"`
	ExcludedURLs []string       `json:"excludedUrls"`
}

// DefaultSettings 返回默认设置
func DefaultSettings() Settings {
	return Settings{
		State:        ExtensionState{Enabled: true, DisplayFormat: DisplayMetric},
		ExcludedURLs: []string{},
	}
}

type NotificationType string

const (
	NotifyRateUpdated          NotificationType = "rate-updated"
	NotifyToggleConversion     NotificationType = "toggle-conversion"
	NotifyExclusionsUpdated    NotificationType = "exclusion-list-updated"
	NotifyDisplayFormatUpdated NotificationType = "display-format-updated"
)

// Notification 推送给页面控制器的通知
type Notification struct {
	Type    NotificationType `json:"type"`
	Rate    *ExchangeRate    `json:"rate,omitempty"`
	Enabled bool             `json:"enabled"`
	Rules   []string         `json:"rules,omitempty"`
	Format  DisplayFormat    `json:"format,omitempty"`
}

// Event 对外发出的运行事件
type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	URL       string    `json:"url"`
	State     string    `json:"state,omitempty"`
	Result    string    `json:"result,omitempty"`
	Converted int       `json:"converted"`
	Reverted  int       `json:"reverted"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
	IsUser    bool     `json:"isUser"`
}
