package timestamp

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrInvalidTimestamp 所有支持的格式都无法解析
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrTimestampOutOfRange 解析成功但超出允许的时间范围
	ErrTimestampOutOfRange = errors.New("timestamp out of range")
)

// CanonicalLayout 写入 last_changed / last_updated 的 UTC 格式
const CanonicalLayout = "2006-01-02T15:04:05.000000Z"

// offsetLayout 非 UTC 时保留原始偏移
const offsetLayout = "2006-01-02T15:04:05.000000-07:00"

const day = 24 * time.Hour

// MaxOffsetDays time.Duration 能表示的最大天数
const MaxOffsetDays = int(math.MaxInt64 / int64(day))

// 支持的输入格式，按顺序尝试
// 解析时 Go 允许秒后带小数部分，因此无需单独列出带毫秒的格式
var layouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer 时间戳规范化和范围校验
type Normalizer struct {
	maxOffset    time.Duration
	rejectFuture bool
	now          func() time.Time
}

// Option Normalizer 可选项
type Option func(*Normalizer)

// WithClock 替换当前时间来源（测试使用）
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// RejectFuture 晚于当前时间的时间戳一律超出范围
func RejectFuture() Option {
	return func(n *Normalizer) { n.rejectFuture = true }
}

// NewNormalizer 创建规范化器，maxOffsetDays 为允许偏离当前时间的天数（双向）
// 超过 MaxOffsetDays 时按 MaxOffsetDays 处理
func NewNormalizer(maxOffsetDays int, opts ...Option) *Normalizer {
	if maxOffsetDays > MaxOffsetDays {
		maxOffsetDays = MaxOffsetDays
	}
	n := &Normalizer{
		maxOffset: time.Duration(maxOffsetDays) * day,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Parse 按支持的格式解析时间戳
// 无时间部分视为午夜，无时区视为 UTC
func Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

// Format 输出规范格式：UTC 使用 Z 结尾，其他时区保留偏移，秒固定 6 位小数
func Format(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return t.UTC().Format(CanonicalLayout)
	}
	return t.Format(offsetLayout)
}

// Normalize 解析并校验时间戳
func (n *Normalizer) Normalize(raw string) (time.Time, error) {
	t, err := Parse(raw)
	if err != nil {
		return time.Time{}, err
	}

	diff := n.now().Sub(t)
	if diff < 0 {
		if n.rejectFuture {
			return time.Time{}, fmt.Errorf("%w: %s is in the future", ErrTimestampOutOfRange, raw)
		}
		diff = -diff
		if diff < 0 {
			diff = math.MaxInt64
		}
	}
	// 按整天比较：差值 30 天零 23 小时仍算 30 天
	if days := diff / day; days > n.maxOffset/day {
		return time.Time{}, fmt.Errorf("%w: %s is %d days from now (max %d)",
			ErrTimestampOutOfRange, raw, int64(days), int64(n.maxOffset/day))
	}

	return t, nil
}

// Canonical 解析、校验并返回规范字符串
func (n *Normalizer) Canonical(raw string) (string, error) {
	t, err := n.Normalize(raw)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}
