package alarm

import (
	"fmt"
	"time"

	"mcs-iot/internal/models"
)

// parseClock 解析 "HH:MM"，返回当天分钟数
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// isoWeekday 1=周一 ... 7=周日
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// InWindow 判断 t 是否处于报警通知时段内
//
// 未启用时段限制时总是返回 true。起止时间均为闭区间；start > end 表示跨夜时段，
// 次日凌晨部分归属于开始的那一天。时段配置无法解析时按未限制处理。
func InWindow(cfg models.AlarmGeneralConfig, t time.Time) bool {
	if !cfg.TimeRestrictionEnabled {
		return true
	}

	start, err := parseClock(cfg.TimeRestrictionStart)
	if err != nil {
		return true
	}
	end, err := parseClock(cfg.TimeRestrictionEnd)
	if err != nil {
		return true
	}

	minute := t.Hour()*60 + t.Minute()
	day := isoWeekday(t)

	if start <= end {
		return containsDay(cfg.TimeRestrictionDays, day) && minute >= start && minute <= end
	}

	// 跨夜
	if minute >= start {
		return containsDay(cfg.TimeRestrictionDays, day)
	}
	if minute <= end {
		return containsDay(cfg.TimeRestrictionDays, isoWeekday(t.AddDate(0, 0, -1)))
	}
	return false
}
