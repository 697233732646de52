package job

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/preempt/errors"
)

// ParseMemory converts a scheduler memory value ("480G", "512000M", "1T", "2048")
// to megabytes. A bare number is megabytes, as sbatch treats it.
func ParseMemory(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	mult := 1
	switch s[len(s)-1] {
	case 'K':
		mult = -1024
	case 'M':
		mult = 1
	case 'G':
		mult = 1024
	case 'T':
		mult = 1024 * 1024
	}
	if s[len(s)-1] < '0' || s[len(s)-1] > '9' {
		s = s[:len(s)-1]
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Newf("invalid memory value %q", s)
	}
	if mult < 0 {
		return (n + 1023) / 1024, nil
	}
	return n * mult, nil
}

// FormatMemory renders megabytes the way sbatch --mem expects, preferring G.
func FormatMemory(mb int) string {
	if mb > 0 && mb%1024 == 0 {
		return fmt.Sprintf("%dG", mb/1024)
	}
	return fmt.Sprintf("%dM", mb)
}

// ParseTimeLimit accepts the sbatch --time forms: "minutes", "minutes:seconds",
// "hours:minutes:seconds", "days-hours", "days-hours:minutes",
// "days-hours:minutes:seconds".
func ParseTimeLimit(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var days int
	rest := s
	hasDays := false
	if i := strings.IndexByte(s, '-'); i >= 0 {
		d, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, errors.Newf("invalid time limit %q", s)
		}
		days, rest, hasDays = d, s[i+1:], true
	}

	parts := strings.Split(rest, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, errors.Newf("invalid time limit %q", s)
		}
		nums[i] = n
	}

	var h, m, sec int
	switch {
	case hasDays && len(nums) == 1:
		h = nums[0]
	case hasDays && len(nums) == 2:
		h, m = nums[0], nums[1]
	case len(nums) == 3:
		h, m, sec = nums[0], nums[1], nums[2]
	case !hasDays && len(nums) == 1:
		m = nums[0]
	case !hasDays && len(nums) == 2:
		m, sec = nums[0], nums[1]
	default:
		return 0, errors.Newf("invalid time limit %q", s)
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second, nil
}

// FormatTimeLimit renders a duration as D-HH:MM:SS (or HH:MM:SS under a day).
func FormatTimeLimit(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	days := total / 86400
	total %= 86400
	h, m, s := total/3600, (total%3600)/60, total%60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
