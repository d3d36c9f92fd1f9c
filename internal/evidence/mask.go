package evidence

import "strings"

// Mask 脱敏，仅保留首尾字符
func Mask(v string) string {
	r := []rune(v)
	n := len(r)
	if n <= 2 {
		return strings.Repeat("*", n)
	}
	return string(r[0]) + strings.Repeat("*", n-2) + string(r[n-1])
}

func maskIf(masked bool, v string) string {
	if masked {
		return Mask(v)
	}
	return v
}
