package workflow

import (
	"regexp"
	"strconv"
	"time"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render replaces {{field}} placeholders with snapshot values. Unknown
// fields render as the empty string.
func Render(tmpl string, s Snapshot) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		field := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := s.Lookup(field)
		if !ok {
			return ""
		}
		return formatValue(v)
	})
}

func formatValue(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.Format("2 Jan 2006")
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
	}
	return toString(v)
}
