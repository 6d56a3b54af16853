package templates

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aymerick/raymond"
)

// Named date layouts accepted by formatDate. Anything else is treated as a Go
// reference layout.
var dateLayouts = map[string]string{
	"short":    "Jan 2, 2006",
	"long":     "Monday, January 2, 2006",
	"date":     "2006-01-02",
	"time":     "3:04 PM",
	"datetime": "Jan 2, 2006 3:04 PM",
	"iso":      time.RFC3339,
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"INR": "₹",
	"JPY": "¥",
}

// helpers is the helper set registered on every parsed template. For plain
// text templates the results are marked safe so raymond leaves them unescaped.
func helpers(plain bool) map[string]interface{} {
	text := func(s string) interface{} {
		if plain {
			return raymond.SafeString(s)
		}
		return s
	}
	return map[string]interface{}{
		"formatDate":     func(value, format interface{}) interface{} { return text(formatDate(value, format)) },
		"formatCurrency": func(amount, currency interface{}) interface{} { return text(formatCurrency(amount, currency)) },
		"uppercase":      func(s interface{}) interface{} { return text(strings.ToUpper(raymond.Str(s))) },
		"lowercase":      func(s interface{}) interface{} { return text(strings.ToLower(raymond.Str(s))) },
		"capitalize":     func(s interface{}) interface{} { return text(capitalize(s)) },
		"truncate":       func(value, length interface{}) interface{} { return text(truncate(value, length)) },
		"eq":             func(a, b interface{}) bool { return raymond.Str(a) == raymond.Str(b) },
		"join":           func(list, sep interface{}) interface{} { return text(join(list, sep)) },
	}
}

// optional returns the string form of a trailing helper argument. raymond
// passes its *Options in that position when the argument is omitted.
func optional(arg interface{}) string {
	if _, isOptions := arg.(*raymond.Options); isOptions {
		return ""
	}
	return raymond.Str(arg)
}

func formatDate(value, format interface{}) string {
	t, ok := toTime(value)
	if !ok {
		return raymond.Str(value)
	}
	layout := optional(format)
	if named, found := dateLayouts[layout]; found {
		layout = named
	}
	if layout == "" {
		layout = dateLayouts["short"]
	}
	return t.Format(layout)
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case raymond.SafeString:
		return toTime(string(v))
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case float64:
		// JSON numbers arrive as float64: treat as unix seconds.
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case int:
		return time.Unix(int64(v), 0).UTC(), true
	}
	return time.Time{}, false
}

func formatCurrency(amount, currency interface{}) string {
	value, ok := toFloat(amount)
	if !ok {
		return raymond.Str(amount)
	}
	code := strings.ToUpper(optional(currency))
	if code == "" {
		code = "USD"
	}

	decimals := 2
	if code == "JPY" {
		decimals = 0
	}
	sign := ""
	if value < 0 {
		sign = "-"
		value = math.Abs(value)
	}
	formatted := groupThousands(strconv.FormatFloat(value, 'f', decimals, 64))

	if symbol, found := currencySymbols[code]; found {
		return sign + symbol + formatted
	}
	return sign + formatted + " " + code
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case raymond.SafeString:
		return toFloat(string(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func groupThousands(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func capitalize(value interface{}) string {
	s := raymond.Str(value)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// truncate shortens value to at most length runes, ending with "..." when cut.
func truncate(value, length interface{}) string {
	s := raymond.Str(value)
	n, err := strconv.Atoi(optional(length))
	if err != nil || n < 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func join(list, sep interface{}) string {
	separator := optional(sep)
	v := reflect.ValueOf(list)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return raymond.Str(list)
	}
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = raymond.Str(v.Index(i).Interface())
	}
	return strings.Join(parts, separator)
}
