package carrier

import (
	"fmt"
	"net/url"
	"strconv"
)

// Form flattens nested values into carrier form fields: maps become a[b], slices
// become a[0], and both combine as a[0][b]. nil values are left out.
func Form(values map[string]any) url.Values {
	out := url.Values{}
	for k, v := range values {
		flatten(out, k, v)
	}
	return out
}

func flatten(out url.Values, key string, v any) {
	switch t := v.(type) {
	case nil:
	case map[string]any:
		for k, inner := range t {
			flatten(out, key+"["+k+"]", inner)
		}
	case map[string]string:
		for k, inner := range t {
			out.Add(key+"["+k+"]", inner)
		}
	case []any:
		for i, inner := range t {
			flatten(out, key+"["+strconv.Itoa(i)+"]", inner)
		}
	case []map[string]any:
		for i, inner := range t {
			flatten(out, key+"["+strconv.Itoa(i)+"]", inner)
		}
	case []string:
		for i, inner := range t {
			out.Add(key+"["+strconv.Itoa(i)+"]", inner)
		}
	case string:
		out.Add(key, t)
	case bool:
		if t {
			out.Add(key, "1")
		} else {
			out.Add(key, "0")
		}
	case int:
		out.Add(key, strconv.Itoa(t))
	case int64:
		out.Add(key, strconv.FormatInt(t, 10))
	case float64:
		out.Add(key, strconv.FormatFloat(t, 'f', -1, 64))
	default:
		out.Add(key, fmt.Sprint(t))
	}
}
