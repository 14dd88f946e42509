package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"georisk/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.PositionFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap flattens an object, lifting a nested "coords" or "coordinate"
// object the way mobile location APIs report it.
func ParseJSONMap(obj map[string]interface{}) *normalize.PositionFields {
	fields := &normalize.PositionFields{Extras: map[string]string{}}
	kv := map[string]string{}
	for key, val := range obj {
		if nested, ok := val.(map[string]interface{}); ok {
			for nk, nv := range nested {
				kv[strings.ToLower(nk)] = formatValue(nv)
			}
			continue
		}
		kv[strings.ToLower(key)] = formatValue(val)
	}
	assignAliases(fields, kv)
	return fields
}

func formatValue(v interface{}) string {
	switch n := v.(type) {
	case float64:
		// %v would switch to exponent form for epoch milliseconds
		return strconv.FormatFloat(n, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
