package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// nullWords are model outputs that mean "no value".
var nullWords = map[string]bool{
	"none": true,
	"null": true,
	"n/a":  true,
	"na":   true,
}

// ExtractJSONObject pulls the JSON object out of raw model text, tolerating
// markdown fences or prose around it: everything between the first '{' and
// the last '}'.
func ExtractJSONObject(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found in model response")
	}
	return []byte(text[start : end+1]), nil
}

// ParsePayload decodes a model JSON object into a flat field map.
// Non-string values are stringified; nested values are rejected.
func ParsePayload(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case nil:
			fields[k] = ""
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = fmt.Sprintf("%t", val)
		default:
			return nil, fmt.Errorf("field %s has non-scalar value", k)
		}
	}
	return fields, nil
}

// Clean normalizes an extracted field map in place of the model's raw
// output: every expected field present, whitespace collapsed, null words
// scrubbed, insurer name enforced. Unknown fields are dropped.
func Clean(fields map[string]string, insurer Insurer) map[string]string {
	out := make(map[string]string, len(FieldNames))
	for _, name := range FieldNames {
		v := strings.Join(strings.Fields(fields[name]), " ")
		if nullWords[strings.ToLower(v)] {
			v = ""
		}
		out[name] = v
	}

	switch insurer {
	case InsurerReliance:
		if !strings.Contains(strings.ToLower(out["INSURANCE_COMPANY_NAME"]), "reliance") {
			out["INSURANCE_COMPANY_NAME"] = "Reliance General Insurance"
		}
	case InsurerShriram:
		if !strings.Contains(strings.ToLower(out["INSURANCE_COMPANY_NAME"]), "shriram") {
			out["INSURANCE_COMPANY_NAME"] = "SHRIRAM GENERAL INSURANCE COMPANY LIMITED"
		}
	}
	return out
}
