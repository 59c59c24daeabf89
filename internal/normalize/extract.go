// Copyright 2024 CarbonAI Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numberRegex pulls the first number out of strings like "$1,200" or "2.5 tons"
var numberRegex = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ExtractSpan returns the greedy span from the first open bracket to the last
// matching close bracket, e.g. '[' through the final ']'.
func ExtractSpan(raw string, open byte) (string, bool) {
	var closing byte
	switch open {
	case '[':
		closing = ']'
	case '{':
		closing = '}'
	default:
		return "", false
	}

	start := strings.IndexByte(raw, open)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(raw, closing)
	if end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// ExtractJSON returns the first JSON array or object span in raw, choosing
// whichever bracket appears first
func ExtractJSON(raw string) (string, bool) {
	arr := strings.IndexByte(raw, '[')
	obj := strings.IndexByte(raw, '{')

	switch {
	case arr < 0 && obj < 0:
		return "", false
	case obj < 0 || (arr >= 0 && arr < obj):
		if span, ok := ExtractSpan(raw, '['); ok {
			return span, true
		}
		return ExtractSpan(raw, '{')
	default:
		if span, ok := ExtractSpan(raw, '{'); ok {
			return span, true
		}
		return ExtractSpan(raw, '[')
	}
}

// decodeArray finds and decodes a JSON array of objects. An object wrapping an
// array under one of keys is accepted too.
func decodeArray(raw string, keys ...string) ([]map[string]any, bool) {
	if span, ok := ExtractSpan(raw, '['); ok {
		var items []any
		if err := json.Unmarshal([]byte(span), &items); err == nil {
			return objects(items), true
		}
	}

	obj, ok := decodeObject(raw)
	if !ok {
		return nil, false
	}
	for _, key := range keys {
		if items, ok := obj[key].([]any); ok {
			return objects(items), true
		}
	}
	return nil, false
}

// decodeObject finds and decodes a JSON object
func decodeObject(raw string) (map[string]any, bool) {
	span, ok := ExtractSpan(raw, '{')
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// str returns the first non-empty string (or stringified number) under keys
func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// num returns the first numeric value under keys. Strings are accepted when
// they contain a number.
func num(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				return v, true
			}
		case string:
			match := numberRegex.FindString(strings.ReplaceAll(v, ",", ""))
			if match == "" {
				continue
			}
			if f, err := strconv.ParseFloat(match, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// strs returns the non-empty strings of the first array under keys. A single
// string value is treated as a one-element array.
func strs(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				switch s := item.(type) {
				case string:
					if t := strings.TrimSpace(s); t != "" {
						out = append(out, t)
					}
				case map[string]any:
					if t := str(s, "text", "description", "title", "name"); t != "" {
						out = append(out, t)
					}
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if t := strings.TrimSpace(v); t != "" {
				return []string{t}
			}
		}
	}
	return nil
}

// confidence normalizes a 0-1 or 0-100 confidence to an int percentage
func confidence(m map[string]any, def int) int {
	v, ok := num(m, "confidence", "confidence_score", "confidenceScore")
	if !ok || v < 0 {
		return def
	}
	if v <= 1 {
		v *= 100
	}
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}

func truncate(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}
