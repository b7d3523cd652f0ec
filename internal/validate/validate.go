// Package validate implements the Response Validator (C3): a pure function
// evaluating a declarative SuccessCriteria against a response.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

// ResponseHead is the subset of a response the validator needs beyond the
// body: status and headers.
type ResponseHead struct {
	StatusCode int
	Headers    map[string]string // case-sensitive as received; lookups are case-insensitive
}

// Evaluate runs every present field of criteria against the response,
// in the order listed in §4.3, accumulating all failure reasons (no
// short-circuiting — "all run even if one fails").
func Evaluate(head ResponseHead, bodyText string, responseTime time.Duration, criteria loadmodel.SuccessCriteria) loadmodel.ValidationVerdict {
	var reasons []string

	if len(criteria.AcceptedStatusCodes) > 0 {
		if !containsInt(criteria.AcceptedStatusCodes, head.StatusCode) {
			reasons = append(reasons, fmt.Sprintf("status %d not in accepted set %v", head.StatusCode, criteria.AcceptedStatusCodes))
		}
	}

	if criteria.MaxResponseTimeMs != nil {
		limit := time.Duration(*criteria.MaxResponseTimeMs) * time.Millisecond
		if responseTime > limit {
			reasons = append(reasons, fmt.Sprintf("response time %v exceeds max %v", responseTime, limit))
		}
	}

	if criteria.BodyRegex != nil {
		re, err := regexp.Compile("(?im)" + *criteria.BodyRegex)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("body_regex invalid: %v", err))
		} else if !re.MatchString(bodyText) {
			reasons = append(reasons, fmt.Sprintf("body does not match regex %q", *criteria.BodyRegex))
		}
	}

	if len(criteria.BodyMustContain) > 0 {
		lowerBody := strings.ToLower(bodyText)
		for _, want := range criteria.BodyMustContain {
			if !strings.Contains(lowerBody, strings.ToLower(want)) {
				reasons = append(reasons, fmt.Sprintf("body does not contain %q", want))
			}
		}
	}

	for _, hc := range criteria.HeaderChecks {
		if reason := evaluateHeader(head.Headers, hc); reason != "" {
			reasons = append(reasons, reason)
		}
	}

	if len(criteria.JSONPathChecks) > 0 {
		var parsed interface{}
		parseErr := json.Unmarshal([]byte(bodyText), &parsed)
		for _, jc := range criteria.JSONPathChecks {
			if parseErr != nil {
				reasons = append(reasons, fmt.Sprintf("json_path %q: body is not valid JSON: %v", jc.Path, parseErr))
				continue
			}
			if reason := evaluateJSONPath(parsed, jc); reason != "" {
				reasons = append(reasons, reason)
			}
		}
	}

	bodyLen := len(bodyText)
	if criteria.MinBodyBytes != nil && bodyLen < *criteria.MinBodyBytes {
		reasons = append(reasons, fmt.Sprintf("body size %d below min_body_bytes %d", bodyLen, *criteria.MinBodyBytes))
	}
	if criteria.MaxBodyBytes != nil && bodyLen > *criteria.MaxBodyBytes {
		reasons = append(reasons, fmt.Sprintf("body size %d above max_body_bytes %d", bodyLen, *criteria.MaxBodyBytes))
	}

	return loadmodel.ValidationVerdict{OK: len(reasons) == 0, Reasons: reasons}
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func evaluateHeader(headers map[string]string, hc loadmodel.HeaderCheck) string {
	actual, found := lookupHeader(headers, hc.Name)
	switch hc.Rule {
	case loadmodel.HeaderPresent:
		if !found {
			return fmt.Sprintf("header %q not present", hc.Name)
		}
	case loadmodel.HeaderEquals:
		if !found || actual != hc.Expected {
			return fmt.Sprintf("header %q = %q, want %q", hc.Name, actual, hc.Expected)
		}
	case loadmodel.HeaderContains:
		if !found || !strings.Contains(strings.ToLower(actual), strings.ToLower(hc.Expected)) {
			return fmt.Sprintf("header %q does not contain %q", hc.Name, hc.Expected)
		}
	case loadmodel.HeaderRegex:
		if !found {
			return fmt.Sprintf("header %q not present", hc.Name)
		}
		re, err := regexp.Compile("(?i)" + hc.Expected)
		if err != nil {
			return fmt.Sprintf("header %q regex invalid: %v", hc.Name, err)
		}
		if !re.MatchString(actual) {
			return fmt.Sprintf("header %q does not match regex %q", hc.Name, hc.Expected)
		}
	default:
		return fmt.Sprintf("header %q: unknown rule %q", hc.Name, hc.Rule)
	}
	return ""
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	for k, v := range headers {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return "", false
}

// evaluateJSONPath implements the restricted grammar: a leading $, then
// dot-separated property names, no array indexing, no wildcards (§4.3).
func evaluateJSONPath(root interface{}, jc loadmodel.JSONPathCheck) string {
	value, err := walkJSONPath(root, jc.Path)
	if err != nil {
		return fmt.Sprintf("json_path %q: %v", jc.Path, err)
	}

	switch jc.Rule {
	case loadmodel.JSONPathPresent:
		return ""
	case loadmodel.JSONPathIsNumber:
		if _, ok := value.(float64); !ok {
			return fmt.Sprintf("json_path %q: value is not a number", jc.Path)
		}
	case loadmodel.JSONPathIsString:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("json_path %q: value is not a string", jc.Path)
		}
	case loadmodel.JSONPathEquals:
		if !strings.EqualFold(stringifyJSON(value), jc.Expected) {
			return fmt.Sprintf("json_path %q: value %q != %q", jc.Path, stringifyJSON(value), jc.Expected)
		}
	case loadmodel.JSONPathRegex:
		str, ok := value.(string)
		if !ok {
			return fmt.Sprintf("json_path %q: regex rule requires a string-typed value", jc.Path)
		}
		re, err := regexp.Compile("(?i)" + jc.Expected)
		if err != nil {
			return fmt.Sprintf("json_path %q: regex invalid: %v", jc.Path, err)
		}
		if !re.MatchString(str) {
			return fmt.Sprintf("json_path %q: value %q does not match regex %q", jc.Path, str, jc.Expected)
		}
	default:
		return fmt.Sprintf("json_path %q: unknown rule %q", jc.Path, jc.Rule)
	}
	return ""
}

func walkJSONPath(root interface{}, path string) (interface{}, error) {
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "$") {
		return nil, fmt.Errorf("path must start with $")
	}
	trimmed = strings.TrimPrefix(trimmed, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return root, nil
	}

	current := root
	for _, segment := range strings.Split(trimmed, ".") {
		if segment == "" {
			return nil, fmt.Errorf("path not found: empty segment")
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path not found: %q is not an object", segment)
		}
		value, ok := obj[segment]
		if !ok {
			return nil, fmt.Errorf("path not found: %q", segment)
		}
		current = value
	}
	return current, nil
}

func stringifyJSON(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "null"
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
