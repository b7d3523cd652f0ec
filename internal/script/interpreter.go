// Package script implements the Script Interpreter (C4): a line-oriented
// six-statement micro-DSL, deliberately not a general-purpose interpreter
// (§9, §4.4).
package script

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/variables"
)

var (
	reParseResponseField = regexp.MustCompile(`^var\s+(\w+)\s*=\s*JSON\.parse\(responseBody\)\.(\w+)\s*;?$`)
	reParseRequestBody   = regexp.MustCompile(`^var\s+(\w+)\s*=\s*JSON\.parse\(pm\.request\.body\.raw\)\s*;?$`)
	reStringify          = regexp.MustCompile(`^var\s+(\w+)\s*=\s*JSON\.stringify\((\w+)\)\s*;?$`)
	reBtoa               = regexp.MustCompile(`^var\s+(\w+)\s*=\s*btoa\((\w+)\)\s*;?$`)
	reLiteral            = regexp.MustCompile(`^var\s+(\w+)\s*=\s*"([^"]*)"\s*;?$`)
	reSetCollectionVar   = regexp.MustCompile(`^pm\.collectionVariables\.set\(\s*"([^"]+)"\s*,\s*(\w+)\s*\)\s*;?$`)
)

// Context carries the values the six statement forms may read: the most
// recent response body and the request body that was sent for this step.
type Context struct {
	ResponseBody string
	RequestBody  string
}

// Run applies every statement in order against temp (the VU-local scratch
// map for this step) and vars (the persistent ResolvedVariables, mutated
// only by statement 6). Any statement that fails to parse or execute is
// logged and skipped — it must never abort the iteration (§4.4, §7).
func Run(statements []loadmodel.ScriptStatement, ctx Context, temp map[string]string, vars *variables.Store, log *zap.SugaredLogger) {
	if temp == nil {
		return
	}
	for _, raw := range statements {
		line := strings.TrimSpace(string(raw))
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if err := execute(line, ctx, temp, vars); err != nil {
			if log != nil {
				log.Warnw("script statement skipped", "statement", line, "error", err)
			}
		}
	}
}

func execute(line string, ctx Context, temp map[string]string, vars *variables.Store) error {
	switch {
	case reParseResponseField.MatchString(line):
		m := reParseResponseField.FindStringSubmatch(line)
		return stmtParseResponseField(m[1], m[2], ctx.ResponseBody, temp)

	case reParseRequestBody.MatchString(line):
		m := reParseRequestBody.FindStringSubmatch(line)
		temp[m[1]] = ctx.RequestBody
		return nil

	case reStringify.MatchString(line):
		m := reStringify.FindStringSubmatch(line)
		value, ok := temp[m[2]]
		if !ok {
			return fmt.Errorf("JSON.stringify: temp var %q not set", m[2])
		}
		temp[m[1]] = value
		return nil

	case reBtoa.MatchString(line):
		m := reBtoa.FindStringSubmatch(line)
		value, ok := temp[m[2]]
		if !ok {
			return fmt.Errorf("btoa: temp var %q not set", m[2])
		}
		temp[m[1]] = base64.StdEncoding.EncodeToString([]byte(value))
		return nil

	case reLiteral.MatchString(line):
		m := reLiteral.FindStringSubmatch(line)
		temp[m[1]] = m[2]
		return nil

	case reSetCollectionVar.MatchString(line):
		m := reSetCollectionVar.FindStringSubmatch(line)
		value, ok := temp[m[2]]
		if !ok {
			return fmt.Errorf("pm.collectionVariables.set: temp var %q not set", m[2])
		}
		vars.Set(m[1], value)
		return nil

	default:
		return fmt.Errorf("unrecognised statement form")
	}
}

// stmtParseResponseField implements statement 1: parse responseBody as JSON
// and store the textual representation of property F. A string property
// is stored raw (no quoting); any other type is stored as raw JSON text.
func stmtParseResponseField(dest, field, responseBody string, temp map[string]string) error {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(responseBody), &parsed); err != nil {
		return fmt.Errorf("response body is not a JSON object: %w", err)
	}
	value, ok := parsed[field]
	if !ok {
		return fmt.Errorf("property %q not found in response body", field)
	}
	if s, ok := value.(string); ok {
		temp[dest] = s
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("re-encoding property %q: %w", field, err)
	}
	temp[dest] = string(encoded)
	return nil
}
