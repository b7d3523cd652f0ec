// Package loadmodel defines the shared data model that flows between every
// component of the load generator: request templates, resolved variables,
// success criteria, and the results/metrics they produce.
package loadmodel

import "time"

// Method is an HTTP method recognised by the Request Builder.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// KV is an ordered key/value pair that may be disabled without being removed
// from the collection, matching Postman's header/query toggle semantics.
type KV struct {
	Key      string
	Value    string
	Disabled bool
}

// BodyKind distinguishes the shapes a RequestTemplate body may take.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyRaw
	BodyURLEncoded
	BodyMultipart
)

// Body holds the template body content for whichever BodyKind is set.
type Body struct {
	Kind    BodyKind
	Raw     string
	Fields  []KV // url-encoded pairs or multipart string parts
}

// ScriptStatement is one line of a pre_script or post_script list, still in
// its raw textual form; internal/script parses it.
type ScriptStatement string

// RequestTemplate is one named collection entry (§3).
type RequestTemplate struct {
	Name        string
	Method      Method
	URLRaw      string
	HostParts   []string
	PathParts   []string
	QueryParams []KV
	Headers     []KV
	Body        Body
	PreScript   []ScriptStatement
	PostScript  []ScriptStatement
}

// DataType is the declared type of a CSV column before substitution.
type DataType string

const (
	TypeString   DataType = "string"
	TypeInteger  DataType = "integer"
	TypeDouble   DataType = "double"
	TypeBoolean  DataType = "boolean"
	TypeDatetime DataType = "datetime"
)

// Encoding is applied after type coercion, before the value enters the
// variable store.
type Encoding string

const (
	EncodingNone   Encoding = "none"
	EncodingBase64 Encoding = "base64"
	EncodingURL    Encoding = "url"
)

// ColumnMapping describes one CSV column's projection into a placeholder.
type ColumnMapping struct {
	CSVColumn      string
	PlaceholderName string
	DataType       DataType
	Encoding       Encoding
}

// GlobalVariable is a collection-level constant available to every VU.
type GlobalVariable struct {
	Name  string
	Value string
}

// DataSourceConfig is the full column-mapping document: per-column rules
// plus collection-wide globals.
type DataSourceConfig struct {
	Columns []ColumnMapping
	Globals []GlobalVariable
}

// DataRow is one raw CSV record, column name to cell text.
type DataRow map[string]string

// HeaderRule is the comparison applied to one response header.
type HeaderRule string

const (
	HeaderPresent  HeaderRule = "present"
	HeaderEquals   HeaderRule = "equals"
	HeaderContains HeaderRule = "contains"
	HeaderRegex    HeaderRule = "regex"
)

// HeaderCheck validates one named response header.
type HeaderCheck struct {
	Name     string
	Rule     HeaderRule
	Expected string
}

// JSONPathRule is the comparison applied to one JSON-path lookup.
type JSONPathRule string

const (
	JSONPathPresent  JSONPathRule = "present"
	JSONPathIsNumber JSONPathRule = "is_number"
	JSONPathIsString JSONPathRule = "is_string"
	JSONPathEquals   JSONPathRule = "equals"
	JSONPathRegex    JSONPathRule = "regex"
)

// JSONPathCheck validates one restricted JSON-path lookup ($.a.b, no arrays).
type JSONPathCheck struct {
	Path     string
	Rule     JSONPathRule
	Expected string
}

// SuccessCriteria is the declarative predicate evaluated by the Response
// Validator (§4.3). A nil pointer field means "not evaluated".
type SuccessCriteria struct {
	AcceptedStatusCodes []int
	MaxResponseTimeMs   *int
	BodyRegex           *string
	BodyMustContain     []string
	HeaderChecks        []HeaderCheck
	JSONPathChecks      []JSONPathCheck
	MinBodyBytes        *int
	MaxBodyBytes        *int
}

// ValidationVerdict is the outcome of evaluating a SuccessCriteria.
type ValidationVerdict struct {
	OK      bool
	Reasons []string
}

// ExecutionResult is one completed request/response cycle (§3). Immutable
// once recorded into the Metrics Aggregator.
type ExecutionResult struct {
	StepName      string
	Method        Method
	URL           string
	StatusCode    int // 0 on transport failure
	ResponseTime  time.Duration
	ResponseBytes int
	IsSuccess     bool
	Verdict       ValidationVerdict
	ErrorMessage  string
	CapturedAt    time.Time // UTC
}

// IterationStep is one entry of RunConfig.StepSequence (§3).
type IterationStep struct {
	StepName        string
	InterStepDelayMs int
	Enabled         bool
	Criteria        *SuccessCriteria // nil: fall back to GlobalCriteria
}

// Thresholds gate the final pass/fail verdict (§6 Thresholds.*).
type Thresholds struct {
	MaxResponseTimeMs    int
	MaxErrorRatePercent  float64
	MinTransactionsPerSec float64
}

// RunConfig is the fully-resolved run configuration (§3, §6).
type RunConfig struct {
	TestMs            int
	RampUpMs          int
	RampDownMs        int
	TargetTPS         float64
	MaxVUs            int
	RequestTimeoutMs  int
	StepSequence      []IterationStep
	Thresholds        Thresholds
	GlobalCriteria    SuccessCriteria

	// MaxRetries is parsed for forward compatibility only; the current core
	// performs no automatic retry (§9 Open Question, §6 PerformanceSettings).
	MaxRetries int

	IgnoreSslErrors  bool
	FollowRedirects  bool
	MaxRedirects     int

	ConsoleUpdateIntervalMs int
}

// MetricsSnapshot is a consistent point-in-time copy of aggregator state
// (§3, §4.7).
type MetricsSnapshot struct {
	Start              time.Time
	End                *time.Time
	Total              int
	Succeeded          int
	Failed             int
	ValidationFailures int
	AllSamples         []time.Duration
	CurrentVUs         int
	CurrentTPS         float64
	PerStepSamples     map[string][]time.Duration
	RecentResults      []ExecutionResult
}
