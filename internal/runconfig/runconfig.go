// Package runconfig loads and validates the run configuration document
// (§3 RunConfig, §6 External Interfaces) and computes the final pass/fail
// verdict against Thresholds (§6, §8 scenario 6).
package runconfig

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/sequence"
)

// document is the on-disk YAML shape matching §6's configuration keys.
type document struct {
	PostmanCollectionPath string `yaml:"PostmanCollectionPath"`
	CsvDataPath           string `yaml:"CsvDataPath"`
	ColumnMappingPath     string `yaml:"ColumnMappingPath"`

	OutputSettings struct {
		HtmlReportPath           string `yaml:"HtmlReportPath"`
		ConsoleUpdateIntervalMs  int    `yaml:"ConsoleUpdateIntervalMs"`
	} `yaml:"OutputSettings"`

	ExecutionSettings struct {
		TestDurationMs   int `yaml:"TestDurationMs"`
		RampUpTimeMs     int `yaml:"RampUpTimeMs"`
		RampDownTimeMs   int `yaml:"RampDownTimeMs"`
		IterationSettings []struct {
			StepName        string                   `yaml:"StepName"`
			IntervalMs      int                      `yaml:"IntervalMs"`
			Enabled         bool                     `yaml:"Enabled"`
			SuccessCriteria *yamlSuccessCriteria      `yaml:"SuccessCriteria"`
		} `yaml:"IterationSettings"`
	} `yaml:"ExecutionSettings"`

	PerformanceSettings struct {
		TargetTransactionsPerSecond float64 `yaml:"TargetTransactionsPerSecond"`
		MaxConcurrentUsers          int     `yaml:"MaxConcurrentUsers"`
		RequestTimeoutMs            int     `yaml:"RequestTimeoutMs"`
		MaxRetries                  int     `yaml:"MaxRetries"`
	} `yaml:"PerformanceSettings"`

	Thresholds struct {
		MaxResponseTimeMs       int     `yaml:"MaxResponseTimeMs"`
		MaxErrorRatePercent     float64 `yaml:"MaxErrorRatePercent"`
		MinTransactionsPerSecond float64 `yaml:"MinTransactionsPerSecond"`
	} `yaml:"Thresholds"`

	GlobalSuccessCriteria struct {
		DefaultHttpStatusCodes   []int `yaml:"DefaultHttpStatusCodes"`
		DefaultResponseTimeMaxMs int   `yaml:"DefaultResponseTimeMaxMs"`
		IgnoreSslErrors          bool  `yaml:"IgnoreSslErrors"`
		FollowRedirects          bool  `yaml:"FollowRedirects"`
		MaxRedirects             int   `yaml:"MaxRedirects"`
	} `yaml:"GlobalSuccessCriteria"`

	// AuthPrelude configures the optional client-credentials prelude (§4.6
	// Supplemented Feature). ClientSecretEnv names an environment variable
	// so the secret itself never has to live in the YAML document.
	AuthPrelude *struct {
		TokenURL        string   `yaml:"TokenURL"`
		ClientID        string   `yaml:"ClientID"`
		ClientSecretEnv string   `yaml:"ClientSecretEnv"`
		Scopes          []string `yaml:"Scopes"`
	} `yaml:"AuthPrelude"`
}

type yamlSuccessCriteria struct {
	AcceptedStatusCodes []int    `yaml:"AcceptedStatusCodes"`
	MaxResponseTimeMs   *int     `yaml:"MaxResponseTimeMs"`
	BodyRegex           *string  `yaml:"BodyRegex"`
	BodyMustContain     []string `yaml:"BodyMustContain"`
	MinBodyBytes        *int     `yaml:"MinBodyBytes"`
	MaxBodyBytes        *int     `yaml:"MaxBodyBytes"`
}

// Paths are the external resource locators read by the CollectionLoader and
// RowLoader (§6), kept alongside the parsed RunConfig since they aren't
// part of THE CORE's own data model.
type Paths struct {
	PostmanCollectionPath string
	CsvDataPath           string
	ColumnMappingPath     string
	HtmlReportPath        string
}

// schemaJSON is the pre-flight validation schema for the configuration
// document shape (§7 "Configuration invalid... reported, non-zero exit,
// no test runs"), lifted from the teacher's gojsonschema dependency and
// repurposed from OpenAPI-fragment validation to run-config validation.
const schemaJSON = `{
  "type": "object",
  "required": ["PostmanCollectionPath", "CsvDataPath", "ExecutionSettings", "PerformanceSettings"],
  "properties": {
    "PostmanCollectionPath": {"type": "string", "minLength": 1},
    "CsvDataPath": {"type": "string", "minLength": 1},
    "ExecutionSettings": {
      "type": "object",
      "required": ["TestDurationMs", "RampUpTimeMs", "RampDownTimeMs"],
      "properties": {
        "TestDurationMs": {"type": "integer", "minimum": 1},
        "RampUpTimeMs": {"type": "integer", "minimum": 0},
        "RampDownTimeMs": {"type": "integer", "minimum": 0}
      }
    },
    "PerformanceSettings": {
      "type": "object",
      "required": ["MaxConcurrentUsers", "RequestTimeoutMs"],
      "properties": {
        "MaxConcurrentUsers": {"type": "integer", "minimum": 1},
        "RequestTimeoutMs": {"type": "integer", "minimum": 1},
        "TargetTransactionsPerSecond": {"type": "number", "minimum": 0}
      }
    }
  }
}`

// Load reads and parses the YAML configuration document at path. The
// returned *sequence.AuthPrelude is nil when the document has no
// AuthPrelude section.
func Load(path string) (loadmodel.RunConfig, Paths, *sequence.AuthPrelude, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadmodel.RunConfig{}, Paths{}, nil, fmt.Errorf("reading run config %q: %w", path, err)
	}

	if err := Validate(data); err != nil {
		return loadmodel.RunConfig{}, Paths{}, nil, fmt.Errorf("run config %q failed validation: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return loadmodel.RunConfig{}, Paths{}, nil, fmt.Errorf("parsing run config %q: %w", path, err)
	}

	cfg := loadmodel.RunConfig{
		TestMs:           doc.ExecutionSettings.TestDurationMs,
		RampUpMs:         doc.ExecutionSettings.RampUpTimeMs,
		RampDownMs:       doc.ExecutionSettings.RampDownTimeMs,
		TargetTPS:        doc.PerformanceSettings.TargetTransactionsPerSecond,
		MaxVUs:           doc.PerformanceSettings.MaxConcurrentUsers,
		RequestTimeoutMs: doc.PerformanceSettings.RequestTimeoutMs,
		MaxRetries:       doc.PerformanceSettings.MaxRetries,
		Thresholds: loadmodel.Thresholds{
			MaxResponseTimeMs:    doc.Thresholds.MaxResponseTimeMs,
			MaxErrorRatePercent:  doc.Thresholds.MaxErrorRatePercent,
			MinTransactionsPerSec: doc.Thresholds.MinTransactionsPerSecond,
		},
		GlobalCriteria: loadmodel.SuccessCriteria{
			AcceptedStatusCodes: doc.GlobalSuccessCriteria.DefaultHttpStatusCodes,
		},
		IgnoreSslErrors:         doc.GlobalSuccessCriteria.IgnoreSslErrors,
		FollowRedirects:         doc.GlobalSuccessCriteria.FollowRedirects,
		MaxRedirects:            doc.GlobalSuccessCriteria.MaxRedirects,
		ConsoleUpdateIntervalMs: doc.OutputSettings.ConsoleUpdateIntervalMs,
	}
	if doc.GlobalSuccessCriteria.DefaultResponseTimeMaxMs > 0 {
		v := doc.GlobalSuccessCriteria.DefaultResponseTimeMaxMs
		cfg.GlobalCriteria.MaxResponseTimeMs = &v
	}

	for _, step := range doc.ExecutionSettings.IterationSettings {
		iter := loadmodel.IterationStep{
			StepName:         step.StepName,
			InterStepDelayMs: step.IntervalMs,
			Enabled:          step.Enabled,
		}
		if step.SuccessCriteria != nil {
			iter.Criteria = convertCriteria(step.SuccessCriteria)
		}
		cfg.StepSequence = append(cfg.StepSequence, iter)
	}

	paths := Paths{
		PostmanCollectionPath: doc.PostmanCollectionPath,
		CsvDataPath:           doc.CsvDataPath,
		ColumnMappingPath:     doc.ColumnMappingPath,
		HtmlReportPath:        doc.OutputSettings.HtmlReportPath,
	}

	if err := checkSemantics(cfg, paths); err != nil {
		return loadmodel.RunConfig{}, Paths{}, nil, err
	}

	var prelude *sequence.AuthPrelude
	if doc.AuthPrelude != nil {
		prelude = &sequence.AuthPrelude{
			TokenURL:     doc.AuthPrelude.TokenURL,
			ClientID:     doc.AuthPrelude.ClientID,
			ClientSecret: os.Getenv(doc.AuthPrelude.ClientSecretEnv),
			Scopes:       doc.AuthPrelude.Scopes,
		}
	}

	return cfg, paths, prelude, nil
}

func convertCriteria(c *yamlSuccessCriteria) *loadmodel.SuccessCriteria {
	return &loadmodel.SuccessCriteria{
		AcceptedStatusCodes: c.AcceptedStatusCodes,
		MaxResponseTimeMs:   c.MaxResponseTimeMs,
		BodyRegex:           c.BodyRegex,
		BodyMustContain:     c.BodyMustContain,
		MinBodyBytes:        c.MinBodyBytes,
		MaxBodyBytes:        c.MaxBodyBytes,
	}
}

// Validate runs the document bytes against the pre-flight JSON schema.
func Validate(data []byte) error {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("parsing config for schema validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewGoLoader(generic)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("running schema validation: %w", err)
	}
	if !result.Valid() {
		var sb bytes.Buffer
		for _, e := range result.Errors() {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
		return fmt.Errorf("configuration invalid:\n%s", sb.String())
	}
	return nil
}

// checkSemantics enforces §7's "non-positive durations/TPS/VUs" fatal
// pre-start policy beyond what the JSON schema structurally captures.
func checkSemantics(cfg loadmodel.RunConfig, paths Paths) error {
	if cfg.MaxVUs <= 0 {
		return fmt.Errorf("configuration invalid: MaxConcurrentUsers must be positive")
	}
	if cfg.RequestTimeoutMs <= 0 {
		return fmt.Errorf("configuration invalid: RequestTimeoutMs must be positive")
	}
	if cfg.TestMs <= 0 {
		return fmt.Errorf("configuration invalid: TestDurationMs must be positive")
	}
	if cfg.RampUpMs < 0 || cfg.RampDownMs < 0 {
		return fmt.Errorf("configuration invalid: ramp durations must be non-negative")
	}
	if cfg.TargetTPS < 0 {
		return fmt.Errorf("configuration invalid: TargetTransactionsPerSecond must be non-negative")
	}
	if paths.PostmanCollectionPath == "" {
		return fmt.Errorf("configuration invalid: PostmanCollectionPath is required")
	}
	if paths.CsvDataPath == "" {
		return fmt.Errorf("configuration invalid: CsvDataPath is required")
	}
	return nil
}

// Verdict is the final pass/fail assessment against Thresholds (§6, §8
// scenario 6).
type Verdict struct {
	Pass    bool
	Reasons []string
}

// Evaluate computes the pass/fail verdict from a snapshot against
// thresholds — a pure function shared by the CLI summary and the Report
// Emitter so both surfaces agree (SPEC_FULL Supplemented Features).
func Evaluate(snapshot loadmodel.MetricsSnapshot, thresholds loadmodel.Thresholds) Verdict {
	var reasons []string

	p95 := metrics.Percentile(snapshot.AllSamples, 95)
	if thresholds.MaxResponseTimeMs > 0 {
		limit := time.Duration(thresholds.MaxResponseTimeMs) * time.Millisecond
		if p95 > limit {
			reasons = append(reasons, fmt.Sprintf("max response time exceeded: p95 %v > %v", p95, limit))
		}
	}

	if snapshot.Total > 0 && thresholds.MaxErrorRatePercent > 0 {
		errorRate := float64(snapshot.Failed) / float64(snapshot.Total) * 100
		if errorRate > thresholds.MaxErrorRatePercent {
			reasons = append(reasons, fmt.Sprintf("error rate exceeded: %.2f%% > %.2f%%", errorRate, thresholds.MaxErrorRatePercent))
		}
	}

	if thresholds.MinTransactionsPerSec > 0 && snapshot.CurrentTPS < thresholds.MinTransactionsPerSec {
		reasons = append(reasons, fmt.Sprintf("throughput below minimum: %.2f tps < %.2f tps", snapshot.CurrentTPS, thresholds.MinTransactionsPerSec))
	}

	return Verdict{Pass: len(reasons) == 0, Reasons: reasons}
}
