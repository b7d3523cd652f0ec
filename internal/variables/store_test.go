package variables

import (
	"strings"
	"testing"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

func TestResolveLeavesUnknownPlaceholdersVerbatim(t *testing.T) {
	s := New(map[string]string{"name": "alice"})
	got := s.Resolve("hello {{name}}, your id is {{missing}}")
	want := "hello alice, your id is {{missing}}"
	if got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveDoesNotReExpand(t *testing.T) {
	s := New(map[string]string{"a": "{{b}}", "b": "final"})
	got := s.Resolve("{{a}}")
	if got != "{{b}}" {
		t.Fatalf("Resolve() = %q, want literal %q (no nested re-expansion)", got, "{{b}}")
	}
}

func TestMergePrecedence(t *testing.T) {
	base := New(map[string]string{"x": "base"})
	merged := base.Merge(map[string]string{"x": "override", "y": "new"})

	if v, _ := merged.Get("x"); v != "override" {
		t.Fatalf("merged x = %q, want override", v)
	}
	if v, _ := base.Get("x"); v != "base" {
		t.Fatalf("Merge must not mutate the receiver; base x = %q", v)
	}
	if v, _ := merged.Get("y"); v != "new" {
		t.Fatalf("merged y = %q, want new", v)
	}
}

func TestSetPromotesPersistentEntry(t *testing.T) {
	s := New(nil)
	s.Set("access_token", "abc123")
	if v, ok := s.Get("access_token"); !ok || v != "abc123" {
		t.Fatalf("Get() = (%q, %v), want (abc123, true)", v, ok)
	}
}

func TestCoerceAndEncode(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		dt   loadmodel.DataType
		enc  loadmodel.Encoding
		want string
	}{
		{"integer passthrough", "42", loadmodel.TypeInteger, loadmodel.EncodingNone, "42"},
		{"double normalises", "3.140", loadmodel.TypeDouble, loadmodel.EncodingNone, "3.14"},
		{"boolean lowercases", "TRUE", loadmodel.TypeBoolean, loadmodel.EncodingNone, "true"},
		{"datetime to ISO date", "2024-05-01T10:00:00Z", loadmodel.TypeDatetime, loadmodel.EncodingNone, "2024-05-01"},
		{"string unchanged", "hello world", loadmodel.TypeString, loadmodel.EncodingNone, "hello world"},
		{"base64 over utf8", "abc", loadmodel.TypeString, loadmodel.EncodingBase64, "YWJj"},
		{"url percent-escape", "a b&c", loadmodel.TypeString, loadmodel.EncodingURL, "a+b%26c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := CoerceAndEncode(tc.raw, tc.dt, tc.enc, nil)
			if !ok {
				t.Fatalf("CoerceAndEncode(%q) reported failure unexpectedly", tc.raw)
			}
			if got != tc.want {
				t.Fatalf("CoerceAndEncode(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestCoerceFailureFallsBackToRawCell(t *testing.T) {
	got, ok := CoerceAndEncode("not-a-number", loadmodel.TypeInteger, loadmodel.EncodingNone, nil)
	if ok {
		t.Fatalf("expected coercion failure to be reported")
	}
	if got != "not-a-number" {
		t.Fatalf("CoerceAndEncode() = %q, want original cell verbatim", got)
	}
}

func TestResolveRowAppliesColumnMapping(t *testing.T) {
	cfg := loadmodel.DataSourceConfig{
		Columns: []loadmodel.ColumnMapping{
			{CSVColumn: "user_id", PlaceholderName: "userId", DataType: loadmodel.TypeInteger},
			{CSVColumn: "is_admin", PlaceholderName: "isAdmin", DataType: loadmodel.TypeBoolean},
		},
	}
	row := loadmodel.DataRow{"user_id": "007", "is_admin": "false", "ignored": "x"}

	out := ResolveRow(row, cfg, nil)
	if out["userId"] != "7" {
		t.Fatalf("userId = %q, want 7", out["userId"])
	}
	if out["isAdmin"] != "false" {
		t.Fatalf("isAdmin = %q, want false", out["isAdmin"])
	}
	if _, present := out["ignored"]; present {
		t.Fatalf("unmapped column must not appear in resolved row")
	}
}

// TestSubstitutionFidelity covers P2: resolve(t, s) contains no {{name}}
// for name in keys(s); every other {{...}} substring is preserved verbatim.
func TestSubstitutionFidelity(t *testing.T) {
	s := New(map[string]string{"known": "VALUE"})
	template := "{{known}} stays {{unknown}} and {{known}} again"
	got := s.Resolve(template)

	if strings.Contains(got, "{{known}}") {
		t.Fatalf("resolved text still contains {{known}}: %q", got)
	}
	if !strings.Contains(got, "{{unknown}}") {
		t.Fatalf("resolved text dropped unresolved placeholder: %q", got)
	}
}
