// Package request implements the Request Builder (C2): turns a
// loadmodel.RequestTemplate plus a resolved variable set into a concrete,
// ready-to-send request.
package request

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/variables"
)

// ContentKind is the detected/declared payload shape for the Prepared body.
type ContentKind string

const (
	ContentNone        ContentKind = ""
	ContentJSON        ContentKind = "application/json"
	ContentText        ContentKind = "text/plain"
	ContentURLEncoded  ContentKind = "application/x-www-form-urlencoded"
	ContentMultipart   ContentKind = "multipart/form-data"
)

// Prepared is a concrete request ready for the HTTP Executor to send.
type Prepared struct {
	Method      loadmodel.Method
	URL         string
	Headers     []loadmodel.KV
	Body        []byte
	ContentType string // full header value, including multipart boundary when set
}

// Build resolves a RequestTemplate against a variable Store into a Prepared
// request (§4.2).
func Build(tmpl loadmodel.RequestTemplate, vars *variables.Store) (Prepared, error) {
	u, err := buildURL(tmpl, vars)
	if err != nil {
		return Prepared{}, fmt.Errorf("building URL for step %q: %w", tmpl.Name, err)
	}

	p := Prepared{Method: tmpl.Method, URL: u}

	for _, h := range tmpl.Headers {
		if h.Disabled {
			continue
		}
		key := vars.Resolve(h.Key)
		value := vars.Resolve(h.Value)
		if key == "" {
			continue
		}
		p.Headers = append(p.Headers, loadmodel.KV{Key: key, Value: value})
	}

	if isBodyMethod(tmpl.Method) {
		if err := attachBody(&p, tmpl.Body, vars); err != nil {
			return Prepared{}, fmt.Errorf("building body for step %q: %w", tmpl.Name, err)
		}
	}

	return p, nil
}

func isBodyMethod(m loadmodel.Method) bool {
	switch m {
	case loadmodel.MethodPost, loadmodel.MethodPut, loadmodel.MethodPatch:
		return true
	default:
		return false
	}
}

// buildURL prefers url_raw when present and parseable as an absolute URI;
// otherwise synthesizes from host/path/query parts (§4.2).
func buildURL(tmpl loadmodel.RequestTemplate, vars *variables.Store) (string, error) {
	if strings.TrimSpace(tmpl.URLRaw) != "" {
		resolved := vars.Resolve(tmpl.URLRaw)
		if u, err := url.ParseRequestURI(resolved); err == nil && u.IsAbs() {
			return resolved, nil
		}
	}

	host := make([]string, 0, len(tmpl.HostParts))
	for _, h := range tmpl.HostParts {
		host = append(host, vars.Resolve(h))
	}
	path := make([]string, 0, len(tmpl.PathParts))
	for _, p := range tmpl.PathParts {
		if p == "" {
			continue
		}
		path = append(path, vars.Resolve(p))
	}

	query := url.Values{}
	for _, q := range tmpl.QueryParams {
		if q.Disabled {
			continue
		}
		query.Add(vars.Resolve(q.Key), vars.Resolve(q.Value))
	}

	u := "https://" + strings.Join(host, ".") + "/" + strings.Join(path, "/")
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	if _, err := url.ParseRequestURI(u); err != nil {
		return "", fmt.Errorf("synthesized URL %q is invalid: %w", u, err)
	}
	return u, nil
}

func attachBody(p *Prepared, body loadmodel.Body, vars *variables.Store) error {
	switch body.Kind {
	case loadmodel.BodyNone:
		return nil

	case loadmodel.BodyRaw:
		text := vars.Resolve(body.Raw)
		p.Body = []byte(text)
		p.ContentType = string(detectRawContentType(text))
		return nil

	case loadmodel.BodyURLEncoded:
		form := url.Values{}
		for _, f := range body.Fields {
			if f.Disabled {
				continue
			}
			form.Add(vars.Resolve(f.Key), vars.Resolve(f.Value))
		}
		p.Body = []byte(form.Encode())
		p.ContentType = string(ContentURLEncoded)
		return nil

	case loadmodel.BodyMultipart:
		var buf strings.Builder
		w := multipart.NewWriter(&buf)
		for _, f := range body.Fields {
			if f.Disabled {
				continue
			}
			fw, err := w.CreateFormField(vars.Resolve(f.Key))
			if err != nil {
				return fmt.Errorf("creating multipart field: %w", err)
			}
			if _, err := fw.Write([]byte(vars.Resolve(f.Value))); err != nil {
				return fmt.Errorf("writing multipart field: %w", err)
			}
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("closing multipart writer: %w", err)
		}
		p.Body = []byte(buf.String())
		p.ContentType = w.FormDataContentType()
		return nil

	default:
		return fmt.Errorf("unknown body kind %v", body.Kind)
	}
}

// detectRawContentType inspects a resolved raw body: if the trimmed content
// begins with `{` or `[` and parses as JSON, it's application/json; else
// text/plain (§4.2).
func detectRawContentType(text string) ContentKind {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ContentText
	}
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return ContentJSON
	}
	return ContentText
}
