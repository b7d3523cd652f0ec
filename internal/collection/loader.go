// Package collection implements the CollectionLoader external interface
// (§1, §6 PostmanCollectionPath): parsing a portable request-collection
// document into loadmodel.RequestTemplates. Declared out of THE CORE by the
// spec, but given a concrete implementation so the CLI is runnable
// end-to-end.
package collection

import (
	"fmt"
	"io"
	"os"
	"strings"

	postman "github.com/rbretecher/go-postman-collection"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

// Loader yields already-parsed RequestTemplates from a collection document.
type Loader interface {
	Load(path string) ([]loadmodel.RequestTemplate, error)
}

// PostmanLoader parses a Postman Collection v2.1 document, flattening
// folders recursively exactly as a Postman client would — grounded on the
// teacher's PostmanParser.processItems recursive folder walk.
type PostmanLoader struct{}

// Load implements Loader.
func (PostmanLoader) Load(path string) ([]loadmodel.RequestTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", path, err)
	}
	defer f.Close()

	return parse(f)
}

func parse(r io.Reader) ([]loadmodel.RequestTemplate, error) {
	c, err := postman.ParseCollection(r)
	if err != nil {
		return nil, fmt.Errorf("parsing postman collection: %w", err)
	}

	var templates []loadmodel.RequestTemplate
	processItems(c.Items, &templates)
	return templates, nil
}

func processItems(items []*postman.Items, out *[]loadmodel.RequestTemplate) {
	for _, item := range items {
		if item.IsGroup() {
			processItems(item.Items, out)
			continue
		}
		if item.Request == nil {
			continue
		}
		tmpl := convertRequest(item.Name, item.Request)
		tmpl.PreScript, tmpl.PostScript = extractScripts(item.Events)
		*out = append(*out, tmpl)
	}
}

// extractScripts pulls the pre-request and test script bodies from a
// Postman item's event list (Listen: "prerequest" / "test"), mapping each
// exec line into a ScriptStatement for the micro-DSL interpreter (§4.4).
func extractScripts(events []*postman.Event) (pre, post []loadmodel.ScriptStatement) {
	for _, ev := range events {
		if ev == nil || ev.Script == nil {
			continue
		}
		var target *[]loadmodel.ScriptStatement
		switch ev.Listen {
		case "prerequest":
			target = &pre
		case "test":
			target = &post
		default:
			continue
		}
		for _, line := range ev.Script.Exec {
			*target = append(*target, loadmodel.ScriptStatement(line))
		}
	}
	return pre, post
}

func convertRequest(name string, req *postman.Request) loadmodel.RequestTemplate {
	tmpl := loadmodel.RequestTemplate{
		Name:   name,
		Method: loadmodel.Method(strings.ToUpper(string(req.Method))),
	}

	if req.URL != nil {
		tmpl.URLRaw = req.URL.Raw
		tmpl.HostParts = append([]string(nil), req.URL.Host...)
		tmpl.PathParts = append([]string(nil), req.URL.Path...)
		for _, q := range req.URL.Query {
			tmpl.QueryParams = append(tmpl.QueryParams, loadmodel.KV{
				Key: q.Key, Value: q.Value, Disabled: q.Disabled,
			})
		}
	}

	for _, h := range req.Header {
		tmpl.Headers = append(tmpl.Headers, loadmodel.KV{
			Key: h.Key, Value: h.Value, Disabled: h.Disabled,
		})
	}

	tmpl.Body = convertBody(req.Body)

	return tmpl
}

func convertBody(body *postman.Body) loadmodel.Body {
	if body == nil {
		return loadmodel.Body{Kind: loadmodel.BodyNone}
	}
	switch body.Mode {
	case "raw":
		return loadmodel.Body{Kind: loadmodel.BodyRaw, Raw: body.Raw}
	case "urlencoded":
		b := loadmodel.Body{Kind: loadmodel.BodyURLEncoded}
		for _, p := range body.URLEncoded {
			b.Fields = append(b.Fields, loadmodel.KV{Key: p.Key, Value: p.Value, Disabled: p.Disabled})
		}
		return b
	case "formdata":
		b := loadmodel.Body{Kind: loadmodel.BodyMultipart}
		for _, p := range body.FormData {
			b.Fields = append(b.Fields, loadmodel.KV{Key: p.Key, Value: p.Value, Disabled: p.Disabled})
		}
		return b
	default:
		return loadmodel.Body{Kind: loadmodel.BodyNone}
	}
}
