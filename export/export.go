// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package export converts the artifact sets of a recovery run into flat JSON
// elements, one element per hash, password or key.
package export

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"reflect"
	"sort"

	"github.com/fatih/structs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stoewer/go-strcase"

	"github.com/forensicanalysis/credrecovery"
)

// Element types.
const (
	TypeHash     = "credential-hash"
	TypePassword = "credential-password"
	TypeKey      = "credential-key"
)

// Element is a flat JSON object with snake_case keys.
type Element map[string]interface{}

type hashElement struct {
	ID         string
	Type       string
	Kind       string
	Value      string
	Resolved   bool
	Password   string
	Provenance map[string]interface{}
}

type passwordElement struct {
	ID          string
	Type        string
	Category    string
	Value       string
	Description string
	Provenance  map[string]interface{}
}

type keyElement struct {
	ID         string
	Type       string
	Family     string
	KeyID      string
	Value      string
	Provenance map[string]interface{}
}

// Document is the JSON document written by Write.
type Document struct {
	Elements []Element                      `json:"elements"`
	Reports  map[string]credrecovery.Report `json:"reports,omitempty"`
	Failures map[string]int                 `json:"failures,omitempty"`
}

// Elements converts all artifacts of result. Hashes come first, then
// passwords and keys, each in result order.
func Elements(result *credrecovery.Result) []Element {
	var elements []Element
	for _, h := range result.Hashes {
		elements = append(elements, element(TypeHash, hashElement{
			Kind:       string(h.Kind),
			Value:      h.Hex(),
			Resolved:   h.Resolved,
			Password:   h.Password,
			Provenance: h.Provenance.Map(),
		}))
	}
	for _, p := range result.Passwords {
		elements = append(elements, element(TypePassword, passwordElement{
			Category:    string(p.Category),
			Value:       p.Value,
			Description: p.Description,
			Provenance:  p.Provenance.Map(),
		}))
	}
	for _, k := range result.Keys {
		elements = append(elements, element(TypeKey, keyElement{
			Family:     string(k.Family),
			KeyID:      k.KeyID,
			Value:      hex.EncodeToString(k.Value),
			Provenance: k.Provenance.Map(),
		}))
	}
	return elements
}

// Write writes the elements and module reports of result as one indented
// JSON document.
func Write(w io.Writer, result *credrecovery.Result) error {
	doc := Document{Elements: Elements(result), Reports: result.Reports, Failures: result.Failures}
	if doc.Elements == nil {
		doc.Elements = []Element{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(doc), "could not write elements")
}

// Types lists the element types present in elements.
func Types(elements []Element) []string {
	seen := map[string]bool{}
	for _, e := range elements {
		if t, ok := e["type"].(string); ok {
			seen[t] = true
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func element(elementType string, v interface{}) Element {
	m := structs.Map(v)
	m["ID"] = elementType + "--" + uuid.New().String()
	m["Type"] = elementType
	return Element(lower(m).(map[string]interface{}))
}

// lower converts all keys to snake_case and drops empty values. Provenance
// keys are kept as emitted.
func lower(f interface{}) interface{} {
	switch f := f.(type) {
	case []interface{}:
		for i := range f {
			if !isEmptyValue(reflect.ValueOf(f[i])) {
				f[i] = lower(f[i])
			}
		}
		return f
	case map[string]interface{}:
		lf := make(map[string]interface{}, len(f))
		for k, v := range f {
			if isEmptyValue(reflect.ValueOf(v)) {
				continue
			}
			if k == "Provenance" {
				lf["provenance"] = v
				continue
			}
			lf[strcase.SnakeCase(k)] = lower(v)
		}
		return lf
	default:
		return f
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Invalid:
		return true
	}
	return false
}
