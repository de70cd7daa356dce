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

package evidence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
)

// Schema validates parsed evidence records before a module uses them.
type Schema struct {
	schema *jsonschema.Schema
}

// MustSchema compiles a JSON schema and panics on invalid schema documents.
// It is meant for schemas embedded in modules.
func MustSchema(raw string) *Schema {
	s, err := NewSchema([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// NewSchema compiles a JSON schema.
func NewSchema(raw []byte) (*Schema, error) {
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	return &Schema{schema: schema}, nil
}

// Validate returns nil if the record conforms, otherwise an error listing
// all flaws.
func (s *Schema) Validate(record []byte) error {
	if !json.Valid(record) {
		return errors.New("record is not valid json")
	}
	errs, err := s.schema.ValidateBytes(context.Background(), record)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	flaws := fmt.Sprintf("%d flaws", len(errs))
	for _, verr := range errs {
		flaws += fmt.Sprintf(", %s", verr)
	}
	return errors.New("invalid record: " + flaws)
}
