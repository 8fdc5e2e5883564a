// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package doclang

import (
	"fmt"
	"strings"
)

type ParamKind uint8

const (
	ParamString ParamKind = iota + 1
	ParamInt
	ParamBool
)

type Param struct {
	Name string
	Kind ParamKind
}

// TagType is the closed set of structured tags the markup understands.
type TagType uint8

const (
	TagLink TagType = iota + 1
	TagSchema
	TagField
	TagForeignKey
	TagTable
)

type tagSpec struct {
	name   string
	enum   string
	params []Param
}

var tagSpecs = [...]tagSpec{
	TagLink: {
		name: "link",
		enum: "LINK",
		params: []Param{
			{Name: "text", Kind: ParamString},
			{Name: "url", Kind: ParamString},
		},
	},
	TagSchema: {
		name: "schema",
		enum: "SCHEMA",
		params: []Param{
			{Name: "text", Kind: ParamString},
			{Name: "subject", Kind: ParamString},
			{Name: "version", Kind: ParamInt},
		},
	},
	TagField: {
		name: "field",
		enum: "FIELD",
		params: []Param{
			{Name: "text", Kind: ParamString},
			{Name: "subject", Kind: ParamString},
			{Name: "version", Kind: ParamInt},
			{Name: "schemaFullName", Kind: ParamString},
			{Name: "field", Kind: ParamString},
		},
	},
	TagForeignKey: {
		name: "foreign_key",
		enum: "FOREIGN_KEY",
		params: []Param{
			{Name: "subject", Kind: ParamString},
			{Name: "version", Kind: ParamInt},
			{Name: "schemaFullName", Kind: ParamString},
			{Name: "field", Kind: ParamString},
			{Name: "nullable", Kind: ParamBool},
		},
	},
	TagTable: {
		name: "table",
		enum: "TABLE",
		params: []Param{
			{Name: "text", Kind: ParamString},
			{Name: "dataSource", Kind: ParamString},
			{Name: "table", Kind: ParamString},
			{Name: "view", Kind: ParamBool},
		},
	},
}

// TagTypes returns every tag type in declaration order.
func TagTypes() []TagType {
	return []TagType{TagLink, TagSchema, TagField, TagForeignKey, TagTable}
}

// LookupTagType matches name case-insensitively against the markup names.
func LookupTagType(name string) (TagType, bool) {
	for _, t := range TagTypes() {
		if strings.EqualFold(tagSpecs[t].name, name) {
			return t, true
		}
	}
	return 0, false
}

func (t TagType) valid() bool {
	return t >= TagLink && t <= TagTable
}

// Name is the markup spelling, as written after "{@".
func (t TagType) Name() string {
	if !t.valid() {
		return ""
	}
	return tagSpecs[t].name
}

func (t TagType) Params() []Param {
	if !t.valid() {
		return nil
	}
	return tagSpecs[t].params
}

func (t TagType) String() string {
	if !t.valid() {
		return fmt.Sprintf("TagType(%d)", uint8(t))
	}
	return tagSpecs[t].enum
}
