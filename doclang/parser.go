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
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheSize = 1024

	startDelim = "{@"
	endDelim   = '}'
	paramDelim = "|"
)

var (
	unescaper = strings.NewReplacer("&#123;", "{", "&#125;", "}", "&#124;", "|")
	escaper   = strings.NewReplacer("{", "&#123;", "}", "&#125;", "|", "&#124;")

	defaultParser = NewParser(DefaultCacheSize)
)

// Part is either Text or Tag.
type Part interface {
	isPart()
}

type Text struct {
	Value string
}

// Tag holds one value per declared parameter of Type, nil where absent.
// Values are string, int or bool according to the parameter kind.
type Tag struct {
	Type   TagType
	Params []interface{}

	// markup between the delimiters as parsed, empty for tags built in code
	raw string
}

func (Text) isPart() {}

func (Tag) isPart() {}

// Param returns the value of the named parameter, nil if absent or undeclared.
func (t Tag) Param(name string) interface{} {
	for i, p := range t.Type.Params() {
		if p.Name == name && i < len(t.Params) {
			return t.Params[i]
		}
	}
	return nil
}

func (t Tag) stringParam(name string) string {
	s, _ := t.Param(name).(string)
	return s
}

func (t Tag) intParam(name string) (int, bool) {
	i, ok := t.Param(name).(int)
	return i, ok
}

// Source returns the markup the tag was parsed from. Tags built in code are
// rendered canonically, with trailing absent parameters omitted.
func (t Tag) Source() string {
	if t.raw != "" {
		return startDelim + t.raw + string(endDelim)
	}
	var b strings.Builder
	b.WriteString(startDelim)
	b.WriteString(t.Type.Name())

	last := -1
	for i, v := range t.Params {
		if v != nil {
			last = i
		}
	}
	if last >= 0 {
		b.WriteByte(' ')
		for i := 0; i <= last; i++ {
			if i > 0 {
				b.WriteString(paramDelim)
			}
			if t.Params[i] != nil {
				b.WriteString(Escape(formatValue(t.Params[i])))
			}
		}
	}
	b.WriteByte(endDelim)
	return b.String()
}

// Escape encodes the reserved characters of the tag syntax.
func Escape(s string) string {
	return escaper.Replace(s)
}

func Unescape(s string) string {
	return unescaper.Replace(s)
}

// Malformed is a "{@...}" span that did not parse as a tag and was kept as text.
type Malformed struct {
	Offset int
	Span   string
}

// Parser turns documentation strings into parts. Results are memoized in a
// bounded LRU keyed by the exact input; concurrent misses on one input parse once.
type Parser struct {
	cache *lru.Cache
	group singleflight.Group
}

func NewParser(cacheSize int) *Parser {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		panic(err)
	}
	return &Parser{cache: cache}
}

// Parse is total: malformed markup degrades to Text. The returned slice is
// shared with the cache and must not be modified.
func (p *Parser) Parse(doc string) []Part {
	if v, ok := p.cache.Get(doc); ok {
		return v.([]Part)
	}
	v, _, _ := p.group.Do(doc, func() (interface{}, error) {
		parts := scan(doc, nil)
		p.cache.Add(doc, parts)
		return parts, nil
	})
	return v.([]Part)
}

func (p *Parser) Len() int {
	return p.cache.Len()
}

func Parse(doc string) []Part {
	return defaultParser.Parse(doc)
}

// Validate lists the spans of doc that look like tags but were kept as text.
func Validate(doc string) []Malformed {
	var ret []Malformed
	scan(doc, func(start, end int) {
		ret = append(ret, Malformed{Offset: start, Span: doc[start : end+1]})
	})
	return ret
}

func scan(doc string, onMalformed func(start, end int)) []Part {
	var parts []Part
	textStart, pos := 0, 0
	for {
		start := strings.Index(doc[pos:], startDelim)
		if start < 0 {
			break
		}
		start += pos
		bodyStart := start + len(startDelim)
		end := strings.IndexByte(doc[bodyStart:], endDelim)
		if end < 0 {
			break
		}
		end += bodyStart

		tag, ok := parseTag(doc[bodyStart:end])
		if !ok {
			if onMalformed != nil {
				onMalformed(start, end)
			}
			// a later "{@" inside this span may still open a valid tag
			pos = bodyStart
			continue
		}
		if start > textStart {
			parts = append(parts, Text{Value: doc[textStart:start]})
		}
		parts = append(parts, tag)
		textStart, pos = end+1, end+1
	}
	if textStart < len(doc) || len(parts) == 0 {
		parts = append(parts, Text{Value: doc[textStart:]})
	}
	return parts
}

func parseTag(body string) (Tag, bool) {
	name, rest, hasParams := strings.Cut(body, " ")
	typ, ok := LookupTagType(name)
	if !ok {
		return Tag{}, false
	}

	params := typ.Params()
	values := make([]interface{}, len(params))
	if hasParams {
		tokens := strings.Split(rest, paramDelim)
		for i := range params {
			if i >= len(tokens) {
				break
			}
			if tokens[i] == "" {
				continue
			}
			v, err := convertValue(params[i].Kind, Unescape(tokens[i]))
			if err != nil {
				return Tag{}, false
			}
			values[i] = v
		}
	}
	return Tag{Type: typ, Params: values, raw: body}, true
}

func convertValue(kind ParamKind, s string) (interface{}, error) {
	switch kind {
	case ParamInt:
		return strconv.Atoi(strings.TrimSpace(s))
	case ParamBool:
		return strconv.ParseBool(strings.TrimSpace(s))
	default:
		return s, nil
	}
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
