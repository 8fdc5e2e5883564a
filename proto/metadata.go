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

package proto

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	apierrors "github.com/epam/eco-schema-catalog-sub001/errors"
)

// KeyKind discriminates the MetadataKey variants.
type KeyKind uint8

const (
	KeyKindSchema KeyKind = iota + 1
	KeyKindField
)

func (k KeyKind) String() string {
	switch k {
	case KeyKindSchema:
		return "schema"
	case KeyKindField:
		return "field"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MetadataKey addresses metadata of a whole schema version or of a single field
// inside it. Only Kind, Subject and Version are meaningful for schema keys.
type MetadataKey struct {
	Kind           KeyKind
	Subject        string
	Version        int
	SchemaFullName string
	Field          string
}

// LogicalKey is a MetadataKey with the version dropped, the identity used for
// inheritance across versions of one subject.
type LogicalKey struct {
	Kind           KeyKind
	Subject        string
	SchemaFullName string
	Field          string
}

func SchemaKey(subject string, version int) MetadataKey {
	return MetadataKey{Kind: KeyKindSchema, Subject: subject, Version: version}
}

func FieldKey(subject string, version int, schemaFullName, field string) MetadataKey {
	return MetadataKey{
		Kind:           KeyKindField,
		Subject:        subject,
		Version:        version,
		SchemaFullName: schemaFullName,
		Field:          field,
	}
}

func (k MetadataKey) Validate() error {
	if strings.TrimSpace(k.Subject) == "" {
		return apierrors.ErrInvalidSubject
	}
	if k.Version <= 0 {
		return apierrors.ErrInvalidVersion
	}
	switch k.Kind {
	case KeyKindSchema:
		if k.SchemaFullName != "" || k.Field != "" {
			return fmt.Errorf("%w: schema key carries field coordinates", apierrors.ErrInvalidKey)
		}
	case KeyKindField:
		if strings.TrimSpace(k.SchemaFullName) == "" || strings.TrimSpace(k.Field) == "" {
			return fmt.Errorf("%w: field key requires schema full name and field", apierrors.ErrInvalidKey)
		}
	default:
		return apierrors.ErrUnknownKeyKind
	}
	return nil
}

func (k MetadataKey) Logical() LogicalKey {
	return LogicalKey{
		Kind:           k.Kind,
		Subject:        k.Subject,
		SchemaFullName: k.SchemaFullName,
		Field:          k.Field,
	}
}

// WithVersion returns a copy of k stamped with version.
func (k MetadataKey) WithVersion(version int) MetadataKey {
	k.Version = version
	return k
}

// Less orders keys by subject, version, kind, then field coordinates.
func (k MetadataKey) Less(than MetadataKey) bool {
	if k.Subject != than.Subject {
		return k.Subject < than.Subject
	}
	if k.Version != than.Version {
		return k.Version < than.Version
	}
	if k.Kind != than.Kind {
		return k.Kind < than.Kind
	}
	if k.SchemaFullName != than.SchemaFullName {
		return k.SchemaFullName < than.SchemaFullName
	}
	return k.Field < than.Field
}

func (k MetadataKey) String() string {
	switch k.Kind {
	case KeyKindSchema:
		return fmt.Sprintf("schema[%s/%d]", k.Subject, k.Version)
	case KeyKindField:
		return fmt.Sprintf("field[%s/%d/%s.%s]", k.Subject, k.Version, k.SchemaFullName, k.Field)
	default:
		return fmt.Sprintf("%s[%s/%d]", k.Kind, k.Subject, k.Version)
	}
}

// MetadataValue is immutable once handed to a store; updates replace it whole.
type MetadataValue struct {
	Doc        string
	Attributes map[string]interface{}
	UpdatedAt  time.Time
	UpdatedBy  string
}

func (v *MetadataValue) Equal(than *MetadataValue) bool {
	if v == nil || than == nil {
		return v == than
	}
	if v.Doc != than.Doc || v.UpdatedBy != than.UpdatedBy || !v.UpdatedAt.Equal(than.UpdatedAt) {
		return false
	}
	if len(v.Attributes) == 0 && len(than.Attributes) == 0 {
		return true
	}
	return reflect.DeepEqual(v.Attributes, than.Attributes)
}
