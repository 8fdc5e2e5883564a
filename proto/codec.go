package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	pb "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	apierrors "github.com/epam/eco-schema-catalog-sub001/errors"
)

const (
	schemaKeyPrefix = byte('s')
	fieldKeyPrefix  = byte('f')

	docField        = "doc"
	attributesField = "attributes"
	updatedAtField  = "updated_at"
	updatedByField  = "updated_by"
)

var errTruncatedKey = errors.New("truncated metadata key")

// EncodeKey serializes k as its variant prefix followed by the variant fields.
// The encoding is exact: two keys differing only in version encode differently.
func EncodeKey(k MetadataKey) ([]byte, error) {
	ret := make([]byte, 0, 1+len(k.Subject)+len(k.SchemaFullName)+len(k.Field)+4*binary.MaxVarintLen64)
	switch k.Kind {
	case KeyKindSchema:
		ret = append(ret, schemaKeyPrefix)
		ret = appendString(ret, k.Subject)
		ret = binary.AppendUvarint(ret, uint64(k.Version))
	case KeyKindField:
		ret = append(ret, fieldKeyPrefix)
		ret = appendString(ret, k.Subject)
		ret = binary.AppendUvarint(ret, uint64(k.Version))
		ret = appendString(ret, k.SchemaFullName)
		ret = appendString(ret, k.Field)
	default:
		return nil, apierrors.ErrUnknownKeyKind
	}
	return ret, nil
}

func DecodeKey(raw []byte) (k MetadataKey, err error) {
	if len(raw) == 0 {
		return k, errTruncatedKey
	}
	prefix, buf := raw[0], raw[1:]
	switch prefix {
	case schemaKeyPrefix:
		k.Kind = KeyKindSchema
	case fieldKeyPrefix:
		k.Kind = KeyKindField
	default:
		return k, fmt.Errorf("%w: key prefix %q", apierrors.ErrUnknownKeyKind, prefix)
	}

	if k.Subject, buf, err = readString(buf); err != nil {
		return
	}
	version, n := binary.Uvarint(buf)
	if n <= 0 {
		return k, errTruncatedKey
	}
	k.Version, buf = int(version), buf[n:]

	if k.Kind == KeyKindField {
		if k.SchemaFullName, buf, err = readString(buf); err != nil {
			return
		}
		if k.Field, buf, err = readString(buf); err != nil {
			return
		}
	}
	if len(buf) != 0 {
		return k, fmt.Errorf("metadata key has %d trailing bytes", len(buf))
	}
	return k, nil
}

// EncodeValue serializes v as a protobuf Struct. Attribute values must be
// representable by structpb: nil, bool, numbers, strings, lists and maps of those.
func EncodeValue(v *MetadataValue) ([]byte, error) {
	attrs, err := structpb.NewStruct(v.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apierrors.ErrInvalidAttribute, err)
	}
	st := &structpb.Struct{Fields: map[string]*structpb.Value{
		docField:        structpb.NewStringValue(v.Doc),
		attributesField: structpb.NewStructValue(attrs),
		updatedByField:  structpb.NewStringValue(v.UpdatedBy),
		updatedAtField:  structpb.NewStringValue(v.UpdatedAt.UTC().Format(time.RFC3339Nano)),
	}}
	return pb.MarshalOptions{Deterministic: true}.Marshal(st)
}

func DecodeValue(raw []byte) (*MetadataValue, error) {
	st := &structpb.Struct{}
	if err := pb.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	v := &MetadataValue{
		Doc:       st.Fields[docField].GetStringValue(),
		UpdatedBy: st.Fields[updatedByField].GetStringValue(),
	}
	if attrs := st.Fields[attributesField].GetStructValue(); attrs != nil && len(attrs.Fields) > 0 {
		v.Attributes = attrs.AsMap()
	}
	if ts := st.Fields[updatedAtField].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		v.UpdatedAt = t
	}
	return v, nil
}

// Normalize passes v through the value codec so that an in-memory copy equals
// what a replay of the log would produce (numbers become float64, times UTC).
func Normalize(v *MetadataValue) (*MetadataValue, error) {
	raw, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return DecodeValue(raw)
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func readString(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < l {
		return "", nil, errTruncatedKey
	}
	return string(b[n : n+int(l)]), b[n+int(l):], nil
}
