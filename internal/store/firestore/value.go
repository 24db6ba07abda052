package firestore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/at-ishikawa/wordhub/internal/store"
)

const nullValue = "NULL_VALUE"

// document is a Firestore REST document.
type document struct {
	Name       string           `json:"name,omitempty"`
	Fields     map[string]value `json:"fields,omitempty"`
	CreateTime string           `json:"createTime,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
}

// value is a Firestore typed value. Exactly one field is set.
type value struct {
	NullValue      *string     `json:"nullValue,omitempty"`
	BooleanValue   *bool       `json:"booleanValue,omitempty"`
	IntegerValue   *string     `json:"integerValue,omitempty"`
	DoubleValue    *float64    `json:"doubleValue,omitempty"`
	TimestampValue *string     `json:"timestampValue,omitempty"`
	StringValue    *string     `json:"stringValue,omitempty"`
	BytesValue     *string     `json:"bytesValue,omitempty"`
	ReferenceValue *string     `json:"referenceValue,omitempty"`
	GeoPointValue  *geoPoint   `json:"geoPointValue,omitempty"`
	ArrayValue     *arrayValue `json:"arrayValue,omitempty"`
	MapValue       *mapValue   `json:"mapValue,omitempty"`
}

type geoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type arrayValue struct {
	Values []value `json:"values,omitempty"`
}

type mapValue struct {
	Fields map[string]value `json:"fields,omitempty"`
}

func stringValue(s string) value {
	return value{StringValue: &s}
}

func referenceValue(name string) value {
	return value{ReferenceValue: &name}
}

func encodeFields(doc store.Document) (map[string]value, error) {
	fields := make(map[string]value, len(doc))
	for k, raw := range doc {
		v, err := encodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = v
	}
	return fields, nil
}

func encodeValue(v any) (value, error) {
	switch t := v.(type) {
	case nil:
		s := nullValue
		return value{NullValue: &s}, nil
	case bool:
		return value{BooleanValue: &t}, nil
	case string:
		return stringValue(t), nil
	case int:
		return integerValue(int64(t)), nil
	case int32:
		return integerValue(int64(t)), nil
	case int64:
		return integerValue(t), nil
	case float32:
		f := float64(t)
		return value{DoubleValue: &f}, nil
	case float64:
		return value{DoubleValue: &t}, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return integerValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return value{DoubleValue: &f}, nil
	case time.Time:
		s := t.UTC().Format(time.RFC3339Nano)
		return value{TimestampValue: &s}, nil
	case []string:
		values := make([]value, len(t))
		for i, s := range t {
			values[i] = stringValue(s)
		}
		return value{ArrayValue: &arrayValue{Values: values}}, nil
	case []any:
		values := make([]value, len(t))
		for i, item := range t {
			encoded, err := encodeValue(item)
			if err != nil {
				return value{}, err
			}
			values[i] = encoded
		}
		return value{ArrayValue: &arrayValue{Values: values}}, nil
	case store.Document:
		return encodeMap(map[string]any(t))
	case map[string]any:
		return encodeMap(t)
	default:
		return value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func encodeMap(m map[string]any) (value, error) {
	fields, err := encodeFields(store.Document(m))
	if err != nil {
		return value{}, err
	}
	return value{MapValue: &mapValue{Fields: fields}}, nil
}

func integerValue(i int64) value {
	s := strconv.FormatInt(i, 10)
	return value{IntegerValue: &s}
}

func decodeFields(fields map[string]value) store.Document {
	doc := make(store.Document, len(fields))
	for k, v := range fields {
		doc[k] = decodeValue(v)
	}
	return doc
}

// decodeValue converts a typed value into the shapes encoding/json produces,
// so that decoded documents look the same whatever store they came from.
func decodeValue(v value) any {
	switch {
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.IntegerValue != nil:
		i, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
		if err != nil {
			return *v.IntegerValue
		}
		return float64(i)
	case v.DoubleValue != nil:
		if math.IsNaN(*v.DoubleValue) || math.IsInf(*v.DoubleValue, 0) {
			return nil
		}
		return *v.DoubleValue
	case v.TimestampValue != nil:
		return *v.TimestampValue
	case v.StringValue != nil:
		return *v.StringValue
	case v.BytesValue != nil:
		return *v.BytesValue
	case v.ReferenceValue != nil:
		return *v.ReferenceValue
	case v.GeoPointValue != nil:
		return map[string]any{"latitude": v.GeoPointValue.Latitude, "longitude": v.GeoPointValue.Longitude}
	case v.ArrayValue != nil:
		items := make([]any, len(v.ArrayValue.Values))
		for i, item := range v.ArrayValue.Values {
			items[i] = decodeValue(item)
		}
		return items
	case v.MapValue != nil:
		return map[string]any(decodeFields(v.MapValue.Fields))
	default:
		return nil
	}
}
