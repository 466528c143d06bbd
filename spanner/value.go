/*
Copyright 2026 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package spanner

import (
	"encoding/base64"
	"math"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"google.golang.org/grpc/codes"
	proto3 "google.golang.org/protobuf/types/known/structpb"
)

func nullProto() *proto3.Value {
	return &proto3.Value{Kind: &proto3.Value_NullValue{NullValue: proto3.NullValue_NULL_VALUE}}
}

func boolProto(b bool) *proto3.Value {
	return &proto3.Value{Kind: &proto3.Value_BoolValue{BoolValue: b}}
}

func stringProto(s string) *proto3.Value {
	return &proto3.Value{Kind: &proto3.Value_StringValue{StringValue: s}}
}

func intProto(n int64) *proto3.Value {
	return stringProto(strconv.FormatInt(n, 10))
}

func floatProto(n float64) *proto3.Value {
	switch {
	case math.IsNaN(n):
		return stringProto("NaN")
	case math.IsInf(n, 1):
		return stringProto("Infinity")
	case math.IsInf(n, -1):
		return stringProto("-Infinity")
	}
	return &proto3.Value{Kind: &proto3.Value_NumberValue{NumberValue: n}}
}

func bytesProto(b []byte) *proto3.Value {
	return stringProto(base64.StdEncoding.EncodeToString(b))
}

func timeProto(t time.Time) *proto3.Value {
	return stringProto(t.UTC().Format(time.RFC3339Nano))
}

func dateProto(d civil.Date) *proto3.Value {
	return stringProto(d.String())
}

func listProto(p ...*proto3.Value) *proto3.Value {
	return &proto3.Value{Kind: &proto3.Value_ListValue{ListValue: &proto3.ListValue{Values: p}}}
}

// encodeValue encodes a Go native type into a proto3.Value.
func encodeValue(v interface{}) (*proto3.Value, error) {
	switch v := v.(type) {
	case nil:
		return nullProto(), nil
	case *proto3.Value:
		return v, nil
	case bool:
		return boolProto(v), nil
	case *bool:
		if v == nil {
			return nullProto(), nil
		}
		return boolProto(*v), nil
	case int:
		return intProto(int64(v)), nil
	case int8:
		return intProto(int64(v)), nil
	case int16:
		return intProto(int64(v)), nil
	case int32:
		return intProto(int64(v)), nil
	case int64:
		return intProto(v), nil
	case *int64:
		if v == nil {
			return nullProto(), nil
		}
		return intProto(*v), nil
	case uint8:
		return intProto(int64(v)), nil
	case uint16:
		return intProto(int64(v)), nil
	case uint32:
		return intProto(int64(v)), nil
	case float32:
		return floatProto(float64(v)), nil
	case float64:
		return floatProto(v), nil
	case *float64:
		if v == nil {
			return nullProto(), nil
		}
		return floatProto(*v), nil
	case string:
		return stringProto(v), nil
	case *string:
		if v == nil {
			return nullProto(), nil
		}
		return stringProto(*v), nil
	case []byte:
		if v == nil {
			return nullProto(), nil
		}
		return bytesProto(v), nil
	case time.Time:
		return timeProto(v), nil
	case *time.Time:
		if v == nil {
			return nullProto(), nil
		}
		return timeProto(*v), nil
	case civil.Date:
		return dateProto(v), nil
	case *civil.Date:
		if v == nil {
			return nullProto(), nil
		}
		return dateProto(*v), nil
	case []int64:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []int:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []string:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []bool:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []float64:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case [][]byte:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []time.Time:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []civil.Date:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	case []interface{}:
		return encodeList(len(v), v == nil, func(i int) interface{} { return v[i] })
	}
	return nil, spannerErrorf(codes.InvalidArgument, "client doesn't support type %T", v)
}

// encodeValueWithType encodes a Go native type into a proto3.Value and
// reports the Spanner type it maps to.
func encodeValueWithType(v interface{}) (*proto3.Value, *sppb.Type, error) {
	pb, err := encodeValue(v)
	if err != nil {
		return nil, nil, err
	}
	var code sppb.TypeCode
	switch v.(type) {
	case bool, *bool:
		code = sppb.TypeCode_BOOL
	case int, int8, int16, int32, int64, *int64, uint8, uint16, uint32:
		code = sppb.TypeCode_INT64
	case float32, float64, *float64:
		code = sppb.TypeCode_FLOAT64
	case string, *string:
		code = sppb.TypeCode_STRING
	case []byte:
		code = sppb.TypeCode_BYTES
	case time.Time, *time.Time:
		code = sppb.TypeCode_TIMESTAMP
	case civil.Date, *civil.Date:
		code = sppb.TypeCode_DATE
	default:
		return nil, nil, spannerErrorf(codes.InvalidArgument, "cannot infer the Spanner type of %T", v)
	}
	return pb, &sppb.Type{Code: code}, nil
}

func encodeList(n int, isNil bool, elem func(int) interface{}) (*proto3.Value, error) {
	if isNil {
		return nullProto(), nil
	}
	vs := make([]*proto3.Value, n)
	for i := 0; i < n; i++ {
		pb, err := encodeValue(elem(i))
		if err != nil {
			return nil, err
		}
		vs[i] = pb
	}
	return listProto(vs...), nil
}

// decodeValue decodes a protobuf Value of the given Spanner type into a Go
// value pointed to by ptr.
func decodeValue(v *proto3.Value, t *sppb.Type, ptr interface{}) error {
	if v == nil {
		return errNilSrc()
	}
	if t == nil {
		return errNilSpannerType()
	}
	_, isNull := v.Kind.(*proto3.Value_NullValue)
	code := t.Code
	switch p := ptr.(type) {
	case nil:
		return errNilDst(nil)
	case *int64:
		if isNull {
			return errDstNotForNull(ptr)
		}
		n, err := decodeInt(v, code)
		if err != nil {
			return err
		}
		*p = n
	case **int64:
		if isNull {
			*p = nil
			return nil
		}
		n, err := decodeInt(v, code)
		if err != nil {
			return err
		}
		*p = &n
	case *string:
		if isNull {
			return errDstNotForNull(ptr)
		}
		s, err := decodeString(v, code, sppb.TypeCode_STRING)
		if err != nil {
			return err
		}
		*p = s
	case **string:
		if isNull {
			*p = nil
			return nil
		}
		s, err := decodeString(v, code, sppb.TypeCode_STRING)
		if err != nil {
			return err
		}
		*p = &s
	case *bool:
		if isNull {
			return errDstNotForNull(ptr)
		}
		b, err := decodeBool(v, code)
		if err != nil {
			return err
		}
		*p = b
	case **bool:
		if isNull {
			*p = nil
			return nil
		}
		b, err := decodeBool(v, code)
		if err != nil {
			return err
		}
		*p = &b
	case *float64:
		if isNull {
			return errDstNotForNull(ptr)
		}
		f, err := decodeFloat(v, code)
		if err != nil {
			return err
		}
		*p = f
	case **float64:
		if isNull {
			*p = nil
			return nil
		}
		f, err := decodeFloat(v, code)
		if err != nil {
			return err
		}
		*p = &f
	case *[]byte:
		if isNull {
			*p = nil
			return nil
		}
		s, err := decodeString(v, code, sppb.TypeCode_BYTES)
		if err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return errBadEncoding(v, err)
		}
		*p = b
	case *time.Time:
		if isNull {
			return errDstNotForNull(ptr)
		}
		tm, err := decodeTime(v, code)
		if err != nil {
			return err
		}
		*p = tm
	case **time.Time:
		if isNull {
			*p = nil
			return nil
		}
		tm, err := decodeTime(v, code)
		if err != nil {
			return err
		}
		*p = &tm
	case *civil.Date:
		if isNull {
			return errDstNotForNull(ptr)
		}
		d, err := decodeDate(v, code)
		if err != nil {
			return err
		}
		*p = d
	case **civil.Date:
		if isNull {
			*p = nil
			return nil
		}
		d, err := decodeDate(v, code)
		if err != nil {
			return err
		}
		*p = &d
	case *interface{}:
		if isNull {
			*p = nil
			return nil
		}
		*p = v
	default:
		return errDecodeColumn(code, ptr)
	}
	return nil
}

func decodeInt(v *proto3.Value, code sppb.TypeCode) (int64, error) {
	s, err := decodeString(v, code, sppb.TypeCode_INT64)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errBadEncoding(v, err)
	}
	return n, nil
}

func decodeBool(v *proto3.Value, code sppb.TypeCode) (bool, error) {
	if code != sppb.TypeCode_BOOL {
		return false, errTypeMismatch(code, sppb.TypeCode_BOOL)
	}
	b, ok := v.Kind.(*proto3.Value_BoolValue)
	if !ok {
		return false, errSrcVal(v, "Bool")
	}
	return b.BoolValue, nil
}

func decodeFloat(v *proto3.Value, code sppb.TypeCode) (float64, error) {
	if code != sppb.TypeCode_FLOAT64 {
		return 0, errTypeMismatch(code, sppb.TypeCode_FLOAT64)
	}
	switch x := v.Kind.(type) {
	case *proto3.Value_NumberValue:
		return x.NumberValue, nil
	case *proto3.Value_StringValue:
		switch x.StringValue {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, errUnexpectedNumStr(x.StringValue)
	}
	return 0, errSrcVal(v, "Number")
}

func decodeTime(v *proto3.Value, code sppb.TypeCode) (time.Time, error) {
	s, err := decodeString(v, code, sppb.TypeCode_TIMESTAMP)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errBadEncoding(v, err)
	}
	return t, nil
}

func decodeDate(v *proto3.Value, code sppb.TypeCode) (civil.Date, error) {
	s, err := decodeString(v, code, sppb.TypeCode_DATE)
	if err != nil {
		return civil.Date{}, err
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, errBadEncoding(v, err)
	}
	return d, nil
}

func decodeString(v *proto3.Value, code, want sppb.TypeCode) (string, error) {
	if code != want {
		return "", errTypeMismatch(code, want)
	}
	x, ok := v.Kind.(*proto3.Value_StringValue)
	if !ok {
		return "", errSrcVal(v, "String")
	}
	return x.StringValue, nil
}

func errSrcVal(v *proto3.Value, want string) error {
	return spannerErrorf(codes.FailedPrecondition, "cannot use %v(Kind: %T) as %s Value", v, v.GetKind(), want)
}

func errTypeMismatch(got, want sppb.TypeCode) error {
	return spannerErrorf(codes.InvalidArgument, "type %v cannot be used for decoding %v", got, want)
}

func errNilSrc() error {
	return spannerErrorf(codes.FailedPrecondition, "unexpected nil source value")
}

func errNilSpannerType() error {
	return spannerErrorf(codes.FailedPrecondition, "unexpected nil Cloud Spanner data type in decoding")
}

func errNilDst(dst interface{}) error {
	return spannerErrorf(codes.InvalidArgument, "cannot decode into nil type %T", dst)
}

func errDstNotForNull(dst interface{}) error {
	return spannerErrorf(codes.InvalidArgument, "destination %T cannot support NULL SQL values", dst)
}

func errBadEncoding(v *proto3.Value, err error) error {
	return spannerErrorf(codes.FailedPrecondition, "%v wasn't correctly encoded: <%v>", v, err)
}

func errUnexpectedNumStr(s string) error {
	return spannerErrorf(codes.FailedPrecondition, "unexpected string value %q for number", s)
}

func errDecodeColumn(code sppb.TypeCode, dst interface{}) error {
	return spannerErrorf(codes.InvalidArgument, "failed to decode %v into %T", code, dst)
}
