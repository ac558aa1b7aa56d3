package loader

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/nlpodyssey/gopickle/pickle"
)

// unsupportedClassError is returned for pickled globals the loader cannot rebuild
type unsupportedClassError struct {
	module string
	name   string
}

func (e *unsupportedClassError) Error() string {
	return fmt.Sprintf("unsupported pickled class %s.%s", e.module, e.name)
}

// decodePickle unpickles one object and converts it to plain Go values
func decodePickle(r io.Reader) (interface{}, error) {
	u := pickle.NewUnpickler(r)
	u.FindClass = findClass

	obj, err := u.Load()
	if err != nil {
		return nil, err
	}
	return normalize(obj)
}

func findClass(module, name string) (interface{}, error) {
	switch module + "." + name {
	case "datetime.date":
		return pyDate{}, nil
	case "datetime.datetime":
		return pyDateTime{}, nil
	case "_codecs.encode":
		return codecsEncode{}, nil
	case "numpy.core.multiarray._reconstruct", "numpy._core.multiarray._reconstruct":
		return ndarrayReconstruct{}, nil
	case "numpy.ndarray":
		return ndarrayClass{}, nil
	case "numpy.dtype":
		return dtypeClass{}, nil
	case "numpy.core.multiarray.scalar", "numpy._core.multiarray.scalar":
		return numpyScalar{}, nil
	case "pandas._libs.tslibs.timestamps._unpickle_timestamp":
		return timestampUnpickler{}, nil
	}
	return nil, &unsupportedClassError{module: module, name: name}
}

// pyDate rebuilds datetime.date from its 4-byte state or (year, month, day)
type pyDate struct{}

func (pyDate) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 3 {
		y, okY := asInt(args[0])
		m, okM := asInt(args[1])
		d, okD := asInt(args[2])
		if okY && okM && okD {
			return time.Date(int(y), time.Month(m), int(d), 0, 0, 0, 0, time.UTC), nil
		}
	}
	if len(args) < 1 {
		return nil, fmt.Errorf("datetime.date: missing state")
	}
	b, ok := asBytes(args[0])
	if !ok || len(b) != 4 {
		return nil, fmt.Errorf("datetime.date: unexpected state %v", args[0])
	}
	year := int(b[0])<<8 | int(b[1])
	return time.Date(year, time.Month(b[2]), int(b[3]), 0, 0, 0, 0, time.UTC), nil
}

// pyDateTime rebuilds datetime.datetime from its 10-byte state; tzinfo is ignored
type pyDateTime struct{}

func (pyDateTime) Call(args ...interface{}) (interface{}, error) {
	if len(args) >= 3 {
		if _, isBytes := asBytes(args[0]); !isBytes {
			parts := make([]int, 7)
			for i := 0; i < len(args) && i < 7; i++ {
				v, ok := asInt(args[i])
				if !ok {
					return nil, fmt.Errorf("datetime.datetime: non-integer component %v", args[i])
				}
				parts[i] = int(v)
			}
			return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6]*1000, time.UTC), nil
		}
	}
	if len(args) < 1 {
		return nil, fmt.Errorf("datetime.datetime: missing state")
	}
	b, ok := asBytes(args[0])
	if !ok || len(b) != 10 {
		return nil, fmt.Errorf("datetime.datetime: unexpected state %v", args[0])
	}
	year := int(b[0])<<8 | int(b[1])
	usec := int(b[7])<<16 | int(b[8])<<8 | int(b[9])
	return time.Date(year, time.Month(b[2]), int(b[3]), int(b[4]), int(b[5]), int(b[6]), usec*1000, time.UTC), nil
}

// codecsEncode handles protocol-2 bytes, pickled as _codecs.encode(str, "latin1")
type codecsEncode struct{}

func (codecsEncode) Call(args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("_codecs.encode: missing argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("_codecs.encode: expected str, got %T", args[0])
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, fmt.Errorf("_codecs.encode: rune %U outside latin1", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

type timestampUnpickler struct{}

func (timestampUnpickler) Call(args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("pandas Timestamp: missing value")
	}
	ns, ok := asInt(args[0])
	if !ok {
		return nil, fmt.Errorf("pandas Timestamp: non-integer value %v", args[0])
	}
	return time.Unix(0, ns).UTC(), nil
}

type ndarrayClass struct{}

type ndarrayReconstruct struct{}

func (ndarrayReconstruct) Call(args ...interface{}) (interface{}, error) {
	return &ndarray{}, nil
}

// ndarray is a decoded one-dimensional numeric numpy array
type ndarray struct {
	values []float64
}

// PySetState receives (version, shape, dtype, is_fortran, data)
func (a *ndarray) PySetState(state interface{}) error {
	items, ok := asSlice(state)
	if !ok || len(items) != 5 {
		return fmt.Errorf("ndarray: unexpected state %T", state)
	}

	shape, ok := asSlice(items[1])
	if !ok {
		return fmt.Errorf("ndarray: unexpected shape %v", items[1])
	}
	count := int64(1)
	for _, dim := range shape {
		n, ok := asInt(dim)
		if !ok {
			return fmt.Errorf("ndarray: unexpected dimension %v", dim)
		}
		count *= n
	}

	// object arrays carry a list of python values
	if list, ok := asSlice(items[4]); ok {
		a.values = make([]float64, 0, len(list))
		for _, v := range list {
			f, ok := asFloat(v)
			if !ok {
				return fmt.Errorf("ndarray: non-numeric element %v", v)
			}
			a.values = append(a.values, f)
		}
		return nil
	}

	dt, ok := items[2].(*dtype)
	if !ok {
		return fmt.Errorf("ndarray: unexpected dtype %T", items[2])
	}
	raw, ok := asBytes(items[4])
	if !ok {
		return fmt.Errorf("ndarray: unexpected data %T", items[4])
	}
	values, err := dt.decode(raw)
	if err != nil {
		return err
	}
	if int64(len(values)) != count {
		return fmt.Errorf("ndarray: shape holds %d elements, data holds %d", count, len(values))
	}
	a.values = values
	return nil
}

type dtypeClass struct{}

func (dtypeClass) Call(args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("numpy.dtype: missing type code")
	}
	code, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("numpy.dtype: unexpected type code %v", args[0])
	}
	if alias, ok := dtypeAliases[code]; ok {
		code = alias
	}
	return &dtype{code: code, order: "<"}, nil
}

var dtypeAliases = map[string]string{
	"float64": "f8", "float32": "f4", "int64": "i8", "int32": "i4", "int16": "i2", "int8": "i1",
	"uint64": "u8", "uint32": "u4", "uint16": "u2", "uint8": "u1", "bool": "b1", "object": "O8",
}

// dtype describes a numpy element type such as f8 or <i4
type dtype struct {
	code  string
	order string
}

// PySetState receives (version, byteorder, subdescr, names, fields, elsize, alignment, flags)
func (d *dtype) PySetState(state interface{}) error {
	items, ok := asSlice(state)
	if !ok || len(items) < 2 {
		return fmt.Errorf("numpy.dtype: unexpected state %T", state)
	}
	if order, ok := items[1].(string); ok {
		d.order = order
	}
	return nil
}

func (d *dtype) byteOrder() binary.ByteOrder {
	if d.order == ">" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (d *dtype) decode(raw []byte) ([]float64, error) {
	if len(d.code) < 2 {
		return nil, fmt.Errorf("numpy.dtype: unsupported type code %q", d.code)
	}
	kind := d.code[0]
	var size int
	if _, err := fmt.Sscanf(d.code[1:], "%d", &size); err != nil || size <= 0 {
		return nil, fmt.Errorf("numpy.dtype: unsupported type code %q", d.code)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("numpy.dtype: %d bytes is not a multiple of %d", len(raw), size)
	}

	order := d.byteOrder()
	out := make([]float64, 0, len(raw)/size)
	for off := 0; off < len(raw); off += size {
		chunk := raw[off : off+size]
		var v float64
		switch {
		case kind == 'f' && size == 8:
			v = math.Float64frombits(order.Uint64(chunk))
		case kind == 'f' && size == 4:
			v = float64(math.Float32frombits(order.Uint32(chunk)))
		case kind == 'i' && size == 8:
			v = float64(int64(order.Uint64(chunk)))
		case kind == 'i' && size == 4:
			v = float64(int32(order.Uint32(chunk)))
		case kind == 'i' && size == 2:
			v = float64(int16(order.Uint16(chunk)))
		case kind == 'i' && size == 1:
			v = float64(int8(chunk[0]))
		case kind == 'u' && size == 8:
			v = float64(order.Uint64(chunk))
		case kind == 'u' && size == 4:
			v = float64(order.Uint32(chunk))
		case kind == 'u' && size == 2:
			v = float64(order.Uint16(chunk))
		case (kind == 'u' || kind == 'b') && size == 1:
			v = float64(chunk[0])
		default:
			return nil, fmt.Errorf("numpy.dtype: unsupported type code %q", d.code)
		}
		out = append(out, v)
	}
	return out, nil
}

// numpyScalar rebuilds numpy scalars such as np.float64 from (dtype, bytes)
type numpyScalar struct{}

func (numpyScalar) Call(args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("numpy scalar: expected (dtype, data)")
	}
	dt, ok := args[0].(*dtype)
	if !ok {
		return nil, fmt.Errorf("numpy scalar: unexpected dtype %T", args[0])
	}
	raw, ok := asBytes(args[1])
	if !ok {
		return nil, fmt.Errorf("numpy scalar: unexpected data %T", args[1])
	}
	values, err := dt.decode(raw)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("numpy scalar: expected one element, got %d", len(values))
	}
	switch dt.code[0] {
	case 'i', 'u':
		return int64(values[0]), nil
	case 'b':
		return values[0] != 0, nil
	}
	return values[0], nil
}

// pyDict is the method set of an unpickled python dict
type pyDict interface {
	Keys() []interface{}
	Get(key interface{}) (interface{}, bool)
}

// normalize converts unpickled values into map[string]interface{}, []interface{}
// and scalars so the decoder does not depend on the unpickler's container types.
func normalize(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, bool, string, float64, int64, time.Time, []byte, []float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case *big.Int:
		if x.IsInt64() {
			return x.Int64(), nil
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, nil
	case *ndarray:
		return x.values, nil
	case pyDict:
		out := make(map[string]interface{})
		for _, k := range x.Keys() {
			val, _ := x.Get(k)
			if err := setEntry(out, k, val); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if isEntrySlice(rv) {
			out := make(map[string]interface{}, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				entry := reflect.Indirect(rv.Index(i))
				if !entry.IsValid() {
					continue
				}
				if err := setEntry(out, entry.FieldByName("Key").Interface(), entry.FieldByName("Value").Interface()); err != nil {
					return nil, err
				}
			}
			return out, nil
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if err := setEntry(out, iter.Key().Interface(), iter.Value().Interface()); err != nil {
				return nil, err
			}
		}
		return out, nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, fmt.Errorf("unsupported pickled value of type %T", v)
}

func setEntry(out map[string]interface{}, key, value interface{}) error {
	k, err := normalize(key)
	if err != nil {
		return err
	}
	val, err := normalize(value)
	if err != nil {
		return err
	}
	if s, ok := k.(string); ok {
		out[s] = val
	} else {
		out[fmt.Sprint(k)] = val
	}
	return nil
}

// isEntrySlice reports whether rv holds dict entries with Key and Value fields
func isEntrySlice(rv reflect.Value) bool {
	elem := rv.Type().Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return false
	}
	_, hasKey := elem.FieldByName("Key")
	_, hasValue := elem.FieldByName("Value")
	return hasKey && hasValue
}

func asSlice(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asBytes(v interface{}) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		// protocol 0-2 strings carry raw bytes one rune per byte
		if strings.IndexFunc(x, func(r rune) bool { return r > 0xff }) >= 0 {
			return nil, false
		}
		out := make([]byte, 0, len(x))
		for _, r := range x {
			out = append(out, byte(r))
		}
		return out, true
	}
	return nil, false
}

func asInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case *big.Int:
		if x.IsInt64() {
			return x.Int64(), true
		}
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int64(x), true
		}
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	}
	return 0, false
}
