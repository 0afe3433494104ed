// Package markup converts nested JSON-shaped values into an XML element
// tree. Mappings become one child element per key, sequences become
// repeated "item" elements and scalars become element text.
//
// Go maps with string keys are written in sorted key order; Object keeps
// insertion order.
//
// Only the value-to-XML direction exists. FromJSON produces the ordered
// value from JSON text so that element order follows the document's key
// order.
package markup

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ItemTag is the element name used for every entry of a sequence.
const ItemTag = "item"

// ErrUnrepresentable reports a value shape or key that cannot be written as
// an XML element.
var ErrUnrepresentable = errors.New("markup: unrepresentable value")

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value any
}

// Object is a mapping that keeps its keys in insertion order.
type Object []Member

// Get returns the value stored under key.
func (o Object) Get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Marshal renders v under a single root element and prepends the XML
// declaration.
func Marshal(root string, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, root, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the declaration and the element tree for v to w.
func Encode(w io.Writer, root string, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := encodeElement(enc, root, v); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeElement(enc *xml.Encoder, tag string, v any) error {
	if !validName(tag) {
		return fmt.Errorf("%w: invalid element name %q", ErrUnrepresentable, tag)
	}
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	if err := encodeContent(enc, v); err != nil {
		return err
	}

	return enc.EncodeToken(start.End())
}

// encodeContent writes the children or text of one element. Object keeps
// its key order; other maps with string keys are written in sorted key
// order. Any slice or array becomes a run of item elements and a nil
// pointer, slice or map renders as empty text.
func encodeContent(enc *xml.Encoder, v any) error {
	switch val := v.(type) {
	case Object:
		for _, m := range val {
			if err := encodeElement(enc, m.Key, m.Value); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, item := range val {
			if err := encodeElement(enc, ItemTag, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(val)) {
			if err := encodeElement(enc, k, val[k]); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return encodeContent(enc, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := encodeElement(enc, ItemTag, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key type %s", ErrUnrepresentable, rv.Type().Key())
		}
		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(a.String(), b.String())
		})
		for _, k := range keys {
			if err := encodeElement(enc, k.String(), rv.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
		return nil
	}

	text, err := scalarText(v)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return enc.EncodeToken(xml.CharData(text))
}

func scalarText(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: unsupported type %T", ErrUnrepresentable, v)
}

// validName accepts the subset of XML names a JSON key can map onto
// without escaping: a letter or underscore followed by letters, digits,
// '-', '_' or '.'.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
		default:
			return false
		}
	}
	if len(s) >= 3 && (s[0]|0x20) == 'x' && (s[1]|0x20) == 'm' && (s[2]|0x20) == 'l' {
		return false
	}
	return true
}

// FromJSON decodes JSON text into Object / []any / scalar values, keeping
// object key order. Numbers decode as json.Number so their text is
// preserved exactly.
func FromJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("markup: trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("markup: decode json: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("markup: decode json: %w", err)
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj = append(obj, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("markup: decode json: %w", err)
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("markup: decode json: %w", err)
			}
			return arr, nil
		}
		return nil, fmt.Errorf("markup: unexpected delimiter %q", t)
	default:
		return t, nil
	}
}

// WellFormed reports whether data parses as a complete XML document.
func WellFormed(data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("xml: not well-formed: invalid UTF-8")
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("xml: not well-formed: %w", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots != 1 {
		return fmt.Errorf("xml: not well-formed: expected one root element, found %d", roots)
	}
	return nil
}
