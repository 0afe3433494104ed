package passport

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Lookup set names understood by the validator.
const (
	LookupSex              = "sex"
	LookupEventType        = "event_type"
	LookupPrescriptionType = "prescription_type"
	LookupDrugStatus       = "drug_status"
)

// Lookups maps a lookup name to its permitted values. A missing entry
// means the corresponding field is not checked.
type Lookups map[string]LookupSet

type lookupValue struct {
	isNum bool
	num   float64
	str   string
}

func (v lookupValue) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// LookupSet is a set of permitted coded values. Strings and numbers are
// distinct members: "11" does not match 11.
type LookupSet map[lookupValue]struct{}

func NewLookupSet(values ...any) LookupSet {
	s := make(LookupSet, len(values))
	for _, v := range values {
		if lv, ok := normalizeLookup(v); ok {
			s[lv] = struct{}{}
		}
	}
	return s
}

// Contains reports whether v is a member of the set.
func (s LookupSet) Contains(v any) bool {
	lv, ok := normalizeLookup(v)
	if !ok {
		return false
	}
	_, found := s[lv]
	return found
}

// String renders the members sorted, numbers before strings, as a bracketed
// list with quoted strings, e.g. ['F', 'I', 'M', 'U'] or [1, 11, 13].
func (s LookupSet) String() string {
	members := make([]lookupValue, 0, len(s))
	for v := range s {
		members = append(members, v)
	}
	slices.SortFunc(members, func(a, b lookupValue) int {
		switch {
		case a.isNum && b.isNum:
			if a.num < b.num {
				return -1
			}
			if a.num > b.num {
				return 1
			}
			return 0
		case a.isNum:
			return -1
		case b.isNum:
			return 1
		}
		return strings.Compare(a.str, b.str)
	})

	parts := make([]string, len(members))
	for i, m := range members {
		if m.isNum {
			parts[i] = m.String()
		} else {
			parts[i] = "'" + m.str + "'"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func normalizeLookup(v any) (lookupValue, bool) {
	switch x := v.(type) {
	case string:
		return lookupValue{str: x}, true
	case float64:
		return lookupValue{isNum: true, num: x}, true
	case float32:
		return lookupValue{isNum: true, num: float64(x)}, true
	case int:
		return lookupValue{isNum: true, num: float64(x)}, true
	case int32:
		return lookupValue{isNum: true, num: float64(x)}, true
	case int64:
		return lookupValue{isNum: true, num: float64(x)}, true
	case uint64:
		return lookupValue{isNum: true, num: float64(x)}, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return lookupValue{}, false
		}
		return lookupValue{isNum: true, num: f}, true
	}
	return lookupValue{}, false
}

// LoadLookups reads lookup sets from a config file (YAML, JSON or TOML,
// chosen by extension). Every top-level key must hold a list:
//
//	sex: [F, M, U, I]
//	event_type: [1, 11, 13]
func LoadLookups(path string) (Lookups, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read lookups %s: %w", path, err)
	}

	out := make(Lookups)
	for _, key := range v.AllKeys() {
		items, ok := v.Get(key).([]interface{})
		if !ok {
			return nil, fmt.Errorf("lookup %q must be a list", key)
		}
		out[key] = NewLookupSet(items...)
	}
	return out, nil
}
