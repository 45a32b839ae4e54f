package transfer

import (
	"math"
	"sort"
	"time"

	"github.com/devio/devio/pkg/errors"
)

// Options holds the init parameters of a component as declared in the device
// configuration. All getter failures carry InitFailure, matching the
// construction-time contract.
type Options map[string]interface{}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Unknown verifies that every present key is in the known set.
func (o Options) Unknown(known ...string) error {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var unknown []string
	for k := range o {
		if _, ok := set[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return errors.Newf(errors.CodeInitFailure, "unrecognized options: %v", unknown).
		WithComponent("transfer").WithOperation("options")
}

// String returns a required string option.
func (o Options) String(key string) (string, error) {
	v, ok := o[key]
	if !ok {
		return "", missing(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", badType(key, "string", v)
	}
	return s, nil
}

// StringOr returns a string option or def when absent.
func (o Options) StringOr(key, def string) (string, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.String(key)
}

// Int returns a required integer option.
func (o Options) Int(key string) (int, error) {
	v, ok := o[key]
	if !ok {
		return 0, missing(key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, badType(key, "integer", v)
		}
		return int(n), nil
	default:
		return 0, badType(key, "integer", v)
	}
}

// IntOr returns an integer option or def when absent.
func (o Options) IntOr(key string, def int) (int, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.Int(key)
}

// Duration returns a required duration option. Accepts a duration string
// ("100ms") or a bare number of seconds, the form the original configuration
// dialect uses for delays.
func (o Options) Duration(key string) (time.Duration, error) {
	v, ok := o[key]
	if !ok {
		return 0, missing(key)
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, errors.Newf(errors.CodeInitFailure, "option %q: invalid duration %q", key, d).
				WithComponent("transfer").WithOperation("options")
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, badType(key, "duration", v)
	}
}

// DurationOr returns a duration option or def when absent.
func (o Options) DurationOr(key string, def time.Duration) (time.Duration, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.Duration(key)
}

// Bytes returns a required byte sequence option. Accepts a string or a list
// of byte-valued integers for binary terminations.
func (o Options) Bytes(key string) ([]byte, error) {
	v, ok := o[key]
	if !ok {
		return nil, missing(key)
	}
	switch b := v.(type) {
	case string:
		return []byte(b), nil
	case []interface{}:
		out := make([]byte, 0, len(b))
		for _, e := range b {
			n, ok := toInt(e)
			if !ok || n < 0 || n > 0xFF {
				return nil, badType(key, "byte sequence", v)
			}
			out = append(out, byte(n))
		}
		return out, nil
	default:
		return nil, badType(key, "byte sequence", v)
	}
}

// BytesOr returns a byte sequence option or def when absent.
func (o Options) BytesOr(key string, def []byte) ([]byte, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.Bytes(key)
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func missing(key string) *errors.Error {
	return errors.Newf(errors.CodeInitFailure, "required option %q missing", key).
		WithComponent("transfer").WithOperation("options")
}

func badType(key, want string, got interface{}) *errors.Error {
	return errors.Newf(errors.CodeInitFailure, "option %q: expected %s, got %T", key, want, got).
		WithComponent("transfer").WithOperation("options")
}
