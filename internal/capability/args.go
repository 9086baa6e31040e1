package capability

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Args are the string arguments of one invocation.
type Args map[string]string

// Get returns the named argument, or "" when it is absent.
func (a Args) Get(name string) string {
	return a[name]
}

// GetOr returns the named argument, or def when it is absent or blank.
func (a Args) GetOr(name, def string) string {
	if v := strings.TrimSpace(a[name]); v != "" {
		return a[name]
	}
	return def
}

// Clone returns a copy of a that is safe to retain.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// validate checks that every required parameter of d is present.
func (a Args) validate(d schemas.CapabilityDescriptor) error {
	var missing []string
	for _, p := range d.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := a[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s requires %s", schemas.ErrInvalidArguments, d.Name, strings.Join(missing, ", "))
	}
	return nil
}

// ArgsFromMap converts loosely typed engine arguments into Args. Strings are
// kept as is; every other value is rendered as JSON.
func ArgsFromMap(in map[string]any) Args {
	out := make(Args, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err != nil {
				out[k] = fmt.Sprint(t)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// DecodeArgs parses a JSON object into Args.
func DecodeArgs(raw []byte) (Args, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Args{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: arguments are not a JSON object: %v", schemas.ErrInvalidArguments, err)
	}
	return ArgsFromMap(m), nil
}
