package ask

import (
	"fmt"
	"log"

	"github.com/echokit/echokit/ask/convert"
)

// builtinConverters are the shorthand names accepted by Convert. The
// date and time grammars treat "no match" as a nil value rather than an
// error, per the platform's loose slot formats; only duration parsing
// can fail hard.
var builtinConverters = map[string]ConverterFunc{
	"date": func(value any) (any, error) {
		date, ok := convert.Date(asString(value))
		if !ok {
			return nil, nil
		}
		return date, nil
	},
	"time": func(value any) (any, error) {
		clock, ok := convert.Time(asString(value))
		if !ok {
			log.Printf("[Ask] time converter matched nothing for %q", asString(value))
			return nil, nil
		}
		return clock, nil
	},
	"timedelta": func(value any) (any, error) {
		return convert.Duration(asString(value))
	},
}

// bindParams produces one positional argument per declared parameter.
// Resolution per parameter: apply the name mapping, look the value up in
// the request data, fall back to a registered default when missing or
// empty, then run any registered converter. Converter failure is
// non-fatal: the parameter keeps its pre-conversion value and the error
// is reported in the returned map under the parameter's name.
func bindParams(reg *registration, lookup func(name string) (any, bool)) ([]any, map[string]error) {
	args := make([]any, 0, len(reg.params))
	convertErrors := map[string]error{}

	for _, param := range reg.params {
		field := param
		if mapped, ok := reg.mapping[param]; ok {
			field = mapped
		}

		value, found := lookup(field)
		if !found || value == nil || value == "" {
			if def, ok := reg.defaults[param]; ok {
				value = def()
			}
		} else if conv, ok := reg.converts[param]; ok {
			converted, err := conv(value)
			if err != nil {
				convertErrors[param] = fmt.Errorf("ask: convert %s: %w", param, err)
			} else {
				value = converted
			}
		}
		args = append(args, value)
	}
	return args, convertErrors
}

// intentLookup exposes slot values by slot name. Slots with no value
// report found=false so defaults apply.
func intentLookup(intent Intent) func(string) (any, bool) {
	return func(name string) (any, bool) {
		slot, ok := intent.Slots[name]
		if !ok || slot.Value == "" {
			return nil, false
		}
		return slot.Value, true
	}
}

// fieldLookup exposes the raw request body fields of non-intent
// requests, e.g. token and offsetInMilliseconds on playback events.
func fieldLookup(req Request) func(string) (any, bool) {
	fields := req.Base().Fields()
	return func(name string) (any, bool) {
		value, ok := fields[name]
		return value, ok
	}
}

func asString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
