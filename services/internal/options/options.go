// Package options decodes the opaque option maps backends are configured
// with into typed, validated config structs.
package options

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/sagarc03/anystore"
)

var validate = validator.New()

// Decode fills out, a pointer to a struct with mapstructure tags, from raw
// and validates it. Values are converted from strings, durations use
// time.ParseDuration syntax and lists are comma separated. Unknown keys and
// validation failures are reported as InvalidInput.
func Decode(raw map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("options: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return invalid("decode options", err)
	}

	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return invalid(describe(verrs), err)
		}
		return invalid("validate options", err)
	}

	return nil
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid options: " + strings.Join(msgs, "; ")
}

func invalid(message string, cause error) error {
	return anystore.NewError(anystore.KindInvalidInput, message).WithCause(cause)
}
