package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks returns the viper decoder option used when unmarshalling configuration.
// Setting a decode hook replaces viper's defaults, so the duration and slice hooks are always included.
func CustomHooks(extra ...mapstructure.DecodeHookFunc) viper.DecoderConfigOption {
	hooks := []mapstructure.DecodeHookFunc{
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	}
	hooks = append(hooks, extra...)
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(hooks...))
}

// StringEnumHookFunc returns a hook that converts strings into the type of target using parse.
// Used for enumerated settings so that an unknown value fails at load time.
func StringEnumHookFunc[T any](target T, parse func(string) (T, error)) mapstructure.DecodeHookFuncType {
	targetType := reflect.TypeOf(target)
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != targetType {
			return data, nil
		}
		return parse(data.(string))
	}
}
