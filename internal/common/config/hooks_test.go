package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type colour string

func parseColour(s string) (colour, error) {
	switch s {
	case "red", "blue":
		return colour(s), nil
	}
	return "", fmt.Errorf("unknown colour %q", s)
}

type hookTarget struct {
	Interval time.Duration
	Origins  []string
	Colour   colour
}

func decode(t *testing.T, input map[string]interface{}) (hookTarget, error) {
	var out hookTarget
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			StringEnumHookFunc(colour(""), parseColour),
		),
		Result: &out,
	})
	require.NoError(t, err)
	err = decoder.Decode(input)
	return out, err
}

func TestStringEnumHookFunc(t *testing.T) {
	out, err := decode(t, map[string]interface{}{
		"interval": "5s",
		"origins":  "a,b",
		"colour":   "red",
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, out.Interval)
	assert.Equal(t, []string{"a", "b"}, out.Origins)
	assert.Equal(t, colour("red"), out.Colour)

	_, err = decode(t, map[string]interface{}{"colour": "green"})
	assert.Error(t, err)
}
