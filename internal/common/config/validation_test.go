package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatedQueue struct {
	Name    string `validate:"required"`
	Backend string `validate:"oneof=redis memory"`
	Retries int    `validate:"gte=1"`
}

type validatedConfig struct {
	Queue validatedQueue
}

func TestLogValidationErrors(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	err := Validate(validatedConfig{Queue: validatedQueue{Backend: "kafka"}})
	require.Error(t, err)
	LogValidationErrors(err)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	fields := map[string]string{}
	for _, entry := range entries {
		assert.Equal(t, logrus.ErrorLevel, entry.Level)
		fields[entry.Data["field"].(string)] = entry.Message
	}
	assert.Equal(t, "Configuration value is required", fields["Queue.Name"])
	assert.Equal(t, "Configuration value kafka is not one of [redis memory]", fields["Queue.Backend"])
	assert.Equal(t, "Configuration value 0 fails gte=1", fields["Queue.Retries"])
}

func TestLogValidationErrors_Valid(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	err := Validate(validatedConfig{Queue: validatedQueue{Name: "runs", Backend: "redis", Retries: 3}})
	require.NoError(t, err)
	LogValidationErrors(err)
	assert.Empty(t, hook.AllEntries())
}
