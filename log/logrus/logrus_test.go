package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache"
)

func TestLogger_FieldsAndError(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	boom := errors.New("boom")
	l.Warn("promotion failed", tiercache.Fields{"key": "k", "layer": "memory", "err": boom})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "promotion failed", entry.Message)
	assert.Equal(t, "k", entry.Data["key"])
	assert.Equal(t, "tiercache", entry.Data["component"])
	assert.Equal(t, boom, entry.Data[logrus.ErrorKey])

	l.Debug("no fields", nil)
	assert.Len(t, hook.AllEntries(), 2)
}
