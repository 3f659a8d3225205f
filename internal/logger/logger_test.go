package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)
	Component("bot").Debug("hidden")
	Component("bot").Info("cycle done", "posted", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "service=coinrelay")
	assert.Contains(t, out, "component=bot")
	assert.Contains(t, out, "posted=1")

	buf.Reset()
	InitWriter(&buf, true)
	Component("feed").Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
