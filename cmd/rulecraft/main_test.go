package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulecrafter/internal/event"
)

func TestRawEventJSONDecodes(t *testing.T) {
	line := `{"kind":"error_raised","session_id":"s1","output":"TS2322: Type 'string' is not assignable"}`
	var raw rawEventJSON
	require.NoError(t, json.Unmarshal([]byte(line), &raw))

	ev, err := event.Normalize(raw.raw())
	require.NoError(t, err)
	assert.Equal(t, event.KindErrorRaised, ev.Kind)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Contains(t, ev.Payload.ErrorSignature, "typescript_error")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "watch", "analyze", "pending", "approve", "reject", "status"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
