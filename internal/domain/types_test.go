package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleIDStablePerScope(t *testing.T) {
	a := RuleID("Always run tests before committing.", ScopeTeam)
	b := RuleID("always  run tests   before committing.", ScopeTeam)
	assert.Equal(t, a, b, "whitespace and case must not change the id")

	c := RuleID("Always run tests before committing.", ScopePersonal)
	assert.NotEqual(t, a, c, "same text in different scopes is a different rule")
}

func TestSequenceIDIsOrderSensitive(t *testing.T) {
	a := SequenceID([]string{"Bash:go test", "Edit:main.go"})
	b := SequenceID([]string{"Edit:main.go", "Bash:go test"})
	assert.NotEqual(t, a, b)

	assert.Equal(t, a, SequenceID([]string{"Bash:go test", "Edit:main.go"}))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusSuperseded.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusCandidate.Terminal())
}

func TestPatternID(t *testing.T) {
	p := PatternRecord{Class: ClassError, Identity: "npm_error:missing script"}
	assert.Equal(t, "error:npm_error:missing script", p.ID())
}
