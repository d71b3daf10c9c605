package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchAccount(t *testing.T) {
	var channel Channel
	err := channel.SetAccountRules([]AccountRule{
		{Pattern: "STORE-", Account: "retail"},
		{Pattern: "ONLINE", Account: "web"},
		{Pattern: "*", Account: "general"},
	})
	assert.NoError(t, err)

	assert.Equal(t, "retail", channel.MatchAccount("STORE-001"))
	assert.Equal(t, "web", channel.MatchAccount("ONLINE"))
	// First match wins; the wildcard catches the rest.
	assert.Equal(t, "general", channel.MatchAccount("anything else"))
}

func TestMatchAccountNoRules(t *testing.T) {
	var channel Channel
	assert.Equal(t, "", channel.MatchAccount("STORE-001"))

	channel.AccountMapping = "{not json"
	assert.Equal(t, "", channel.MatchAccount("STORE-001"))
}

func TestAccountRulesRoundTrip(t *testing.T) {
	var channel Channel
	rules := []AccountRule{{Pattern: "A", Account: "a"}}
	assert.NoError(t, channel.SetAccountRules(rules))
	assert.Equal(t, rules, channel.AccountRules())
}
