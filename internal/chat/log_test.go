package chat

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbchat/internal/api"
)

func TestApply_AppendDoesNotMutateInput(t *testing.T) {
	base := Apply(nil, Event{Kind: EventAppendUser, Message: api.Message{ID: "u1", Role: api.RoleUser, Content: "hi"}})
	require.Len(t, base, 1)

	a := Apply(base, Event{Kind: EventAppendAssistant, Message: api.Message{ID: "a1", Role: api.RoleAssistant}})
	b := Apply(base, Event{Kind: EventAppendError, Message: api.Message{ID: "e1", Role: api.RoleAssistant}})

	assert.Len(t, base, 1, "base log must stay untouched")
	require.Len(t, a, 2)
	require.Len(t, b, 2)
	assert.Equal(t, "a1", a[1].ID)
	assert.Equal(t, "e1", b[1].ID)
}

func TestApply_ReplaceAllCopies(t *testing.T) {
	source := []api.Message{{ID: "m1"}, {ID: "m2"}}
	log := Apply(MessageLog{{ID: "old"}}, Event{Kind: EventReplaceAll, Messages: source})

	require.Len(t, log, 2)
	source[0].ID = "mutated"
	assert.Equal(t, "m1", log[0].ID, "log must not alias the source slice")
}

func TestApply_Clear(t *testing.T) {
	log := Apply(MessageLog{{ID: "m1"}}, Event{Kind: EventClear})
	assert.Empty(t, log)
}

func TestNextLocalID_Monotonic(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NextLocalID()
		assert.True(t, strings.HasPrefix(id, "local-"))
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestErrorMessage(t *testing.T) {
	msg := ErrorMessage(errors.New("connection refused"))
	assert.Equal(t, api.RoleAssistant, msg.Role)
	assert.Contains(t, msg.Content, "connection refused")
	assert.NotEmpty(t, msg.ID)
}
