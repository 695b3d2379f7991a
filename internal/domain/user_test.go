package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Login)
	assert.NotEmpty(t, u.ID)

	_, err = NewUser("")
	assert.ErrorIs(t, err, ErrLoginEmpty)

	_, err = NewUser(strings.Repeat("x", MaxLoginLen+1))
	assert.ErrorIs(t, err, ErrLoginTooLong)
}

func TestRoomOthers(t *testing.T) {
	room := Room{
		ID:    "1",
		Title: "daily",
		Members: []User{
			{ID: "a"}, {ID: "b"}, {ID: "c"},
		},
	}

	others := room.Others("b")
	require.Len(t, others, 2)
	assert.Equal(t, UserID("a"), others[0].ID)
	assert.Equal(t, UserID("c"), others[1].ID)

	assert.Len(t, room.Others("missing"), 3)
	assert.Empty(t, (&Room{}).Others("a"))
}
