package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTouch(t *testing.T) {
	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	s := newSession(&fakeSession{}, func() time.Time { return clock })

	assert.True(t, s.LastInteraction().Equal(clock), "starts at creation time")
	assert.True(t, s.CreatedAt().Equal(clock))

	clock = clock.Add(2 * time.Minute)
	s.Touch()
	assert.True(t, s.LastInteraction().Equal(clock))

	earlier := clock.Add(-time.Minute)
	clock = earlier
	s.Touch()
	assert.True(t, s.LastInteraction().After(earlier), "timestamp never moves backwards")
}

func TestSessionIdleFor(t *testing.T) {
	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	s := newSession(&fakeSession{}, func() time.Time { return clock })

	clock = clock.Add(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, s.IdleFor())

	s.Touch()
	assert.Equal(t, time.Duration(0), s.IdleFor())
}

func TestSessionCloseOnce(t *testing.T) {
	model := &fakeSession{}
	s := newSession(model, nil)

	require.NoError(t, s.close())
	require.NoError(t, s.close())
	assert.Equal(t, 1, model.closes)
}

func TestConversation(t *testing.T) {
	seed := []Turn{{Role: RoleUser, Text: "system"}, {Role: RoleModel, Text: "ack"}}
	c := newConversation(seed)
	seed[0].Text = "mutated"

	turns, err := c.snapshot()
	require.NoError(t, err)
	assert.Equal(t, "system", turns[0].Text, "seed is copied")

	turns[1].Text = "changed"
	c.commit("question", "answer")
	assert.Equal(t, 4, c.len())

	turns, err = c.snapshot()
	require.NoError(t, err)
	assert.Equal(t, "ack", turns[1].Text, "snapshots are copies")
	assert.Equal(t, Turn{Role: RoleUser, Text: "question"}, turns[2])
	assert.Equal(t, Turn{Role: RoleModel, Text: "answer"}, turns[3])

	c.close()
	_, err = c.snapshot()
	assert.ErrorIs(t, err, errSessionClosed)
}
