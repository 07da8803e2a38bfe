package mocks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	var fired []string
	var firedAt []time.Time
	record := func(name string) func() {
		return func() {
			fired = append(fired, name)
			firedAt = append(firedAt, c.Now())
		}
	}
	c.AfterFunc(20*time.Second, record("late"))
	c.AfterFunc(10*time.Second, record("early"))
	stopped := c.AfterFunc(5*time.Second, record("stopped"))
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 2, c.Pending())

	c.Advance(15 * time.Second)
	assert.Equal(t, []string{"early"}, fired)
	assert.Equal(t, start.Add(10*time.Second), firedAt[0])
	assert.Equal(t, start.Add(15*time.Second), c.Now())

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Zero(t, c.Pending())
}

func TestMockClockChainsTimersWithinWindow(t *testing.T) {
	c := NewMockClock(time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC))

	var count int
	c.AfterFunc(time.Second, func() {
		count++
		c.AfterFunc(time.Second, func() { count++ })
	})

	c.Advance(2 * time.Second)
	assert.Equal(t, 2, count)
}

func TestMockClockSetDoesNotFire(t *testing.T) {
	start := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	var fired bool
	c.AfterFunc(time.Second, func() { fired = true })

	c.Set(start.Add(time.Minute))
	assert.False(t, fired)
	assert.Equal(t, 1, c.Pending())
}
