package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type transition struct{ from, to State }

func TestBreaker(t *testing.T) {
	t.Run("opens after consecutive failures", func(t *testing.T) {
		var seen []transition
		b := New("registry",
			WithFailureThreshold(2),
			OnStateChange(func(name string, from, to State) {
				assert.Equal(t, "registry", name)
				seen = append(seen, transition{from, to})
			}),
		)
		b.Failure()
		assert.Equal(t, StateClosed, b.State())

		b.Failure()
		assert.True(t, b.IsOpen())
		assert.False(t, b.Allow())
		assert.Equal(t, []transition{{StateClosed, StateOpen}}, seen)
	})

	t.Run("a success resets the failure streak", func(t *testing.T) {
		b := New("registry", WithFailureThreshold(2))
		b.Failure()
		b.Success()
		b.Failure()
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("half-open admits one probe at a time", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		b := New("registry",
			WithFailureThreshold(1),
			WithSuccessThreshold(2),
			WithOpenTimeout(5*time.Second),
			WithClock(clock.Now),
		)
		assert.True(t, b.Allow())
		b.Failure()
		assert.False(t, b.Allow())

		clock.Advance(5 * time.Second)
		assert.True(t, b.Allow(), "probe allowed after timeout")
		assert.Equal(t, StateHalfOpen, b.State())
		assert.False(t, b.Allow(), "only one probe in flight")

		b.Success()
		assert.Equal(t, StateHalfOpen, b.State())
		assert.True(t, b.Allow(), "next probe after a successful one")
		b.Success()
		assert.Equal(t, StateClosed, b.State())
		assert.True(t, b.Allow())
	})

	t.Run("a failed probe reopens the circuit", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		b := New("registry", WithFailureThreshold(1), WithOpenTimeout(time.Second), WithClock(clock.Now))
		b.Failure()

		clock.Advance(time.Second)
		assert.True(t, b.Allow())
		b.Failure()
		assert.True(t, b.IsOpen())
		assert.False(t, b.Allow(), "open timeout restarts")

		clock.Advance(time.Second)
		assert.True(t, b.Allow())
	})

	t.Run("reset closes the circuit", func(t *testing.T) {
		b := New("registry", WithFailureThreshold(1))
		b.Failure()
		b.Reset()
		assert.False(t, b.IsOpen())
		assert.Equal(t, "registry", b.Name())
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
