package memstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/config"
	"github.com/springql-go/springql/internal/event"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/memstate"
)

func testMemoryConfig() config.Memory {
	return config.Memory{
		UpperLimitBytes:         100,
		ModerateToSeverePercent: 60,
		SevereToCriticalPercent: 95,
		CriticalToSeverePercent: 80,
		SevereToModeratePercent: 40,
	}
}

func TestModerateToSevereTransitionPublishesMemoryReducing(t *testing.T) {
	counter := memcounter.New()
	bus := event.New()
	ch := bus.Subscribe(event.TopicUpdateScheduler)

	m := memstate.New(testMemoryConfig(), counter, bus, nil)
	require.Equal(t, memstate.Moderate, m.State())

	counter.Add(70) // 70% >= 60% threshold
	m.Sample(0)

	assert.Equal(t, memstate.Severe, m.State())
	evt := <-ch
	assert.Equal(t, memstate.SchedulerMemoryReducing, evt.Payload)
}

func TestCriticalEntryPurgesAndPublishesMemoryReducing(t *testing.T) {
	counter := memcounter.New()
	bus := event.New()
	purged := 0
	purge := func() int { purged = 7; return purged }

	m := memstate.New(testMemoryConfig(), counter, bus, purge)
	counter.Add(70)
	m.Sample(0) // Moderate -> Severe

	counter.Add(30) // total 100% >= 95% critical threshold
	m.Sample(0)

	assert.Equal(t, memstate.Critical, m.State())
	assert.Equal(t, 7, purged)
}

func TestHysteresisPreventsImmediateModerateReentry(t *testing.T) {
	counter := memcounter.New()
	bus := event.New()
	m := memstate.New(testMemoryConfig(), counter, bus, nil)

	counter.Add(70)
	m.Sample(0) // -> Severe

	counter.Release(20) // now 50%, still above severe_to_moderate_percent (40)
	m.Sample(0)
	assert.Equal(t, memstate.Severe, m.State(), "50%% must stay Severe until below 40%%")

	counter.Release(15) // now 35%, below 40
	m.Sample(0)
	assert.Equal(t, memstate.Moderate, m.State())
}

func TestCurrentSchedulerMatchesState(t *testing.T) {
	counter := memcounter.New()
	bus := event.New()
	m := memstate.New(testMemoryConfig(), counter, bus, nil)
	assert.Equal(t, memstate.SchedulerFlowEfficient, m.CurrentScheduler())

	counter.Add(70)
	m.Sample(0)
	assert.Equal(t, memstate.SchedulerMemoryReducing, m.CurrentScheduler())
}
