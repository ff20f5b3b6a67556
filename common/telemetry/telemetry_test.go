package telemetry

import (
	"testing"
	"time"

	"github.com/lyzr/seed-improver/common/logger"
	"github.com/stretchr/testify/assert"
)

func TestRecordDurationAggregates(t *testing.T) {
	tel := New(0, logger.Discard())

	tel.RecordDuration("phase_1", time.Now().Add(-20*time.Millisecond))
	tel.RecordDuration("phase_1", time.Now().Add(-5*time.Millisecond))

	snap := tel.Snapshot()
	s := snap["phase_1"]
	assert.Equal(t, int64(2), s.Count)
	assert.GreaterOrEqual(t, s.Max, 20*time.Millisecond)
	assert.GreaterOrEqual(t, s.Total, 25*time.Millisecond)
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry
	tel.RecordDuration("x", time.Now())
	tel.RecordEvent("x", nil)
	assert.Nil(t, tel.Snapshot())
}
