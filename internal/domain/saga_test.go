package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rec(kind OperationKind, succeeded bool, outcome string, at time.Time) OperationRecord {
	var payload []byte
	if outcome != "" {
		payload = []byte(outcome)
	}
	return OperationRecord{
		OrderID:   "o1",
		Kind:      kind,
		ProductID: "p1",
		Quantity:  3,
		Succeeded: succeeded,
		Outcome:   payload,
		AppliedAt: at,
	}
}

func TestDeriveSagaState(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name    string
		records []OperationRecord
		want    SagaState
	}{
		{"no records", nil, SagaIdle},
		{"reserve applied", []OperationRecord{rec(OpReserve, true, "r", now)}, SagaReserved},
		{"reserve rejected", []OperationRecord{rec(OpReserve, false, "f", now)}, SagaRejected},
		{"reserve then release", []OperationRecord{rec(OpReserve, true, "r", now), rec(OpRelease, true, "l", now)}, SagaReleased},
		{"reserve then confirm", []OperationRecord{rec(OpReserve, true, "r", now), rec(OpConfirm, true, "", now)}, SagaSettled},
		{"failed release does not terminate", []OperationRecord{rec(OpRelease, false, "", now)}, SagaIdle},
		{"failed confirm does not terminate", []OperationRecord{rec(OpReserve, true, "r", now), rec(OpConfirm, false, "", now)}, SagaReserved},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveSagaState(tc.records))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.False(t, SagaIdle.Terminal())
	assert.False(t, SagaReserved.Terminal())
	assert.True(t, SagaRejected.Terminal())
	assert.True(t, SagaReleased.Terminal())
	assert.True(t, SagaSettled.Terminal())
}

func TestLastOutcomePicksLatest(t *testing.T) {
	first := time.Now().UTC()
	second := first.Add(time.Minute)

	records := []OperationRecord{
		rec(OpReserve, true, "reserved-payload", first),
		rec(OpRelease, true, "released-payload", second),
	}
	assert.Equal(t, []byte("released-payload"), LastOutcome(records))
}

func TestLastOutcomeSkipsEmpty(t *testing.T) {
	now := time.Now().UTC()

	records := []OperationRecord{
		rec(OpReserve, true, "reserved-payload", now),
		rec(OpConfirm, true, "", now.Add(time.Minute)),
	}
	assert.Equal(t, []byte("reserved-payload"), LastOutcome(records))

	assert.Nil(t, LastOutcome(nil))
}
