package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juryflow/court"
	"juryflow/test/infra"
)

func TestPostgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if !infra.Available(ctx) {
		t.Skipf("no Docker and %s unset", infra.DSNEnv)
	}

	h, err := infra.NewHarness(ctx)
	require.NoError(t, err)
	defer h.Close(context.Background())

	p := NewPostgres(h.Pool())
	events := sampleEvents()
	require.NoError(t, p.Append(ctx, events[:3]))
	require.NoError(t, p.Append(ctx, events[3:]))

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, len(events))
	for i := range events {
		assert.Equal(t, events[i].Kind(), loaded[i].Kind())
	}
	assert.Equal(t, events[1], loaded[1])
	assert.Equal(t, events[6], loaded[6])

	var outbox int
	require.NoError(t, h.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&outbox))
	assert.Equal(t, len(events), outbox)

	var batches int
	require.NoError(t, h.Pool().QueryRow(ctx, `SELECT COUNT(DISTINCT batch_id) FROM court_events`).Scan(&batches))
	assert.Equal(t, 2, batches)

	rec := &court.Recorder{}
	relay := NewRelay(h.Pool(), rec, WithBatchSize(4))
	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(events)-4, n)
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Len(t, rec.Events(), len(events))
	assert.Equal(t, events[0].Kind(), rec.Events()[0].Kind())
	assert.Equal(t, events[len(events)-1].Kind(), rec.Events()[len(events)-1].Kind())

	var pending int
	require.NoError(t, h.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE delivered_at IS NULL`).Scan(&pending))
	assert.Zero(t, pending)

	require.NoError(t, h.Reset(ctx))
	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
