package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , ,"))
	assert.Equal(t,
		[]string{"https://a.example.com", "https://b.example.com"},
		ParseOrigins(" https://a.example.com, https://b.example.com "))
}

type countingReaper struct{ calls atomic.Int64 }

func (r *countingReaper) Cleanup(time.Duration) int {
	r.calls.Add(1)
	return 1
}

func TestStartJobGC_RunsOnSchedule(t *testing.T) {
	reaper := &countingReaper{}
	c, err := StartJobGC(reaper, "@every 100ms", time.Hour)
	require.NoError(t, err)
	defer c.Stop()

	require.Eventually(t, func() bool {
		return reaper.calls.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStartJobGC_BadSchedule(t *testing.T) {
	_, err := StartJobGC(&countingReaper{}, "not a schedule", time.Hour)
	assert.Error(t, err)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestBuildDBCheck(t *testing.T) {
	require.NoError(t, BuildDBCheck(fakePinger{})(context.Background()))

	boom := errors.New("connection refused")
	assert.ErrorIs(t, BuildDBCheck(fakePinger{err: boom})(context.Background()), boom)

	assert.Error(t, BuildDBCheck(nil)(context.Background()))
}
