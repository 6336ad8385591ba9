package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cae-dispatcher/internal/authorization"
	"cae-dispatcher/internal/circuitbreaker"
	"cae-dispatcher/internal/dispatch"
	"cae-dispatcher/internal/ratelimit"
)

func newTestClient(t *testing.T) *dispatch.Client {
	t.Helper()

	limiter, err := ratelimit.NewCombinedLocal(
		ratelimit.Config{MaxRequests: 10, Window: time.Minute},
		ratelimit.Config{MaxRequests: 10, Window: time.Minute},
		nil,
	)
	require.NoError(t, err)

	breaker, err := circuitbreaker.NewCombined(
		circuitbreaker.DefaultConfig(), circuitbreaker.DefaultConfig(), nil,
	)
	require.NoError(t, err)

	creds, err := dispatch.NewCredentialRegistry("test-passphrase")
	require.NoError(t, err)

	call := func(_ context.Context, _ string, _ authorization.Credentials) (*authorization.Payload, error) {
		return &authorization.Payload{CAE: "ok"}, nil
	}

	client, err := dispatch.New(dispatch.DefaultConfig(), limiter, breaker, creds, call, nil, nil, nil)
	require.NoError(t, err)
	return client
}

func TestRunnerRejectsInvalidSchedule(t *testing.T) {
	client := newTestClient(t)

	_, err := New(Config{SweepSchedule: "not a cron"}, client, nil)
	assert.Error(t, err)

	_, err = New(Config{SnapshotSchedule: "@nonsense"}, client, nil)
	assert.Error(t, err)
}

func TestRunnerStartStop(t *testing.T) {
	client := newTestClient(t)

	r, err := New(DefaultConfig(), client, nil)
	require.NoError(t, err)

	r.Start()
	r.Stop()
}

func TestRunnerTasksRun(t *testing.T) {
	client := newTestClient(t)

	r, err := New(DefaultConfig(), client, nil)
	require.NoError(t, err)

	// direct invocation; the schedule only decides when
	r.sweep()
	r.snapshot()
}

func TestRunnerRequiresClient(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
