package analytics_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/plantwatch/console/internal/analytics"
	"github.com/plantwatch/console/internal/mockbackend"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/telemetry"
	"github.com/plantwatch/console/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const machineID int64 = 1700000000001

func TestViewer_MountFetches(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.SetAnalytics(machineID, models.MachineAnalytics{MachineName: "Press 1", RunningPercentage: 80})

	v := analytics.NewViewer("operator", machineID, backend)
	v.Mount(context.Background())
	v.Wait()
	defer v.Unmount()

	r := v.Result()
	require.NotNil(t, r.Analytics)
	assert.Equal(t, "Press 1", r.Analytics.MachineName)
	assert.Equal(t, models.TimeFilterDay, r.Filter)
	assert.False(t, r.Loading)
	assert.Equal(t, []models.TimeFilter{models.TimeFilterDay}, backend.Filters())

	v.Mount(context.Background())
	v.Wait()
	assert.Equal(t, 1, backend.Calls(testutil.OpAnalytics))
}

func TestViewer_SetFilter(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.SetAnalytics(machineID, models.MachineAnalytics{MachineName: "Press 1"})

	v := analytics.NewViewer("operator", machineID, backend)
	v.Mount(context.Background())
	defer v.Unmount()

	assert.ErrorIs(t, v.SetFilter(context.Background(), "week"), analytics.ErrInvalidFilter)
	require.NoError(t, v.SetFilter(context.Background(), models.TimeFilterDay))
	require.NoError(t, v.SetFilter(context.Background(), models.TimeFilterYear))
	v.Wait()

	// The mount and filter fetches run concurrently; only the latest applies.
	assert.ElementsMatch(t, []models.TimeFilter{models.TimeFilterDay, models.TimeFilterYear}, backend.Filters())
	assert.Equal(t, models.TimeFilterYear, v.Result().Filter)
}

func TestViewer_FetchError(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.SetError(testutil.OpAnalytics, errors.New("analytics offline"))

	v := analytics.NewViewer("operator", machineID, backend)
	v.Mount(context.Background())
	v.Wait()
	defer v.Unmount()

	r := v.Result()
	assert.Nil(t, r.Analytics)
	assert.Contains(t, r.Err, "analytics offline")
}

func TestViewer_StaleAndUnmounted(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.SetAnalytics(machineID, models.MachineAnalytics{MachineName: "Press 1"})
	backend.Hold(testutil.OpAnalytics)

	v := analytics.NewViewer("operator", machineID, backend)
	v.Mount(context.Background())
	assert.True(t, v.Result().Loading)

	v.Unmount()
	backend.Release(testutil.OpAnalytics)
	v.Wait()

	assert.Nil(t, v.Result().Analytics)
}

func TestViewer_LiveChannel(t *testing.T) {
	mock := mockbackend.New(nil)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"

	backend := testutil.NewFakeBackend()
	backend.SetAnalytics(machineID, models.MachineAnalytics{MachineName: "Press 1", RunningPercentage: 10})

	v := analytics.NewViewer("operator", machineID, backend,
		analytics.WithLive(endpoint, telemetry.NewWebSocketTransport()))
	v.Mount(context.Background())

	require.Eventually(t, func() bool { return v.Result().Live && mock.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mock.Broadcast("machine_analytics_42", models.MachineAnalytics{MachineName: "other"}))
	require.NoError(t, mock.Broadcast(analytics.EventName(machineID), models.MachineAnalytics{MachineName: "Press 1", RunningPercentage: 55}))

	require.Eventually(t, func() bool {
		r := v.Result()
		return r.Analytics != nil && r.Analytics.RunningPercentage == 55
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Press 1", v.Result().Analytics.MachineName)

	v.Unmount()
	v.Wait()
	assert.False(t, v.Result().Live)
	assert.Eventually(t, func() bool { return mock.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "machine_analytics_1700000000001", analytics.EventName(machineID))
}
