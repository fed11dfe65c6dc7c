package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ActiveSessions.Set(3)
	DoorLaunches.WithLabelValues("LORD", "emulated").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "doornode_active_sessions 3")
	assert.Contains(t, string(body), `doornode_door_launches_total{code="LORD",strategy="emulated"}`)
	assert.Equal(t, float64(3), testutil.ToFloat64(ActiveSessions))
}
