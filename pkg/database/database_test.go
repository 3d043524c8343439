package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscreen/screening-registry/config"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

type stubConnector struct{}

func (stubConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("no server")
}

func (stubConnector) Driver() driver.Driver { return nil }

func TestPollPoolStatsTracksOpenConnections(t *testing.T) {
	met := metrics.NewCollector("database_test")
	db := sql.OpenDB(stubConnector{})
	t.Cleanup(func() { _ = db.Close() })

	// Pre-load the gauge with a stale value; the poller must converge it to
	// what the pool actually reports.
	met.DBConnections.Set(42)
	go pollPoolStats(db, met, time.Millisecond)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(met.DBConnections) == float64(db.Stats().OpenConnections)
	}, time.Second, 5*time.Millisecond)
}

func TestDSNPinsUTC(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "screening",
		User: "screening", Password: "s3cret", SSLMode: "require",
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "Timezone=UTC")
	assert.Contains(t, dsn, "sslmode=require")
}
