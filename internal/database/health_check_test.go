package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestHealthChecker_Basic(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	checker := NewHealthChecker("postgres", SQLPinger(db), quietLogger())
	require.NoError(t, checker.Check(context.Background()))
	assert.True(t, checker.IsHealthy())
	assert.Equal(t, "postgres", checker.Name())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_FailureAndRecovery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker("postgres", SQLPinger(db), quietLogger())

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = checker.Check(context.Background())
	assert.Error(t, err)
	assert.False(t, checker.IsHealthy())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.Equal(t, "connection refused", result.LastError)

	mock.ExpectPing()
	require.NoError(t, checker.Check(context.Background()))
	assert.True(t, checker.IsHealthy())
	assert.Empty(t, checker.GetHealthResult().LastError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_InitialResult(t *testing.T) {
	checker := NewHealthChecker("redis", func(context.Context) error { return nil }, quietLogger())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.True(t, result.LastCheck.IsZero())
	assert.Empty(t, result.ResponseTime)
}

func TestHealthChecker_StartStopsWithContext(t *testing.T) {
	calls := make(chan struct{}, 16)
	checker := NewHealthChecker("stub", func(context.Context) error {
		calls <- struct{}{}
		return nil
	}, quietLogger())
	checker.SetCheckInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	<-calls
	<-calls
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health checker did not stop")
	}
	assert.True(t, checker.IsHealthy())
}

func TestHealthRegistry_CheckAll(t *testing.T) {
	registry := NewHealthRegistry()
	registry.Register(NewHealthChecker("up", func(context.Context) error { return nil }, quietLogger()))
	registry.Register(NewHealthChecker("down", func(context.Context) error { return errors.New("boom") }, quietLogger()))

	results, healthy := registry.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, results, 2)
	assert.True(t, results["up"].Healthy)
	assert.False(t, results["down"].Healthy)
	assert.Equal(t, "boom", results["down"].LastError)
}

func TestHealthRegistry_Empty(t *testing.T) {
	results, healthy := NewHealthRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, results)
}
