package utils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := Encrypt("sk-or-secret", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-or-secret")

	plain, err := Decrypt(sealed, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-secret", plain)

	_, err = Decrypt(sealed, "wrong")
	assert.Error(t, err)

	_, err = Decrypt("AAAA", "passphrase")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSealAndOpenSecret(t *testing.T) {
	sealed, err := SealSecret("sk-1", "k")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, EncryptedPrefix))

	again, err := SealSecret(sealed, "k")
	require.NoError(t, err)
	assert.Equal(t, sealed, again)

	opened, err := OpenSecret(sealed, "k")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", opened)

	plain, err := SealSecret("sk-1", "")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", plain)

	opened, err = OpenSecret("sk-plain", "k")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", opened)

	_, err = OpenSecret(sealed, "")
	assert.Error(t, err)
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("turns_started")
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.GetCounterValue("turns_started"))
	assert.Equal(t, int64(0), m.GetCounterValue("missing"))

	m.AddCounter("tokens", 7)
	m.IncGauge("turns_active")
	m.IncGauge("turns_active")
	m.DecGauge("turns_active")
	assert.Equal(t, int64(1), m.GetGauge("turns_active"))

	m.RecordDuration("turn_ms", 30*time.Millisecond)
	m.RecordHistogram("turn_ms", 10)

	snap := m.Snapshot()
	assert.Equal(t, int64(7), snap.Counters["tokens"])
	assert.Equal(t, map[string]int64{"count": 2, "sum": 40, "min": 10, "max": 30}, snap.Histograms["turn_ms"])
}

func TestAPIMetricsStatusBuckets(t *testing.T) {
	am := NewAPIMetrics(NewMetricsCollector(), nil)
	am.RecordAPIRequest("/api/projects", "GET", 200, time.Millisecond)
	am.RecordAPIRequest("/api/projects", "GET", 409, time.Millisecond)
	am.RecordError("conflict", "api")

	c := am.Collector()
	assert.Equal(t, int64(2), c.GetCounterValue("api_requests_total"))
	assert.Equal(t, int64(1), c.GetCounterValue("api_responses_2xx"))
	assert.Equal(t, int64(1), c.GetCounterValue("api_responses_4xx"))
	assert.Equal(t, int64(1), c.GetCounterValue("errors_conflict"))
}

func TestNewLoggerWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger("debug", dir)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	Component(logger, "test").Info("hello file")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName(time.Now())))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), "component=test")
}

func TestParseLogLevelFallback(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("loud"))
}
