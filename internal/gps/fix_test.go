package gps

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaLine = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76"
	rmcLine = "$GPRMC,092750.000,A,5321.6802,N,00630.3372,W,0.02,31.66,280511,,,A*43"
)

func TestTrackerCombinesGGAAndRMC(t *testing.T) {
	var tr Tracker

	done, err := tr.Apply(ggaLine)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = tr.Apply(rmcLine + "\r\n")
	require.NoError(t, err)
	require.True(t, done)

	fix := tr.Fix()
	assert.True(t, fix.Valid())
	assert.InDelta(t, 53.36134, fix.Latitude, 1e-4)
	assert.InDelta(t, -6.50562, fix.Longitude, 1e-4)
	assert.InDelta(t, 61.7, fix.Altitude, 1e-9)
	assert.Equal(t, int64(8), fix.Satellites)
}

func TestTrackerIgnoresNoise(t *testing.T) {
	var tr Tracker
	done, err := tr.Apply("garbage")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = tr.Apply("$GPRMC,broken*00")
	assert.Error(t, err)
}

func TestScanFix(t *testing.T) {
	input := strings.Join([]string{"noise", ggaLine, "$GPRMC,bad", rmcLine}, "\n") + "\n"
	fix, err := ScanFix(strings.NewReader(input))
	require.NoError(t, err)
	assert.True(t, fix.Valid())

	_, err = ScanFix(strings.NewReader(ggaLine + "\n"))
	assert.ErrorIs(t, err, ErrNoFix)
}
