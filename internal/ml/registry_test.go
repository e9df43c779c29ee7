package ml

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadRegistry_SkipsMissingArtifacts(t *testing.T) {
	reg, err := LoadRegistry("testdata", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []models.SensorType{models.SensorMoisture}, reg.Sensors())
	_, ok := reg.Get(models.SensorTemperature)
	assert.False(t, ok)
}

func TestLoadRegistry_RejectsMismatchedSensor(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile("testdata/model_moisture.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_humidity.yaml"), data, 0o644))

	_, err = LoadRegistry(dir, zap.NewNop())
	assert.True(t, errors.Is(err, ErrInvalidArtifact))
}

func TestRegistry_SwapAndReload(t *testing.T) {
	reg := NewRegistry()
	first := &echoOracle{cal: testCalibration}

	assert.Nil(t, reg.Swap(models.SensorHumidity, first))
	assert.Equal(t, Oracle(first), reg.Swap(models.SensorHumidity, nil))
	assert.Empty(t, reg.Sensors())

	o, err := reg.Reload("testdata", models.SensorMoisture)
	require.NoError(t, err)
	got, ok := reg.Get(models.SensorMoisture)
	require.True(t, ok)
	assert.Equal(t, o, got)
}
