package ml

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"go.uber.org/zap"
)

// Registry holds the active oracle per sensor type. It is built by the
// application and injected into the Detector.
type Registry struct {
	mu      sync.RWMutex
	oracles map[models.SensorType]Oracle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{oracles: make(map[models.SensorType]Oracle)}
}

// ArtifactPath returns the conventional artifact file for a sensor type
func ArtifactPath(dir string, sensor models.SensorType) string {
	return filepath.Join(dir, fmt.Sprintf("model_%s.yaml", sensor.Lower()))
}

// LoadRegistry loads model_<sensor>.yaml for every sensor type found in dir.
// Missing files are skipped with a warning; malformed ones fail the load.
func LoadRegistry(dir string, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, sensor := range models.SensorTypes {
		path := ArtifactPath(dir, sensor)
		artifact, err := LoadArtifact(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("scoring artifact not found, sensor type disabled",
					zap.String("sensor_type", string(sensor)), zap.String("path", path))
				continue
			}
			return nil, err
		}
		if artifact.SensorType != sensor {
			return nil, fmt.Errorf("%w: %s declares sensor_type %s", ErrInvalidArtifact, path, artifact.SensorType)
		}

		r.oracles[sensor] = artifact
		cal := artifact.Calibration()
		logger.Info("scoring artifact loaded",
			zap.String("sensor_type", string(sensor)),
			zap.Int("trees", len(artifact.Forest.Trees)),
			zap.Int("feature_window", cal.WindowSize),
			zap.Float64("raw_start", cal.RawStart),
			zap.Float64("raw_stop", cal.RawStop),
			zap.Int("min_consecutive", cal.MinConsecutive))
	}
	return r, nil
}

// Get returns the oracle for a sensor type
func (r *Registry) Get(sensor models.SensorType) (Oracle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.oracles[sensor]
	return o, ok
}

// Swap installs a new oracle and returns the previous one, if any
func (r *Registry) Swap(sensor models.SensorType, oracle Oracle) Oracle {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.oracles[sensor]
	if oracle == nil {
		delete(r.oracles, sensor)
	} else {
		r.oracles[sensor] = oracle
	}
	return prev
}

// Sensors lists the sensor types with a registered oracle
func (r *Registry) Sensors() []models.SensorType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SensorType, 0, len(r.oracles))
	for _, s := range models.SensorTypes {
		if _, ok := r.oracles[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Reload re-reads the artifact for one sensor type from dir
func (r *Registry) Reload(dir string, sensor models.SensorType) (Oracle, error) {
	artifact, err := LoadArtifact(ArtifactPath(dir, sensor))
	if err != nil {
		return nil, err
	}
	if artifact.SensorType != sensor {
		return nil, fmt.Errorf("%w: artifact declares sensor_type %s", ErrInvalidArtifact, artifact.SensorType)
	}
	r.Swap(sensor, artifact)
	return artifact, nil
}

