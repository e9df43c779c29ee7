package store

import (
	"math"

	"github.com/ghouf2005/Agriculture-project/internal/models"
)

// NewStats returns empty statistics with initialized maps
func NewStats() *models.AnomalyStats {
	return &models.AnomalyStats{
		BySeverity: make(map[models.Severity]int),
		ByType:     make(map[models.AnomalyType]int),
	}
}

// RoundConfidence rounds an average confidence to 3 decimals
func RoundConfidence(v float64) float64 {
	return math.Round(v*1000) / 1000
}
