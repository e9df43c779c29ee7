package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func reading(plot int64, sensor models.SensorType, value float64, at time.Time) *models.SensorReading {
	return &models.SensorReading{PlotID: plot, SensorType: sensor, Value: value, ObservedAt: at}
}

func anomaly(id string, plot int64, typ models.AnomalyType, at time.Time) *models.AnomalyEvent {
	return &models.AnomalyEvent{
		ID:              id,
		PlotID:          plot,
		SensorType:      typ.Sensor(),
		AnomalyType:     typ,
		Severity:        models.SeverityHigh,
		ModelConfidence: 0.9,
		Timestamp:       at,
	}
}

func TestStore_ReadingsInRange_InclusiveAndOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewStore(100)

	// inserted out of order on purpose
	for _, r := range []*models.SensorReading{
		reading(1, models.SensorMoisture, 50, base),
		reading(1, models.SensorMoisture, 60, base.Add(-time.Hour)),
		reading(1, models.SensorMoisture, 55, base.Add(-30*time.Minute)),
		reading(1, models.SensorMoisture, 70, base.Add(-61*time.Minute)),
		reading(1, models.SensorTemperature, 22, base),
		reading(2, models.SensorMoisture, 10, base),
	} {
		if err := store.AddReading(ctx, r); err != nil {
			t.Fatalf("AddReading failed: %v", err)
		}
	}

	got, err := store.ReadingsInRange(ctx, 1, models.SensorMoisture, base.Add(-time.Hour), base)
	if err != nil {
		t.Fatalf("ReadingsInRange failed: %v", err)
	}

	want := []float64{60, 55, 50}
	if len(got) != len(want) {
		t.Fatalf("Expected %d readings, got %d", len(want), len(got))
	}
	for i, v := range want {
		if got[i].Value != v {
			t.Errorf("Expected reading %d to be %v, got %v", i, v, got[i].Value)
		}
	}

	if store.GetReadingCount() != 6 {
		t.Errorf("Expected 6 readings, got %d", store.GetReadingCount())
	}
}

func TestStore_MaxReadingsPerSeries(t *testing.T) {
	ctx := context.Background()
	store := NewStore(3)

	for i := 0; i < 5; i++ {
		_ = store.AddReading(ctx, reading(1, models.SensorHumidity, float64(i), base.Add(time.Duration(i)*time.Minute)))
	}

	got, _ := store.ReadingsInRange(ctx, 1, models.SensorHumidity, base, base.Add(time.Hour))
	if len(got) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(got))
	}
	if got[0].Value != 2 {
		t.Errorf("Expected oldest kept value to be 2, got %v", got[0].Value)
	}
}

func TestStore_AnomaliesInRange_HalfOpen(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)

	_ = store.CreateAnomaly(ctx, anomaly("a", 1, models.AnomalyHighTemperature, base.Add(-time.Hour)))
	_ = store.CreateAnomaly(ctx, anomaly("b", 1, models.AnomalyLowHumidity, base.Add(-10*time.Minute)))
	_ = store.CreateAnomaly(ctx, anomaly("c", 1, models.AnomalyLowMoisture, base))
	_ = store.CreateAnomaly(ctx, anomaly("d", 2, models.AnomalyLowMoisture, base.Add(-time.Minute)))

	got, err := store.AnomaliesInRange(ctx, 1, base.Add(-time.Hour), base)
	if err != nil {
		t.Fatalf("AnomaliesInRange failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Expected [a b], got %+v", got)
	}
}

func TestStore_CreateAnomaly_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)

	if err := store.CreateAnomaly(ctx, anomaly("a", 1, models.AnomalyLowMoisture, base)); err != nil {
		t.Fatalf("CreateAnomaly failed: %v", err)
	}
	err := store.CreateAnomaly(ctx, anomaly("a", 1, models.AnomalyLowMoisture, base))
	if !errors.Is(err, ErrDuplicateAnomaly) {
		t.Errorf("Expected ErrDuplicateAnomaly, got %v", err)
	}

	if _, err := store.GetAnomaly(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetOrCreateRecommendation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)
	_ = store.CreateAnomaly(ctx, anomaly("a", 1, models.AnomalyLowMoisture, base))

	first, created, err := store.GetOrCreateRecommendation(ctx, &models.AgentRecommendation{ID: "r1", AnomalyID: "a", Action: "first"})
	if err != nil || !created {
		t.Fatalf("Expected first recommendation to be created, got created=%v err=%v", created, err)
	}

	second, created, err := store.GetOrCreateRecommendation(ctx, &models.AgentRecommendation{ID: "r2", AnomalyID: "a", Action: "second"})
	if err != nil {
		t.Fatalf("GetOrCreateRecommendation failed: %v", err)
	}
	if created {
		t.Error("Expected second call not to create")
	}
	if second.ID != first.ID || second.Action != "first" {
		t.Errorf("Expected existing recommendation, got %+v", second)
	}

	if _, _, err := store.GetOrCreateRecommendation(ctx, &models.AgentRecommendation{ID: "r3", AnomalyID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown anomaly, got %v", err)
	}
}

func TestStore_GetOrCreateRecommendation_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)
	_ = store.CreateAnomaly(ctx, anomaly("a", 1, models.AnomalyLowMoisture, base))

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	ids := map[string]bool{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, created, err := store.GetOrCreateRecommendation(ctx, &models.AgentRecommendation{
				ID:        string(rune('A' + i)),
				AnomalyID: "a",
			})
			if err != nil {
				t.Errorf("GetOrCreateRecommendation failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if created {
				createdCount++
			}
			ids[rec.ID] = true
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("Expected exactly one creation, got %d", createdCount)
	}
	if len(ids) != 1 {
		t.Errorf("Expected every caller to see the same recommendation, got %v", ids)
	}
}

func TestStore_AnomaliesWithoutRecommendation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)
	_ = store.CreateAnomaly(ctx, anomaly("a", 1, models.AnomalyLowMoisture, base))
	_ = store.CreateAnomaly(ctx, anomaly("b", 1, models.AnomalyHighHumidity, base.Add(time.Minute)))
	_ = store.CreateAnomaly(ctx, anomaly("c", 2, models.AnomalyLowTemperature, base.Add(2*time.Minute)))
	_, _, _ = store.GetOrCreateRecommendation(ctx, &models.AgentRecommendation{ID: "r", AnomalyID: "b"})

	pending, err := store.AnomaliesWithoutRecommendation(ctx, 10)
	if err != nil {
		t.Fatalf("AnomaliesWithoutRecommendation failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a" || pending[1].ID != "c" {
		t.Errorf("Expected [a c], got %+v", pending)
	}

	limited, _ := store.AnomaliesWithoutRecommendation(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}

func TestStore_ListAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)

	a := anomaly("a", 1, models.AnomalyLowMoisture, base)
	a.ModelConfidence = 0.7
	a.Severity = models.SeverityMedium
	_ = store.CreateAnomaly(ctx, a)
	_ = store.CreateAnomaly(ctx, anomaly("b", 1, models.AnomalyLowMoisture, base.Add(time.Minute)))
	_ = store.CreateAnomaly(ctx, anomaly("c", 2, models.AnomalyHighTemperature, base.Add(2*time.Minute)))

	list, _ := store.ListAnomalies(ctx, models.AnomalyFilter{PlotID: 1})
	if len(list) != 2 || list[0].ID != "b" {
		t.Errorf("Expected plot 1 anomalies newest first, got %+v", list)
	}

	stats, err := store.GetAnomalyStats(ctx, 0)
	if err != nil {
		t.Fatalf("GetAnomalyStats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total)
	}
	if stats.ByType[models.AnomalyLowMoisture] != 2 {
		t.Errorf("Expected 2 LOW_MOISTURE, got %d", stats.ByType[models.AnomalyLowMoisture])
	}
	if stats.BySeverity[models.SeverityHigh] != 2 {
		t.Errorf("Expected 2 HIGH, got %d", stats.BySeverity[models.SeverityHigh])
	}
	if stats.AverageConfidence != 0.833 {
		t.Errorf("Expected average confidence 0.833, got %v", stats.AverageConfidence)
	}

	plotStats, _ := store.GetAnomalyStats(ctx, 2)
	if plotStats.Total != 1 {
		t.Errorf("Expected plot 2 total 1, got %d", plotStats.Total)
	}
}

func TestStore_ListRecommendations_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)
	for _, id := range []string{"a", "b", "c"} {
		_ = store.CreateAnomaly(ctx, anomaly(id, 1, models.AnomalyLowMoisture, base))
		_, _, _ = store.GetOrCreateRecommendation(ctx, &models.AgentRecommendation{ID: "r" + id, AnomalyID: id})
	}

	recs, _ := store.ListRecommendations(ctx, 2)
	if len(recs) != 2 || recs[0].AnomalyID != "c" || recs[1].AnomalyID != "b" {
		t.Errorf("Expected [c b], got %+v", recs)
	}
}
