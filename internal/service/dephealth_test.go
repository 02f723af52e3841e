package service

import (
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewDephealthService_MemoryBackend — без *sql.DB мониторится только оракул отзыва.
func TestNewDephealthService_MemoryBackend(t *testing.T) {
	ds, err := NewDephealthServiceWithRegisterer(
		"access-engine", "test", nil, "",
		"http://revocation.local:8080", 15*time.Second, true,
		testLogger(), prometheus.NewRegistry(),
	)
	if err != nil {
		t.Fatalf("NewDephealthServiceWithRegisterer: %v", err)
	}
	if !slices.Equal(ds.Dependencies(), []string{"revocation-oracle"}) {
		t.Errorf("зависимости: %v", ds.Dependencies())
	}
}
