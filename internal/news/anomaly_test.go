package news

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func heatSamplesFromNewest(clusterID string, values []float64) []HeatSample {
	out := make([]HeatSample, len(values))
	now := time.Now()
	for i, v := range values {
		out[i] = HeatSample{ClusterID: clusterID, HeatScore: v, Timestamp: now.Add(-time.Duration(i) * time.Hour)}
	}
	return out
}

func TestDetectZScoreAnomalies_EmptyHistoryReturnsNil(t *testing.T) {
	d := NewAnomalyDetector(zerolog.Nop())
	assert.Nil(t, d.DetectZScoreAnomalies("c1", nil))
}

func TestDetectZScoreAnomalies_SkipsWhenStdDevTooLow(t *testing.T) {
	d := NewAnomalyDetector(zerolog.Nop())
	samples := heatSamplesFromNewest("c1", []float64{10, 10.01, 9.99, 10, 10.02})
	assert.Empty(t, d.DetectZScoreAnomalies("c1", samples))
}

func TestDetectZScoreAnomalies_SpikeDetected(t *testing.T) {
	d := NewAnomalyDetector(zerolog.Nop())
	// newest-first: current spike, then a stable baseline
	samples := heatSamplesFromNewest("c1", []float64{100, 10, 11, 9, 10, 10})
	anomalies := d.DetectZScoreAnomalies("c1", samples)
	assert.NotEmpty(t, anomalies)
	assert.Equal(t, AnomalySuddenSpike, anomalies[0].Type)
}

func TestDetectCrossSyndication_SameTopicKeyAcrossCategories(t *testing.T) {
	d := NewAnomalyDetector(zerolog.Nop())
	clusters := []StoryCluster{
		{ID: "c1", TopicKey: "fed-rate-hike", Category: "MACRO", HeatScore: 90},
		{ID: "c2", TopicKey: "fed-rate-hike", Category: "CRYPTO", HeatScore: 40},
		{ID: "c3", TopicKey: "unrelated", Category: "TECH", HeatScore: 10},
	}
	anomalies := d.DetectCrossSyndication(clusters)
	assert.Len(t, anomalies, 1)
	assert.Equal(t, "c1", anomalies[0].ClusterID)
	assert.Equal(t, []string{"c2"}, anomalies[0].Targets)
}

func TestDetectPatterns_LinearGrowth(t *testing.T) {
	d := NewAnomalyDetector(zerolog.Nop())
	values := []float64{9.9, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	samples := heatSamplesFromNewest("c1", values)
	anomalies := d.DetectPatterns("c1", samples)
	var found bool
	for _, a := range anomalies {
		if a.Type == AnomalyLinearGrowth {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectPatterns_TooFewSamplesReturnsNil(t *testing.T) {
	d := NewAnomalyDetector(zerolog.Nop())
	assert.Nil(t, d.DetectPatterns("c1", heatSamplesFromNewest("c1", []float64{1, 2, 3})))
}
