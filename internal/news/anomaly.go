package news

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// AnomalyType is the closed enumeration of anomaly kinds C8 can emit.
type AnomalyType string

const (
	AnomalySuddenSpike     AnomalyType = "SUDDEN_SPIKE"
	AnomalySuddenDrop      AnomalyType = "SUDDEN_DROP"
	AnomalyVelocity        AnomalyType = "VELOCITY_ANOMALY"
	AnomalyCrossSyndication AnomalyType = "CROSS_SYNDICATION"
	AnomalyOscillatingHeat AnomalyType = "OSCILLATING_HEAT"
	AnomalyStepPattern     AnomalyType = "STEP_PATTERN"
	AnomalyLinearDecay     AnomalyType = "LINEAR_DECAY"
	AnomalyLinearGrowth    AnomalyType = "LINEAR_GROWTH"
)

// Severity is the closed severity enumeration, derived from |z|.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Anomaly is one detected event.
type Anomaly struct {
	ClusterID string
	Type      AnomalyType
	Severity  Severity
	ZScore    float64
	Sources   []string // populated for CROSS_SYNDICATION
	Targets   []string
}

const (
	rollingWindow    = 10
	minSamplesForZ   = 5
	minStdDev        = 0.1
	patternMinLength = 10
)

// AnomalyDetector is C8: z-score spike/drop/velocity detection over a
// rolling window, plus cross-syndication and pattern-level diagnostics.
type AnomalyDetector struct {
	log zerolog.Logger
}

// NewAnomalyDetector builds the detector.
func NewAnomalyDetector(log zerolog.Logger) *AnomalyDetector {
	return &AnomalyDetector{log: log.With().Str("component", "anomaly_detector").Logger()}
}

// DetectZScoreAnomalies looks at the most recent rollingWindow samples
// (samples ordered most-recent-first) and emits spike/drop/velocity
// anomalies. The current (most recent) sample is scored against the mean
// and stdDev of the rest of the window. Returns nil if there are fewer than
// minSamplesForZ samples or that baseline's stdDev is below minStdDev.
func (d *AnomalyDetector) DetectZScoreAnomalies(clusterID string, samples []HeatSample) []Anomaly {
	if len(samples) < minSamplesForZ {
		return nil
	}
	window := samples
	if len(window) > rollingWindow {
		window = window[:rollingWindow]
	}

	baseline := make([]float64, 0, len(window)-1)
	for _, s := range window[1:] {
		baseline = append(baseline, s.HeatScore)
	}
	mean := stat.Mean(baseline, nil)
	sd := stat.StdDev(baseline, nil)
	if sd < minStdDev {
		return nil
	}

	current := window[0].HeatScore
	z := (current - mean) / sd

	var out []Anomaly
	switch {
	case z >= 3:
		out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalySuddenSpike, Severity: severityFromZ(z), ZScore: z})
	case z <= -3:
		out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalySuddenDrop, Severity: severityFromZ(z), ZScore: z})
	}

	if window[0].Velocity != nil {
		velocities := make([]float64, 0, len(window))
		for _, s := range window {
			if s.Velocity != nil {
				velocities = append(velocities, *s.Velocity)
			}
		}
		if len(velocities) >= minSamplesForZ {
			vMean := stat.Mean(velocities, nil)
			vSD := stat.StdDev(velocities, nil)
			if vSD >= minStdDev {
				zv := (velocities[0] - vMean) / vSD
				if absF(zv) >= 2 {
					out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalyVelocity, Severity: severityFromZ(zv), ZScore: zv})
				}
			}
		}
	}

	return out
}

func severityFromZ(z float64) Severity {
	az := absF(z)
	switch {
	case az < 2:
		return SeverityLow
	case az < 3:
		return SeverityMedium
	case az < 4:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// DetectCrossSyndication groups clusters by lowercased topicKey across
// categories and emits an anomaly when the same topicKey appears in ≥ 2
// categories, with source = the hottest of the set.
func (d *AnomalyDetector) DetectCrossSyndication(clusters []StoryCluster) []Anomaly {
	byKey := map[string][]StoryCluster{}
	for _, c := range clusters {
		k := strings.ToLower(c.TopicKey)
		byKey[k] = append(byKey[k], c)
	}

	var out []Anomaly
	for _, group := range byKey {
		categories := map[string]bool{}
		for _, c := range group {
			categories[c.Category] = true
		}
		if len(categories) < 2 {
			continue
		}

		sort.Slice(group, func(i, j int) bool { return group[i].HeatScore > group[j].HeatScore })
		source := group[0]
		targets := make([]string, 0, len(group)-1)
		for _, c := range group[1:] {
			targets = append(targets, c.ID)
		}
		out = append(out, Anomaly{
			ClusterID: source.ID,
			Type:      AnomalyCrossSyndication,
			Severity:  SeverityMedium,
			Sources:   []string{source.ID},
			Targets:   targets,
		})
	}
	return out
}

// DetectPatterns runs the pattern-level diagnostics over ≥ patternMinLength
// samples (most-recent-first).
func (d *AnomalyDetector) DetectPatterns(clusterID string, samples []HeatSample) []Anomaly {
	if len(samples) < patternMinLength {
		return nil
	}
	// chronological order (oldest first) for step/trend analysis
	chrono := make([]HeatSample, len(samples))
	copy(chrono, samples)
	sort.Slice(chrono, func(i, j int) bool { return chrono[i].Timestamp.Before(chrono[j].Timestamp) })

	heats := make([]float64, len(chrono))
	for i, s := range chrono {
		heats[i] = s.HeatScore
	}

	var out []Anomaly

	if isOscillating(heats) {
		out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalyOscillatingHeat, Severity: SeverityMedium})
	}
	if isStepPattern(heats) {
		out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalyStepPattern, Severity: SeverityMedium})
	}
	if up, down := countSteps(heats); up > 2*down {
		out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalyLinearGrowth, Severity: SeverityLow})
	} else if down > 2*up {
		out = append(out, Anomaly{ClusterID: clusterID, Type: AnomalyLinearDecay, Severity: SeverityLow})
	}

	return out
}

func isOscillating(heats []float64) bool {
	if len(heats) < 3 {
		return false
	}
	directionChanges := 0
	prevDir := 0
	for i := 1; i < len(heats); i++ {
		d := sign(heats[i] - heats[i-1])
		if d == 0 {
			continue
		}
		if prevDir != 0 && d != prevDir {
			directionChanges++
		}
		prevDir = d
	}
	return float64(directionChanges) > 0.6*float64(len(heats))
}

func isStepPattern(heats []float64) bool {
	maxVal := 0.0
	for _, h := range heats {
		if h > maxVal {
			maxVal = h
		}
	}
	if maxVal == 0 {
		return false
	}
	for i := 1; i < len(heats); i++ {
		jump := absF(heats[i] - heats[i-1])
		if jump > 0.3*maxVal {
			tail := heats[i:]
			if len(tail) < 2 {
				continue
			}
			if stat.StdDev(tail, nil) < 0.1*maxVal {
				return true
			}
		}
	}
	return false
}

func countSteps(heats []float64) (up, down int) {
	for i := 1; i < len(heats); i++ {
		switch {
		case heats[i] > heats[i-1]:
			up++
		case heats[i] < heats[i-1]:
			down++
		}
	}
	return
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
