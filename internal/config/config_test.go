package config

import (
	"testing"
	"time"
)

func TestLoadNewsConfig_Defaults(t *testing.T) {
	cfg := loadNewsConfig()

	if cfg.CycleIntervalMS != 60000 {
		t.Errorf("expected default cycle interval 60000, got %d", cfg.CycleIntervalMS)
	}
	if cfg.VectorDistanceThreshold != 0.65 {
		t.Errorf("expected default vector distance threshold 0.65, got %f", cfg.VectorDistanceThreshold)
	}
	if cfg.ClusterBatchSize != 20 {
		t.Errorf("expected default cluster batch size 20, got %d", cfg.ClusterBatchSize)
	}
	if !cfg.EnhancedClusteringEnabled {
		t.Error("expected enhanced clustering enabled by default")
	}
}

func TestLoadNewsConfig_OverridesFromEnv(t *testing.T) {
	t.Setenv("NEWS_CYCLE_INTERVAL_MS", "15000")
	t.Setenv("NEWS_ROTATION_MODE", "true")
	t.Setenv("NEWS_USE_GLM", "true")

	cfg := loadNewsConfig()

	if cfg.CycleIntervalMS != 15000 {
		t.Errorf("expected overridden cycle interval 15000, got %d", cfg.CycleIntervalMS)
	}
	if !cfg.RotationMode {
		t.Error("expected rotation mode true")
	}
	if !cfg.UseGLM {
		t.Error("expected UseGLM true")
	}
}

func TestLoadPredictionConfig_Defaults(t *testing.T) {
	cfg := loadPredictionConfig()

	if cfg.PaperBalance != 10000 {
		t.Errorf("expected default paper balance 10000, got %f", cfg.PaperBalance)
	}
	if !cfg.PaperTrading {
		t.Error("expected paper trading true by default")
	}
	if cfg.OrderTimeout != 30*time.Second {
		t.Errorf("expected default order timeout 30s, got %v", cfg.OrderTimeout)
	}
	if cfg.StopLossPct != 0.20 {
		t.Errorf("expected default stop loss pct 0.20, got %f", cfg.StopLossPct)
	}
	if cfg.MaxCorrelatedPositions != 2 {
		t.Errorf("expected default max correlated positions 2, got %d", cfg.MaxCorrelatedPositions)
	}
}

func TestLoadPredictionConfig_OverridesFromEnv(t *testing.T) {
	t.Setenv("PREDICTION_PAPER_BALANCE", "25000")
	t.Setenv("PREDICTION_PAPER_TRADING", "false")
	t.Setenv("PREDICTION_MAX_DAILY_TRADES", "12")

	cfg := loadPredictionConfig()

	if cfg.PaperBalance != 25000 {
		t.Errorf("expected overridden paper balance 25000, got %f", cfg.PaperBalance)
	}
	if cfg.PaperTrading {
		t.Error("expected paper trading false after override")
	}
	if cfg.MaxDailyTrades != 12 {
		t.Errorf("expected overridden max daily trades 12, got %d", cfg.MaxDailyTrades)
	}
}

func TestLoadPolymarketConfig_Defaults(t *testing.T) {
	cfg := loadPolymarketConfig()

	if cfg.APIBase == "" || cfg.CLOBBase == "" {
		t.Error("expected non-empty default Polymarket endpoints")
	}
}

func TestLoadPolymarketConfig_OverridesFromEnv(t *testing.T) {
	t.Setenv("POLYMARKET_API_BASE", "https://example.test/gamma")
	t.Setenv("POLYMARKET_CLOB_BASE", "https://example.test/clob")

	cfg := loadPolymarketConfig()

	if cfg.APIBase != "https://example.test/gamma" {
		t.Errorf("expected overridden API base, got %s", cfg.APIBase)
	}
	if cfg.CLOBBase != "https://example.test/clob" {
		t.Errorf("expected overridden CLOB base, got %s", cfg.CLOBBase)
	}
}
