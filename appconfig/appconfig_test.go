package appconfig

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadAppConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateDims != 10 || cfg.BatchSize != 32 || cfg.SaveFrequency != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STATE_DIMS", "0")
	if _, err := LoadAppConfig(); err == nil {
		t.Fatal("expected error for STATE_DIMS=0")
	}
}

func TestValidateBatchVersusCapacity(t *testing.T) {
	t.Setenv("BATCH_SIZE", "64")
	t.Setenv("REPLAY_CAPACITY", "32")
	if _, err := LoadAppConfig(); err == nil {
		t.Fatal("expected error when capacity < batch size")
	}
}

func TestValidateGamma(t *testing.T) {
	t.Setenv("GAMMA", "1.0")
	if _, err := LoadAppConfig(); err == nil {
		t.Fatal("expected error for GAMMA=1.0")
	}
}
