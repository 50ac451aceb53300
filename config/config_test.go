package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"trading-signalv1/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signald.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Service != "signald" || c.HTTPAddr != ":8080" || c.MetricsAddr != ":9090" {
		t.Errorf("service defaults = %q %q %q", c.Service, c.HTTPAddr, c.MetricsAddr)
	}
	if c.Signal.TriggerSecond != 45 {
		t.Errorf("TriggerSecond = %d, want 45", c.Signal.TriggerSecond)
	}
	if c.Signal.CandlePeriod != time.Minute {
		t.Errorf("CandlePeriod = %v, want 1m", c.Signal.CandlePeriod)
	}
	if c.Signal.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d, want 50", c.Signal.HistoryLimit)
	}
	if c.Advisory.Timeout != 8*time.Second {
		t.Errorf("Advisory.Timeout = %v, want 8s", c.Advisory.Timeout)
	}
	if c.Signal.QuotaCoolDown != time.Minute {
		t.Errorf("QuotaCoolDown = %v, want 60s", c.Signal.QuotaCoolDown)
	}
	if c.Timeframe() != model.Timeframe1m {
		t.Errorf("Timeframe = %q", c.Timeframe())
	}
	if len(c.Instruments) != len(model.DefaultInstruments()) {
		t.Errorf("catalogue has %d instruments", len(c.Instruments))
	}
	if c.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
	if c.AdvisoryActive() {
		t.Error("advisory must be inactive without an API key")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
service: signald-test
log_level: debug
signal:
  instrument: USDINR_otc
  timeframe: 5m
  trigger_second: 50
advisory:
  enabled: false
  timeout: 3s
redis:
  enabled: true
  addr: redis:6379
  prefix: sig
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Service != "signald-test" || c.LogLevel != "debug" {
		t.Errorf("got service=%q level=%q", c.Service, c.LogLevel)
	}
	if c.Signal.Instrument != "USDINR_otc" || c.Timeframe() != model.Timeframe5m {
		t.Errorf("signal = %+v", c.Signal)
	}
	if c.Signal.TriggerSecond != 50 {
		t.Errorf("TriggerSecond = %d", c.Signal.TriggerSecond)
	}
	if c.Advisory.Enabled {
		t.Error("advisory.enabled: false was ignored")
	}
	if c.Advisory.Timeout != 3*time.Second {
		t.Errorf("Advisory.Timeout = %v", c.Advisory.Timeout)
	}
	if !c.Redis.Enabled || c.Redis.Addr != "redis:6379" || c.Redis.Prefix != "sig" {
		t.Errorf("redis = %+v", c.Redis)
	}
	if c.Signal.HistoryLimit != 50 {
		t.Errorf("unset keys keep defaults, HistoryLimit = %d", c.Signal.HistoryLimit)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "signal:\n  instrument: ETHUSDT\n")
	t.Setenv("SIGNAL_INSTRUMENT", "BTCUSDT")
	t.Setenv("GEMINI_API_KEY", "k-123")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "3")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Signal.Instrument != "BTCUSDT" {
		t.Errorf("Instrument = %q", c.Signal.Instrument)
	}
	if !c.AdvisoryActive() {
		t.Error("advisory should be active with a key")
	}
	if !c.Redis.Enabled || c.Redis.DB != 3 {
		t.Errorf("redis = %+v", c.Redis)
	}
}

func TestLoad_CustomCatalogueFromEnv(t *testing.T) {
	t.Setenv("SIGNAL_INSTRUMENTS", "EURUSD_otc=EUR/USD OTC, SOLUSDT")
	t.Setenv("SIGNAL_INSTRUMENT", "SOLUSDT")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []model.Instrument{
		{Symbol: "EURUSD_otc", Name: "EUR/USD OTC"},
		{Symbol: "SOLUSDT", Name: "SOLUSDT"},
	}
	if len(c.Instruments) != len(want) {
		t.Fatalf("Instruments = %+v", c.Instruments)
	}
	for i := range want {
		if c.Instruments[i] != want[i] {
			t.Errorf("Instruments[%d] = %+v, want %+v", i, c.Instruments[i], want[i])
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "trigger second out of range", yaml: "signal:\n  trigger_second: 75\n"},
		{name: "bad timeframe", yaml: "signal:\n  timeframe: 2m\n"},
		{name: "instrument not in catalogue", yaml: "signal:\n  instrument: DOGEUSDT\n"},
		{name: "bad log level", yaml: "log_level: loud\n"},
		{name: "telegram token without chat", yaml: "notify:\n  telegram_token: abc\n"},
		{name: "bad webhook url", yaml: "notify:\n  webhook_url: not-a-url\n"},
		{name: "bad bool env", env: map[string]string{"REDIS_ENABLED": "maybe"}},
		{name: "malformed yaml", yaml: "signal: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.yaml != "" {
				path = writeFile(t, tc.yaml)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
