package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/config"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("LOCK_TIMEOUT", "")
	t.Setenv("SWEEP_INTERVAL", "")
	t.Setenv("SWEEP_BATCH", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreDriver != "crdb" || cfg.LockTimeout != 5*time.Second || cfg.SweepInterval != 30*time.Second || cfg.SweepBatch != 100 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("SWEEP_CONCURRENCY", "8")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreDriver != "memory" || cfg.LockTimeout != 750*time.Millisecond || cfg.SweepConcurrency != 8 {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := config.Load(); err == nil {
		t.Error("expected error for unknown store driver")
	}
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SWEEP_INTERVAL", "soon")
	if _, err := config.Load(); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestLoad_Tracing(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.OTLPInsecure || cfg.TraceSampleRatio != 1 {
		t.Errorf("unexpected tracing defaults %+v", cfg)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	if cfg, err = config.Load(); err != nil {
		t.Fatal(err)
	}
	if cfg.OTLPInsecure || cfg.TraceSampleRatio != 0.25 {
		t.Errorf("unexpected tracing config %+v", cfg)
	}

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "2")
	if _, err := config.Load(); err == nil {
		t.Error("expected error for sample ratio above 1")
	}
}

func TestEnvRates(t *testing.T) {
	rates := config.NewRatesFromMap(map[string]string{
		"RESERVATION_TIMEOUT_MINUTES": "10",
		"TICKET_PRICES":               "VIP=1500,REGULAR=800",
		"SEAT_COMMISSIONS":            "VIP=400,REGULAR=100",
		"STANDING_ADULT_PRICE":        "500",
		"STANDING_CHILD_PRICE":        "250",
		"STANDING_ADULT_COMMISSION":   "50",
		"STANDING_CHILD_COMMISSION":   "20",
	})

	table, err := rates.Rates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if table.ReservationTimeout() != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %s", table.ReservationTimeout())
	}
	if !table.UnitPrices[domain.TicketVIP].Equal(decimal.NewFromInt(1500)) {
		t.Errorf("unexpected VIP price %s", table.UnitPrices[domain.TicketVIP])
	}
	if table.Standing == nil || !table.Standing.ChildCommission.Equal(decimal.NewFromInt(20)) {
		t.Errorf("unexpected standing rates %+v", table.Standing)
	}
}

func TestEnvRates_NonNumericStanding(t *testing.T) {
	rates := config.NewRatesFromMap(map[string]string{
		"TICKET_PRICES":        "VIP=1500",
		"SEAT_COMMISSIONS":     "VIP=400",
		"STANDING_ADULT_PRICE": "five hundred",
	})
	_, err := rates.Rates(context.Background())
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestEnvRates_StandingOptional(t *testing.T) {
	rates := config.NewRatesFromMap(map[string]string{"TICKET_PRICES": "VIP=1500", "SEAT_COMMISSIONS": "VIP=400"})
	table, err := rates.Rates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if table.Standing != nil {
		t.Error("standing rates should be absent")
	}
}
