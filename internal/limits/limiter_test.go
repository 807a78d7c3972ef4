package limits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckBuy_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(1000, d(500000))

	err := limiter.CheckBuy(0, 100, d(250), d(0))
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckBuy_PositionLimitExceeded(t *testing.T) {
	limiter := NewExposureLimiter(1000, d(500000))

	// Existing 950 + new 100 = 1050 > 1000.
	err := limiter.CheckBuy(950, 100, d(10), d(9500))
	if err != ErrPositionLimitExceeded {
		t.Errorf("expected ErrPositionLimitExceeded, got %v", err)
	}
}

func TestCheckBuy_PositionLimitExact(t *testing.T) {
	limiter := NewExposureLimiter(1000, d(500000))

	// Exactly at the cap is allowed.
	err := limiter.CheckBuy(900, 100, d(10), d(9000))
	if err != nil {
		t.Errorf("buy at exact limit should succeed, got %v", err)
	}
}

func TestCheckBuy_ExposureLimitExceeded(t *testing.T) {
	limiter := NewExposureLimiter(0, d(100000))

	// Invested 90000 + 50×250 = 102500 > 100000.
	err := limiter.CheckBuy(0, 50, d(250), d(90000))
	if err != ErrExposureLimitExceeded {
		t.Errorf("expected ErrExposureLimitExceeded, got %v", err)
	}
}

func TestCheckBuy_ExposureLimitExact(t *testing.T) {
	limiter := NewExposureLimiter(0, d(100000))

	// Invested 90000 + 40×250 = 100000, exactly at the cap.
	err := limiter.CheckBuy(0, 40, d(250), d(90000))
	if err != nil {
		t.Errorf("buy at exact exposure limit should succeed, got %v", err)
	}
}

func TestCheckBuy_ZeroCapsDisableChecks(t *testing.T) {
	limiter := NewExposureLimiter(0, decimal.Zero)

	err := limiter.CheckBuy(1_000_000, 1_000_000, d(99999), d(1e12))
	if err != nil {
		t.Errorf("zero caps should disable limits, got %v", err)
	}
}
