package costbasis

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestWeightedAverage_EqualLots(t *testing.T) {
	// 10 @ 100, then 10 @ 200 → 20 units at avg 150.
	avg, err := WeightedAverage(10, d(100), 10, d(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avg.Equal(d(150)) {
		t.Errorf("expected avg=150, got %s", avg)
	}
}

func TestWeightedAverage_OpeningPosition(t *testing.T) {
	// Zero existing quantity: average is simply the trade price.
	avg, err := WeightedAverage(0, decimal.Zero, 25, d(312.4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avg.Equal(d(312.4)) {
		t.Errorf("expected avg=312.4, got %s", avg)
	}
}

func TestWeightedAverage_UnequalLots(t *testing.T) {
	// 3 @ 10, then 1 @ 30 → (30 + 30) / 4 = 15.
	avg, err := WeightedAverage(3, d(10), 1, d(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avg.Equal(d(15)) {
		t.Errorf("expected avg=15, got %s", avg)
	}
}

func TestWeightedAverage_RoundsToFourDigits(t *testing.T) {
	// (1×100 + 2×100.01) / 3 = 100.006666… → 100.0067.
	avg, err := WeightedAverage(1, d(100), 2, d(100.01))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avg.Equal(d(100.0067)) {
		t.Errorf("expected avg=100.0067, got %s", avg)
	}
}

func TestWeightedAverage_ManySmallLots(t *testing.T) {
	// 1000 single-unit buys at the same price must not drift.
	avg := decimal.Zero
	qty := int64(0)
	var err error
	for i := 0; i < 1000; i++ {
		avg, err = WeightedAverage(qty, avg, 1, d(99.99))
		if err != nil {
			t.Fatalf("unexpected error at lot %d: %v", i, err)
		}
		qty++
	}
	if !avg.Equal(d(99.99)) {
		t.Errorf("constant-price buys should keep avg=99.99, got %s", avg)
	}
}

func TestWeightedAverage_InvalidInputs(t *testing.T) {
	if _, err := WeightedAverage(10, d(100), 0, d(50)); err != ErrNonPositiveQuantity {
		t.Errorf("expected ErrNonPositiveQuantity for zero delta, got %v", err)
	}
	if _, err := WeightedAverage(10, d(100), -5, d(50)); err != ErrNonPositiveQuantity {
		t.Errorf("expected ErrNonPositiveQuantity for negative delta, got %v", err)
	}
	if _, err := WeightedAverage(10, d(100), 5, d(-1)); err != ErrNegativePrice {
		t.Errorf("expected ErrNegativePrice, got %v", err)
	}
}

func TestNotional(t *testing.T) {
	if got := Notional(2, d(300)); !got.Equal(d(600)) {
		t.Errorf("expected 600, got %s", got)
	}
	if got := Notional(3, d(0.5)); !got.Equal(d(1.5)) {
		t.Errorf("expected 1.5, got %s", got)
	}
}

func TestRealizedPnL(t *testing.T) {
	// Bought at 100, sold 4 at 120 → +80.
	if got := RealizedPnL(4, d(100), d(120)); !got.Equal(d(80)) {
		t.Errorf("expected +80, got %s", got)
	}
	// Bought at 100, sold 4 at 90 → -40.
	if got := RealizedPnL(4, d(100), d(90)); !got.Equal(d(-40)) {
		t.Errorf("expected -40, got %s", got)
	}
}
