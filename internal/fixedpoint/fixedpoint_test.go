package fixedpoint

import "testing"

func TestNotional(t *testing.T) {
	// price 1.0 (1e6 ticks) * size 10 (10e18 ticks) = 10 quote (10e6 ticks)
	got := Notional(1*PriceScale, 10*SizeScale)
	want := int64(10 * PriceScale)
	if got != want {
		t.Fatalf("Notional() = %d, want %d", got, want)
	}
}

func TestRequiredMargin(t *testing.T) {
	got := RequiredMargin(100*SizeScale, 10*PriceScale)
	want := int64(1000 * PriceScale)
	if got != want {
		t.Fatalf("RequiredMargin() = %d, want %d", got, want)
	}
}

func TestPnL_FlipScenario(t *testing.T) {
	// Scenario 4 from the spec: long 50 @ 10, mark 12 -> realized 100 on close of 50.
	got := PnL(12*PriceScale, 10*PriceScale, 50*SizeScale)
	want := int64(100 * PriceScale)
	if got != want {
		t.Fatalf("PnL() = %d, want %d", got, want)
	}
}

func TestPnL_ShortSign(t *testing.T) {
	// Short 100 @ 10, mark rises to 20: loss of 1000 (negative PnL).
	got := PnL(20*PriceScale, 10*PriceScale, -100*SizeScale)
	want := int64(-1000 * PriceScale)
	if got != want {
		t.Fatalf("PnL() = %d, want %d", got, want)
	}
}

func TestVWAP(t *testing.T) {
	// Adding 50 @ 10 to an existing 50 @ 10 should stay at 10.
	got := VWAP(50*SizeScale, 10*PriceScale, 50*SizeScale, 10*PriceScale)
	want := int64(10 * PriceScale)
	if got != want {
		t.Fatalf("VWAP() = %d, want %d", got, want)
	}
}

func TestVWAP_Weighted(t *testing.T) {
	// 10 @ 1.0 then 10 @ 1.5 -> vwap 1.25
	got := VWAP(10*SizeScale, 1*PriceScale, 10*SizeScale, int64(1.5*PriceScale))
	want := int64(1.25 * PriceScale)
	if got != want {
		t.Fatalf("VWAP() = %d, want %d", got, want)
	}
}
