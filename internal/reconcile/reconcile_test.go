package reconcile_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/reconcile"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCompare_SameRateIsUnchanged(t *testing.T) {
	check := reconcile.Compare(d("7300"), d("7300"), d("730000"), d("730000"))

	if check.Changed {
		t.Fatalf("expected unchanged, got changed: %+v", check)
	}
	if !check.Delta.IsZero() {
		t.Errorf("expected zero delta, got %s", check.Delta)
	}
	if !check.DeltaPct.IsZero() {
		t.Errorf("expected zero delta pct, got %s", check.DeltaPct)
	}
	if !check.PreviousRate.Equal(d("7300")) || !check.CurrentRate.Equal(d("7300")) {
		t.Errorf("rates not carried through: %+v", check)
	}
}

func TestCompare_SameValueDifferentScaleIsUnchanged(t *testing.T) {
	// 7300 and 7300.00 are the same rate.
	check := reconcile.Compare(d("7300"), d("7300.00"), d("730000"), d("730000"))
	if check.Changed {
		t.Fatalf("expected unchanged for equal values at different scales")
	}
}

func TestCompare_DifferentRateIsChanged(t *testing.T) {
	check := reconcile.Compare(d("7300"), d("7350"), d("730000"), d("735000"))

	if !check.Changed {
		t.Fatal("expected changed")
	}
	if !check.Delta.Equal(d("50")) {
		t.Errorf("expected delta 50, got %s", check.Delta)
	}
	// 50 / 7300 * 100
	wantPct := d("50").Div(d("7300")).Mul(d("100"))
	if !check.DeltaPct.Equal(wantPct) {
		t.Errorf("expected delta pct %s, got %s", wantPct, check.DeltaPct)
	}
	if !check.PreviousAmount.Equal(d("730000")) || !check.CurrentAmount.Equal(d("735000")) {
		t.Errorf("amounts not carried through: %+v", check)
	}
}

func TestCompare_RateDecrease(t *testing.T) {
	check := reconcile.Compare(d("7350"), d("7300"), d("735000"), d("730000"))

	if !check.Changed {
		t.Fatal("expected changed")
	}
	if !check.Delta.Equal(d("-50")) {
		t.Errorf("expected delta -50, got %s", check.Delta)
	}
	if !check.DeltaPct.IsNegative() {
		t.Errorf("expected negative delta pct, got %s", check.DeltaPct)
	}
}

func TestCompare_ZeroPreviousRateGuardsDeltaPct(t *testing.T) {
	check := reconcile.Compare(decimal.Zero, d("7300"), decimal.Zero, d("730000"))

	if !check.Changed {
		t.Fatal("expected changed")
	}
	if !check.DeltaPct.IsZero() {
		t.Errorf("expected delta pct to stay zero when previous rate is zero, got %s", check.DeltaPct)
	}
}
