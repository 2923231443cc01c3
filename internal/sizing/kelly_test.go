package sizing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func price(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPureKelly(t *testing.T) {
	// K(0.7, 1.5) = (1.5*0.7 - 0.3) / 1.5 = 0.5
	got := Kelly(0.7, 1.5)
	if math.Abs(got-0.5) > 1e-12 {
		t.Errorf("expected 0.5, got %f", got)
	}
}

func TestKellyClamped(t *testing.T) {
	if Kelly(0.1, 1) != 0 {
		t.Error("losing edge must clamp to 0")
	}
	if Kelly(1, 0.5) != 1 {
		t.Error("certain win must clamp to 1")
	}
}

func TestFractionRange(t *testing.T) {
	strategies := []Strategy{
		ConservativeKelly, EstimationRiskKelly, HalfKelly,
		Fixed100Percent, CurrentKellyTimesConfidence,
	}
	entry, tp, sl := price(100), price(115), price(90)

	for _, strat := range strategies {
		for _, p := range []float64{0, 0.3, 0.5, 0.7, 1} {
			for _, c := range []float64{0, 0.25, 0.5} {
				f := Fraction(strat, entry, tp, sl, p, c)
				if f < 0 || f > 1 {
					t.Errorf("%s with p=%f c=%f produced fraction %f outside [0, 1]", strat, p, c, f)
				}
			}
		}
	}
}

func TestFractionZeroWhenNoRiskDistance(t *testing.T) {
	strategies := []Strategy{
		ConservativeKelly, EstimationRiskKelly, HalfKelly,
		Fixed100Percent, CurrentKellyTimesConfidence,
	}
	// entry - SL <= 0
	for _, strat := range strategies {
		if f := Fraction(strat, price(100), price(110), price(100), 0.9, 0.4); f != 0 {
			t.Errorf("%s must size 0 when entry-SL is zero, got %f", strat, f)
		}
		if f := Fraction(strat, price(100), price(110), price(120), 0.9, 0.4); f != 0 {
			t.Errorf("%s must size 0 when SL above entry, got %f", strat, f)
		}
	}
}

func TestHalfKelly(t *testing.T) {
	entry, tp, sl := price(100), price(115), price(90)
	// R = 1.5
	full := Kelly(0.7, 1.5)
	half := Fraction(HalfKelly, entry, tp, sl, 0.7, 0.3)
	if math.Abs(half-0.5*full) > 1e-12 {
		t.Errorf("expected half of %f, got %f", full, half)
	}
}

func TestConservativeKellyShrinksTowardHalf(t *testing.T) {
	entry, tp, sl := price(100), price(115), price(90)

	// Zero confidence collapses p to 0.5: K(0.5, 1.5) = (0.75-0.5)/1.5
	zeroConf := Fraction(ConservativeKelly, entry, tp, sl, 0.9, 0)
	want := Kelly(0.5, 1.5)
	if math.Abs(zeroConf-want) > 1e-12 {
		t.Errorf("expected %f at zero confidence, got %f", want, zeroConf)
	}

	// Higher confidence trusts p more
	highConf := Fraction(ConservativeKelly, entry, tp, sl, 0.9, 0.5)
	if highConf <= zeroConf {
		t.Errorf("higher confidence should size larger: %f vs %f", highConf, zeroConf)
	}
}

func TestEstimationRiskDiscount(t *testing.T) {
	entry, tp, sl := price(100), price(115), price(90)

	discounted := Fraction(EstimationRiskKelly, entry, tp, sl, 0.7, 0.05)
	full := Kelly(0.7, 1.5)
	if discounted >= full {
		t.Errorf("low confidence should discount below pure Kelly: %f vs %f", discounted, full)
	}
}

func TestFixed100Percent(t *testing.T) {
	if f := Fraction(Fixed100Percent, price(100), price(110), price(90), 0.1, 0); f != 1 {
		t.Errorf("expected 1.0, got %f", f)
	}
}

func TestKellyTimesConfidence(t *testing.T) {
	entry, tp, sl := price(100), price(115), price(90)
	got := Fraction(CurrentKellyTimesConfidence, entry, tp, sl, 0.7, 0.4)
	want := Kelly(0.7, 1.5) * 0.4
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestParseStrategy(t *testing.T) {
	if _, err := ParseStrategy("HALF_KELLY"); err != nil {
		t.Errorf("HALF_KELLY should parse: %v", err)
	}
	if _, err := ParseStrategy("MARTINGALE"); err == nil {
		t.Error("unknown strategy must not parse")
	}
}
