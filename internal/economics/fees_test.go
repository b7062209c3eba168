package economics

import (
	"math"
	"testing"
)

func TestComputeFee(t *testing.T) {
	testCases := []struct {
		amount  uint64
		bps     uint16
		wantFee uint64
		wantNet uint64
	}{
		{1_000_000, 50, 5_000, 995_000},
		{1_000_000, 0, 0, 1_000_000},
		{199, 50, 0, 199}, // rounds down
		{200, 50, 1, 199},
		{0, 50, 0, 0},
		{100_000_000, BpsDenominator, 100_000_000, 0},
		{math.MaxUint64, BpsDenominator, math.MaxUint64, 0},
		{math.MaxUint64, 50, math.MaxUint64 / 200, math.MaxUint64 - math.MaxUint64/200},
	}

	for _, tc := range testCases {
		fee, net, err := ComputeFee(tc.amount, tc.bps)
		if err != nil {
			t.Errorf("ComputeFee(%d, %d): %v", tc.amount, tc.bps, err)
			continue
		}
		if fee != tc.wantFee || net != tc.wantNet {
			t.Errorf("ComputeFee(%d, %d) = (%d, %d), want (%d, %d)",
				tc.amount, tc.bps, fee, net, tc.wantFee, tc.wantNet)
		}
		if fee+net != tc.amount {
			t.Errorf("ComputeFee(%d, %d): fee+net = %d", tc.amount, tc.bps, fee+net)
		}
	}
}

func TestComputeFeeRejectsRate(t *testing.T) {
	if _, _, err := ComputeFee(100, BpsDenominator+1); err == nil {
		t.Error("rate above 100% should be rejected")
	}

	cfg := DefaultFeeConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
	cfg.FeeBps = 20_000
	if err := cfg.Validate(); err == nil {
		t.Error("20000 bps should not validate")
	}
}
