package model

import "testing"

func TestCandleKeyString(t *testing.T) {
	key := CandleKey{
		Token:    "0xabc123",
		Chain:    "ethereum",
		OpenTS:   1700000000000000,
		Interval: "1m",
	}

	got := key.String()
	want := "ethereum/0xabc123/1m@1700000000000000"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSourceTierScore(t *testing.T) {
	tests := []struct {
		name string
		tier SourceTier
		want int
	}{
		{"unknown", TierUnknown, 0},
		{"backfill", TierBackfill, 1},
		{"live feed", TierLiveFeed, 3},
		{"canonical", TierCanonical, 5},
		{"negative clamps to zero", SourceTier(-2), 0},
		{"overflow clamps to five", SourceTier(9), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.Score(); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseSourceTier(t *testing.T) {
	tests := []struct {
		input   string
		want    SourceTier
		wantErr bool
	}{
		{"unknown", TierUnknown, false},
		{"backfill", TierBackfill, false},
		{"livefeed", TierLiveFeed, false},
		{"canonical", TierCanonical, false},
		{"CANONICAL", TierCanonical, false},
		{"premium", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSourceTier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSourceTier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSourceTier(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSourceTierRoundTrip(t *testing.T) {
	for _, tier := range []SourceTier{TierUnknown, TierBackfill, TierLiveFeed, TierCanonical} {
		got, err := ParseSourceTier(tier.String())
		if err != nil {
			t.Fatalf("ParseSourceTier(%q) error = %v", tier.String(), err)
		}
		if got != tier {
			t.Errorf("round trip of %v = %v", tier, got)
		}
	}
}
