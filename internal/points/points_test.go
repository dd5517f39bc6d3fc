package points

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecoplate/ecoplate-system/internal/model"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestForInteraction(t *testing.T) {
	tests := []struct {
		name     string
		action   model.ActionKind
		quantity int
		co2      string
		want     int64
	}{
		{
			name:     "sold uses 1.5 multiplier",
			action:   model.ActionSold,
			quantity: 1,
			co2:      "2.0",
			want:     3,
		},
		{
			name:     "sold floor applies to small emissions",
			action:   model.ActionSold,
			quantity: 1,
			co2:      "0.4",
			want:     3,
		},
		{
			name:     "sold floor is per unit",
			action:   model.ActionSold,
			quantity: 4,
			co2:      "0.1",
			want:     12,
		},
		{
			name:     "consumed rounds half away from zero",
			action:   model.ActionConsumed,
			quantity: 1,
			co2:      "2.5",
			want:     3,
		},
		{
			name:     "shared floor of two",
			action:   model.ActionShared,
			quantity: 1,
			co2:      "0.5",
			want:     2,
		},
		{
			name:     "wasted is a penalty",
			action:   model.ActionWasted,
			quantity: 2,
			co2:      "4.0",
			want:     -4,
		},
		{
			name:     "wasted never positive",
			action:   model.ActionWasted,
			quantity: 1,
			co2:      "0.1",
			want:     0,
		},
		{
			name:     "unknown action earns nothing",
			action:   model.ActionKind("gifted"),
			quantity: 1,
			co2:      "5.0",
			want:     0,
		},
		{
			name:     "non-positive quantity earns nothing",
			action:   model.ActionSold,
			quantity: 0,
			co2:      "5.0",
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co2, err := decimal.NewFromString(tt.co2)
			if err != nil {
				t.Fatalf("parse co2: %v", err)
			}

			got := ForInteraction(tt.action, tt.quantity, co2)
			if got != tt.want {
				t.Fatalf("ForInteraction(%s, %d, %s) = %d, want %d",
					tt.action, tt.quantity, tt.co2, got, tt.want)
			}
		})
	}
}

func TestForInteractionFiveSoldUnits(t *testing.T) {
	co2 := decimal.NewFromFloat(2.0)

	var total int64
	for i := 0; i < 5; i++ {
		total += ForInteraction(model.ActionSold, 1, co2)
	}

	if total != 15 {
		t.Fatalf("five sold interactions at co2=2.0 must earn 15 points, got %d", total)
	}
}

func TestCO2Saved(t *testing.T) {
	co2 := decimal.NewFromFloat(1.5)

	saved := CO2Saved(model.ActionConsumed, 2, co2)
	if !saved.Equal(decimal.NewFromFloat(3.0)) {
		t.Fatalf("CO2Saved(consumed, 2, 1.5) = %s, want 3", saved)
	}

	if !CO2Saved(model.ActionWasted, 2, co2).IsZero() {
		t.Fatalf("wasted products must not accumulate saved CO2")
	}
}

func TestCurrentStreak(t *testing.T) {
	now := day("2026-03-10")

	tests := []struct {
		name string
		days []time.Time
		want int
	}{
		{
			name: "no activity",
			days: nil,
			want: 0,
		},
		{
			name: "single day today",
			days: []time.Time{day("2026-03-10")},
			want: 1,
		},
		{
			name: "three consecutive days",
			days: []time.Time{day("2026-03-10"), day("2026-03-09"), day("2026-03-08")},
			want: 3,
		},
		{
			name: "gap breaks the streak",
			days: []time.Time{day("2026-03-10"), day("2026-03-08"), day("2026-03-07")},
			want: 1,
		},
		{
			name: "no interaction today means no streak",
			days: []time.Time{day("2026-03-09"), day("2026-03-08")},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CurrentStreak(tt.days, now)
			if got != tt.want {
				t.Fatalf("CurrentStreak = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCurrentStreakIsRepeatable(t *testing.T) {
	now := day("2026-03-10")
	days := []time.Time{day("2026-03-10"), day("2026-03-09")}

	first := CurrentStreak(days, now)
	second := CurrentStreak(days, now)

	if first != second {
		t.Fatalf("streak must be a pure function of the log: %d != %d", first, second)
	}
}

func TestIsMilestone(t *testing.T) {
	for _, m := range Milestones {
		if !IsMilestone(m) {
			t.Fatalf("milestone %d not recognized", m)
		}
	}

	for _, v := range []int{0, 1, 2, 5, 10, 15, 50, 200} {
		if IsMilestone(v) {
			t.Fatalf("%d must not be a milestone", v)
		}
	}
}
