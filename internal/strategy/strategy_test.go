package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// stubStrategy is a minimal Strategy that buys on rising closes.
type stubStrategy struct {
	name string
	err  error
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) ComputeIndicators(bars []domain.Bar) (*indicator.Frame, error) {
	return indicator.Bollinger{Window: 2, NumStd: 1}.Build(bars)
}

func (s *stubStrategy) Classify(row indicator.Row) (domain.Signal, error) {
	if s.err != nil {
		return domain.Hold, s.err
	}
	if !row.Defined() {
		return domain.Hold, nil
	}
	if row.Return1D > 0 {
		return domain.Buy, nil
	}
	return domain.Sell, nil
}

func testBars(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Timestamp: start.AddDate(0, 0, i), Open: c, Close: c}
	}
	return bars
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &stubStrategy{name: "test-strategy"}

	r.Register(s)

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
	if _, err := r.Lookup("nonexistent"); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Lookup error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "beta"})
	r.Register(&stubStrategy{name: "alpha"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestGenerateSignals(t *testing.T) {
	s := &stubStrategy{name: "stub"}
	frame, err := s.ComputeIndicators(testBars(1, 2, 3, 2))
	if err != nil {
		t.Fatalf("ComputeIndicators: %v", err)
	}
	signals, err := GenerateSignals(context.Background(), s, frame)
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	want := []domain.Signal{domain.Hold, domain.Buy, domain.Buy, domain.Sell}
	if len(signals) != len(want) {
		t.Fatalf("len(signals) = %d, want %d", len(signals), len(want))
	}
	for i := range want {
		if signals[i] != want[i] {
			t.Errorf("signals[%d] = %v, want %v", i, signals[i], want[i])
		}
	}
}

func TestGenerateSignalsError(t *testing.T) {
	s := &stubStrategy{name: "broken", err: domain.ErrModelNotTrained}
	frame, _ := s.ComputeIndicators(testBars(1, 2, 3))
	if _, err := GenerateSignals(context.Background(), s, frame); !errors.Is(err, domain.ErrModelNotTrained) {
		t.Errorf("GenerateSignals error = %v, want ErrModelNotTrained", err)
	}
}
