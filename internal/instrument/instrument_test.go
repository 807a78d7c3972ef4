package instrument

import "testing"

func TestParse_Valid(t *testing.T) {
	s, err := Parse("TCS.NS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Ticker != "TCS" {
		t.Errorf("expected ticker=TCS, got %s", s.Ticker)
	}
	if s.Exchange != ExchangeNSE {
		t.Errorf("expected exchange=NS, got %s", s.Exchange)
	}
	if s.Name != "TCS.NS" {
		t.Errorf("expected name=TCS.NS, got %s", s.Name)
	}
}

func TestParse_Unqualified(t *testing.T) {
	s, err := Parse("RELIANCE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Exchange != "" {
		t.Errorf("expected empty exchange, got %s", s.Exchange)
	}
	if s.Name != "RELIANCE" {
		t.Errorf("expected name=RELIANCE, got %s", s.Name)
	}
}

func TestParse_Normalizes(t *testing.T) {
	s, err := Parse("  infy.bo ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "INFY.BO" {
		t.Errorf("expected name=INFY.BO, got %s", s.Name)
	}
	if s.Exchange != ExchangeBSE {
		t.Errorf("expected exchange=BO, got %s", s.Exchange)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		".",
		".NS",
		"TCS.",
		"9GOLD",                // must start with a letter
		"WAYTOOLONGTICKERNAME", // over 12 characters
		"TCS NS",               // whitespace inside
		"TCS.NS.BO",            // double suffix
	}
	for _, raw := range tests {
		if _, err := Parse(raw); err == nil {
			t.Errorf("expected error for symbol %q", raw)
		}
	}
}

func TestParse_UnsupportedExchange(t *testing.T) {
	_, err := Parse("TCS.XX")
	if err == nil {
		t.Error("expected error for unsupported exchange")
	}
}

func TestParse_AmpersandTickers(t *testing.T) {
	// Symbols like M&M and L&T are real NSE tickers.
	for _, raw := range []string{"M&M", "L&TFH.NS"} {
		if _, err := Parse(raw); err != nil {
			t.Errorf("unexpected error for %q: %v", raw, err)
		}
	}
}
