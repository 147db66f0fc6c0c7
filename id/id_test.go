package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/shardlease/id"
)

func TestNewInstanceID(t *testing.T) {
	i := id.NewInstanceID()
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixInstance {
		t.Errorf("expected prefix %q, got %q", id.PrefixInstance, i.Prefix())
	}
	if got := i.String(); !strings.HasPrefix(got, "inst_") || len(got) != len("inst_")+26 {
		t.Errorf("unexpected format %q", got)
	}
}

func TestNewPanicsOnInvalidPrefix(t *testing.T) {
	for _, p := range []id.Prefix{"", "Upper", "has-dash", "trailing_"} {
		t.Run(string(p), func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for prefix %q", p)
				}
			}()
			id.New(p)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewInstanceID()
	parsed, err := id.ParseInstanceID(original.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != original {
		t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
	}
}

func TestParseWithPrefix(t *testing.T) {
	i := id.New("node")
	if _, err := id.ParseWithPrefix(i.String(), "node"); err != nil {
		t.Fatalf("ParseWithPrefix failed: %v", err)
	}
	if _, err := id.ParseInstanceID(i.String()); err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "nounderscore", "01h2xcejqtf2nbrexx3vqjhp41", "_01h2xcejqtf2nbrexx3vqjhp41", "inst_zzz", "Inst_01h2xcejqtf2nbrexx3vqjhp41"} {
		t.Run(s, func(t *testing.T) {
			if _, err := id.Parse(s); err == nil {
				t.Errorf("expected error for %q", s)
			}
		})
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewInstanceID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored != original {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewInstanceID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned != original {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}

	if err := scanned2.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewInstanceID()
	b := id.NewInstanceID()
	if a == b {
		t.Errorf("two consecutive NewInstanceID() calls returned the same ID: %q", a.String())
	}
}

func TestParseKnownTypeID(t *testing.T) {
	const s = "inst_01h2xcejqtf2nbrexx3vqjhp41"
	i, err := id.ParseInstanceID(s)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if i.String() != s {
		t.Errorf("expected %q, got %q", s, i.String())
	}
	if i.Prefix() != id.PrefixInstance {
		t.Errorf("expected prefix %q, got %q", id.PrefixInstance, i.Prefix())
	}
}
