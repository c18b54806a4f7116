package symbols

import (
	"testing"

	"github.com/lucambottino/ec2-price-collector/internal/config"
)

func TestNormalizeUpperCasesSortsAndDedupes(t *testing.T) {
	got := normalize([]string{"ethusdt", "BTCUSDT", " btcusdt ", "", "SOLUSDT"})
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if !equalSets(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestStaticSourceIsImmutable(t *testing.T) {
	s := NewStatic([]string{"btcusdt"})
	syms := s.Symbols()
	if len(syms) != 1 || syms[0] != "BTCUSDT" {
		t.Fatalf("expected [BTCUSDT], got %v", syms)
	}
	syms[0] = "HACKED"
	if s.Symbols()[0] != "BTCUSDT" {
		t.Errorf("expected the source unaffected by caller mutation")
	}
	if s.Updates() != nil {
		t.Errorf("expected nil updates channel for a static source")
	}
}

func TestCatalogSeedsFromStaticList(t *testing.T) {
	c := NewCatalog(nil, &config.Symbols{Static: []string{"ethusdt", "btcusdt"}, RefreshIntSec: 60})
	got := c.Symbols()
	want := []string{"BTCUSDT", "ETHUSDT"}
	if !equalSets(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCatalogPublishesLatestSetOnly(t *testing.T) {
	c := NewCatalog(nil, &config.Symbols{Static: []string{"BTCUSDT"}, RefreshIntSec: 60})
	updates := c.Updates()

	c.publish([]string{"BTCUSDT", "ETHUSDT"})
	c.publish([]string{"BTCUSDT", "SOLUSDT"})

	select {
	case got := <-updates:
		if len(got) != 2 || got[1] != "SOLUSDT" {
			t.Errorf("expected only the latest set delivered, got %v", got)
		}
	default:
		t.Errorf("expected a pending symbol set")
	}
	select {
	case got := <-updates:
		t.Errorf("expected a single pending set, got another %v", got)
	default:
	}
}

func TestEqualSets(t *testing.T) {
	if !equalSets([]string{"A", "B"}, []string{"A", "B"}) {
		t.Errorf("expected equal sets")
	}
	if equalSets([]string{"A"}, []string{"A", "B"}) {
		t.Errorf("expected different lengths unequal")
	}
	if equalSets([]string{"A", "C"}, []string{"A", "B"}) {
		t.Errorf("expected different members unequal")
	}
}
