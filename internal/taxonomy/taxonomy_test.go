package taxonomy

import (
	"errors"
	"testing"
)

func TestDefaultLookup(t *testing.T) {
	tx := Default()
	cat, sub, err := tx.Lookup("identity", "passport")
	if err != nil || cat != "Identity" || sub != "Passport" {
		t.Fatalf("Lookup: %q %q %v", cat, sub, err)
	}
	cat, sub, err = tx.Lookup("education", "")
	if err != nil || cat != "Education" || sub != "" {
		t.Fatalf("Lookup without subcategory: %q %q %v", cat, sub, err)
	}
	if _, _, err := tx.Lookup("pets", ""); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if _, _, err := tx.Lookup("identity", "deed"); !errors.Is(err, ErrUnknownSubcategory) {
		t.Fatalf("expected ErrUnknownSubcategory, got %v", err)
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	if _, err := New([]Category{{ID: "a"}, {ID: "a"}}); err == nil {
		t.Fatalf("expected duplicate category error")
	}
	if _, err := New([]Category{{ID: "a", Subcategories: []Subcategory{{ID: "x"}, {ID: "x"}}}}); err == nil {
		t.Fatalf("expected duplicate subcategory error")
	}
	if _, err := New([]Category{{ID: " "}}); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestCategoriesSortedByName(t *testing.T) {
	cats := Default().Categories()
	for i := 1; i < len(cats); i++ {
		if cats[i-1].Name > cats[i].Name {
			t.Fatalf("categories not sorted: %q before %q", cats[i-1].Name, cats[i].Name)
		}
	}
}
