// Package taxonomy resolves document category and subcategory ids to names.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownCategory    = errors.New("taxonomy: unknown category")
	ErrUnknownSubcategory = errors.New("taxonomy: unknown subcategory")
)

type Subcategory struct {
	ID   string `json:"id" toml:"id"`
	Name string `json:"name" toml:"name"`
}

type Category struct {
	ID            string        `json:"id" toml:"id"`
	Name          string        `json:"name" toml:"name"`
	Subcategories []Subcategory `json:"subcategories" toml:"subcategories"`
}

// Taxonomy is immutable after construction and safe for concurrent reads.
type Taxonomy struct {
	categories []Category
	byID       map[string]int
	subByID    map[string]map[string]string
}

// New indexes categories. Ids must be unique, subcategory ids unique within
// their category.
func New(categories []Category) (*Taxonomy, error) {
	t := &Taxonomy{
		byID:    make(map[string]int, len(categories)),
		subByID: make(map[string]map[string]string, len(categories)),
	}
	for _, c := range categories {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, errors.New("taxonomy: category id is required")
		}
		if _, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate category %q", id)
		}
		subs := make(map[string]string, len(c.Subcategories))
		for _, s := range c.Subcategories {
			sid := strings.TrimSpace(s.ID)
			if sid == "" {
				return nil, fmt.Errorf("taxonomy: category %q has a subcategory without id", id)
			}
			if _, dup := subs[sid]; dup {
				return nil, fmt.Errorf("taxonomy: duplicate subcategory %q in %q", sid, id)
			}
			subs[sid] = s.Name
		}
		c.ID = id
		t.byID[id] = len(t.categories)
		t.subByID[id] = subs
		t.categories = append(t.categories, c)
	}
	return t, nil
}

// Default is the built-in household taxonomy.
func Default() *Taxonomy {
	t, err := New(defaultCategories)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the names for a category and optional subcategory.
func (t *Taxonomy) Lookup(categoryID, subcategoryID string) (string, string, error) {
	idx, ok := t.byID[categoryID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownCategory, categoryID)
	}
	name := t.categories[idx].Name
	if subcategoryID == "" {
		return name, "", nil
	}
	sub, ok := t.subByID[categoryID][subcategoryID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s/%s", ErrUnknownSubcategory, categoryID, subcategoryID)
	}
	return name, sub, nil
}

// Categories returns the categories ordered by name.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	copy(out, t.categories)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var defaultCategories = []Category{
	{ID: "identity", Name: "Identity", Subcategories: []Subcategory{
		{ID: "passport", Name: "Passport"},
		{ID: "birth_certificate", Name: "Birth certificate"},
		{ID: "drivers_license", Name: "Driver's license"},
	}},
	{ID: "finance", Name: "Finance", Subcategories: []Subcategory{
		{ID: "bank_statement", Name: "Bank statement"},
		{ID: "tax_return", Name: "Tax return"},
		{ID: "insurance", Name: "Insurance policy"},
	}},
	{ID: "health", Name: "Health", Subcategories: []Subcategory{
		{ID: "vaccination", Name: "Vaccination record"},
		{ID: "prescription", Name: "Prescription"},
	}},
	{ID: "property", Name: "Property", Subcategories: []Subcategory{
		{ID: "deed", Name: "Deed"},
		{ID: "lease", Name: "Lease"},
		{ID: "warranty", Name: "Warranty"},
	}},
	{ID: "education", Name: "Education"},
}
