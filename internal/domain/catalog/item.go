package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// aliasMarker introduces a comma-separated alias list inside an item description.
const aliasMarker = "alias:"

// MenuItem is one purchasable item of a catalog snapshot.
type MenuItem struct {
	SKU       string
	Name      string
	Category  string
	PriceBase decimal.Decimal
	// Aliases are normalized alternate spellings, static table first.
	Aliases []string
}

// RawItem is an upstream item before alias expansion.
type RawItem struct {
	SKU         string
	Name        string
	Category    string
	Description string
	Price       decimal.Decimal
}

// Normalize case-folds, trims and collapses inner whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// AliasTable holds known mis-transcriptions keyed by normalized item name.
type AliasTable map[string][]string

// NewAliasTable normalizes the keys of byName.
func NewAliasTable(byName map[string][]string) AliasTable {
	t := make(AliasTable, len(byName))
	for name, aliases := range byName {
		key := Normalize(name)
		t[key] = append(t[key], aliases...)
	}
	return t
}

// DescriptionAliases extracts aliases from every description line that starts
// with "alias:" (any case).
func DescriptionAliases(description string) []string {
	var out []string
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < len(aliasMarker) || !strings.EqualFold(line[:len(aliasMarker)], aliasMarker) {
			continue
		}
		for _, a := range strings.Split(line[len(aliasMarker):], ",") {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
	}
	return out
}

// BuildItem expands raw into a MenuItem whose aliases are the union of the
// static table entry for its name and its description aliases.
func BuildItem(raw RawItem, table AliasTable) MenuItem {
	static := table[Normalize(raw.Name)]
	fromDesc := DescriptionAliases(raw.Description)

	seen := make(map[string]struct{}, len(static)+len(fromDesc))
	aliases := make([]string, 0, len(static)+len(fromDesc))
	for _, group := range [][]string{static, fromDesc} {
		for _, a := range group {
			n := Normalize(a)
			if n == "" {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			aliases = append(aliases, n)
		}
	}

	return MenuItem{
		SKU:       strings.TrimSpace(raw.SKU),
		Name:      strings.TrimSpace(raw.Name),
		Category:  strings.TrimSpace(raw.Category),
		PriceBase: raw.Price,
		Aliases:   aliases,
	}
}
