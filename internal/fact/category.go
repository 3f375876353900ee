package fact

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SubjectID identifies a monitored subject: a member account or a corporate
// entity. The id is opaque to the engine; the platform assigns it.
type SubjectID int64

// Category names one monitored dimension of subject state.
type Category string

// The closed set of monitored categories, in evaluation order.
const (
	CategoryHostileAssets   Category = "hostile_assets"
	CategorySusContacts     Category = "sus_contacts"
	CategoryCynoCapability  Category = "cyno_capability"
	CategorySkillChanges    Category = "skill_changes"
	CategorySPRatio         Category = "sp_ratio"
	CategoryBlacklist       Category = "blacklist"
	CategorySusMail         Category = "sus_mail"
	CategorySusContracts    Category = "sus_contracts"
	CategorySusTransactions Category = "sus_transactions"
)

// CategoryKind distinguishes how a category's facts are sourced.
type CategoryKind int

const (
	// KindLevel categories get their complete current state from a collector
	// every cycle; diffing is current-vs-snapshot.
	KindLevel CategoryKind = iota + 1

	// KindStream categories are sourced from an unbounded, externally
	// numbered history. Only unclaimed items are evaluated each cycle and
	// the current state is the accumulated union of notes.
	KindStream
)

// ValueKind identifies the shape of a category's snapshot value.
type ValueKind int

const (
	ValueKindFlag ValueKind = iota + 1
	ValueKindSet
	ValueKindKeyed
	ValueKindTable
	ValueKindRatio
)

// categoryOrder is the fixed evaluation order. Change reports preserve
// this order, which is required for deterministic diff output.
var categoryOrder = []Category{
	CategoryHostileAssets,
	CategorySusContacts,
	CategoryCynoCapability,
	CategorySkillChanges,
	CategorySPRatio,
	CategoryBlacklist,
	CategorySusMail,
	CategorySusContracts,
	CategorySusTransactions,
}

var categoryInfo = map[Category]struct {
	kind  CategoryKind
	value ValueKind
}{
	CategoryHostileAssets:   {KindLevel, ValueKindKeyed},
	CategorySusContacts:     {KindLevel, ValueKindKeyed},
	CategoryCynoCapability:  {KindLevel, ValueKindTable},
	CategorySkillChanges:    {KindLevel, ValueKindTable},
	CategorySPRatio:         {KindLevel, ValueKindRatio},
	CategoryBlacklist:       {KindLevel, ValueKindSet},
	CategorySusMail:         {KindStream, ValueKindKeyed},
	CategorySusContracts:    {KindStream, ValueKindKeyed},
	CategorySusTransactions: {KindStream, ValueKindKeyed},
}

// Categories returns all categories in evaluation order.
// The returned slice is a copy; callers may mutate it freely.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryInfo[c]
	return ok
}

// Kind returns the sourcing kind of the category.
// Returns 0 for unknown categories.
func (c Category) Kind() CategoryKind {
	return categoryInfo[c].kind
}

// ValueKind returns the snapshot value shape of the category.
// Returns 0 for unknown categories.
func (c Category) ValueKind() ValueKind {
	return categoryInfo[c].value
}

var titleCaser = cases.Title(language.English)

// DisplayName renders the category for report headlines,
// e.g. "hostile_assets" -> "Hostile Assets".
func (c Category) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(string(c), "_", " "))
}
