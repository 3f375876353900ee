package fact

// EntityKind classifies an external id as a character, corporation, or
// alliance. Resolution happens once, through the collect.EntityResolver
// collaborator - never re-derived from id ranges inside the diff engine.
type EntityKind int

const (
	EntityUnknown EntityKind = iota
	EntityCharacter
	EntityCorporation
	EntityAlliance
)

// String returns the lowercase name of the kind.
func (k EntityKind) String() string {
	switch k {
	case EntityCharacter:
		return "character"
	case EntityCorporation:
		return "corporation"
	case EntityAlliance:
		return "alliance"
	default:
		return "unknown"
	}
}
