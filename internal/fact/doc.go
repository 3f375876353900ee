// Package fact provides the typed fact-category and snapshot types for vigil.
//
// This package contains type definitions and canonical serialization only.
// All other internal packages import fact; fact imports nothing internal.
// This keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Each category's snapshot record is a tagged union (kind-discriminated),
//     not an ad-hoc JSON blob. Adding a category means adding an enum value,
//     never inventing a key-naming convention.
//   - Canonical serialization sorts all map keys and disables HTML escaping,
//     so equal snapshots marshal byte-identically.
//   - All JSON tags use snake_case.
package fact
