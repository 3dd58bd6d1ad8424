// Package providermap keeps track of published content providers by
// authority (name) and by class. It separates the mappings by user and
// keeps providers owned by system identities in global tables that are
// not tied to any user.
//
// A Map does no locking of its own. Every method must be called while the
// owner holds the single lock that guards the whole map, so that a lookup
// followed by an insert can be chained as one atomic unit. Lookups never
// mutate the map; per-user tables are only created by inserts.
//
// The name and class indices are independent. Inserting a record by name
// does not make it reachable by class and vice versa. NameEntries and
// ClassEntries expose both indices so that an outside checker can detect
// when they diverge.
package providermap
