package provider

import "github.com/zjrosen/provmap/internal/providermap"

// BindingKind names the index a binding lives in.
type BindingKind string

const (
	KindAuthority BindingKind = "authority"
	KindClass     BindingKind = "class"
)

// Binding is one persisted entry of the provider map: a key in either
// index, its scope, and the record it points to.
type Binding struct {
	Kind BindingKind
	// Key is the authority, or the flattened class for KindClass.
	Key string
	// Class is the map key of a KindClass binding. It is not persisted;
	// bindings read back from a store carry only Key.
	Class    providermap.ClassID
	Global   bool
	User     providermap.UserID // ignored when Global
	RecordID string
}

// ClassBinding returns the binding of cls to recordID in the given scope.
func ClassBinding(cls providermap.ClassID, global bool, user providermap.UserID, recordID string) Binding {
	if global {
		user = 0
	}
	return Binding{Kind: KindClass, Key: cls.String(), Class: cls, Global: global, User: user, RecordID: recordID}
}

// AuthorityBinding returns the binding of authority to recordID in the
// given scope.
func AuthorityBinding(authority string, global bool, user providermap.UserID, recordID string) Binding {
	if global {
		user = 0
	}
	return Binding{Kind: KindAuthority, Key: authority, Global: global, User: user, RecordID: recordID}
}

// SameScope reports whether b lives in the given scope.
func (b Binding) SameScope(global bool, user providermap.UserID) bool {
	if b.Global || global {
		return b.Global == global
	}
	return b.User == user
}
