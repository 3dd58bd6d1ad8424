package providermap

import (
	"github.com/zjrosen/provmap/internal/log"
)

// Map is the dual-index, user-partitioned provider registry.
type Map[R Record] struct {
	identity Identity
	caller   CallerFunc

	globalByName  map[string]R
	globalByClass map[ClassID]R

	byNamePerUser  map[UserID]map[string]R
	byClassPerUser map[UserID]map[ClassID]R
}

// New creates an empty Map. identity decides the scope of inserted records
// and caller resolves CurrentUser; a nil caller resolves to UserOwner.
func New[R Record](identity Identity, caller CallerFunc) *Map[R] {
	if identity == nil {
		panic("providermap: nil Identity")
	}
	return &Map[R]{
		identity:       identity,
		caller:         caller,
		globalByName:   make(map[string]R),
		globalByClass:  make(map[ClassID]R),
		byNamePerUser:  make(map[UserID]map[string]R),
		byClassPerUser: make(map[UserID]map[ClassID]R),
	}
}

// ProviderByName returns the provider published under the authority name.
// Global providers shadow per-user ones regardless of user.
func (m *Map[R]) ProviderByName(name string, user UserID) (R, bool) {
	if r, ok := m.globalByName[name]; ok {
		return r, true
	}
	return lookup(m.byNamePerUser, m.resolve(user), name)
}

// ProviderByClass returns the provider published under the class.
// Global providers shadow per-user ones regardless of user.
func (m *Map[R]) ProviderByClass(cls ClassID, user UserID) (R, bool) {
	if r, ok := m.globalByClass[cls]; ok {
		return r, true
	}
	return lookup(m.byClassPerUser, m.resolve(user), cls)
}

// PutByName binds name to r in the scope of r's owner, replacing any
// binding at that scope. Bindings in other scopes are left alone.
func (m *Map[R]) PutByName(name string, r R) {
	uid := r.UID()
	if m.identity.IsSystem(uid) {
		log.Debug(log.CatRegistry, "put global by name", "name", name, "uid", uid)
		m.globalByName[name] = r
		return
	}
	user := m.identity.UserOf(uid)
	log.Debug(log.CatRegistry, "put by name", "name", name, "uid", uid, "user", user)
	tableFor(m.byNamePerUser, user)[name] = r
}

// PutByClass binds cls to r in the scope of r's owner.
func (m *Map[R]) PutByClass(cls ClassID, r R) {
	uid := r.UID()
	if m.identity.IsSystem(uid) {
		log.Debug(log.CatRegistry, "put global by class", "class", cls, "uid", uid)
		m.globalByClass[cls] = r
		return
	}
	user := m.identity.UserOf(uid)
	log.Debug(log.CatRegistry, "put by class", "class", cls, "uid", uid, "user", user)
	tableFor(m.byClassPerUser, user)[cls] = r
}

// RemoveByName drops the binding for name. A global binding is removed and
// the per-user tables are not consulted. Removing an absent name is a no-op.
// The removed record, if any, is returned.
func (m *Map[R]) RemoveByName(name string, user UserID) (R, bool) {
	if r, ok := m.globalByName[name]; ok {
		log.Debug(log.CatRegistry, "remove global by name", "name", name)
		delete(m.globalByName, name)
		return r, true
	}
	user = m.resolve(user)
	log.Debug(log.CatRegistry, "remove by name", "name", name, "user", user)
	return remove(m.byNamePerUser, user, name)
}

// RemoveByClass drops the binding for cls, mirroring RemoveByName.
func (m *Map[R]) RemoveByClass(cls ClassID, user UserID) (R, bool) {
	if r, ok := m.globalByClass[cls]; ok {
		log.Debug(log.CatRegistry, "remove global by class", "class", cls)
		delete(m.globalByClass, cls)
		return r, true
	}
	user = m.resolve(user)
	log.Debug(log.CatRegistry, "remove by class", "class", cls, "user", user)
	return remove(m.byClassPerUser, user, cls)
}

// Resolve returns the user that user stands for, consulting the caller
// for CurrentUser.
func (m *Map[R]) Resolve(user UserID) UserID {
	return m.resolve(user)
}

// ScopeOf reports where r would be stored: global, or the table of the
// returned user.
func (m *Map[R]) ScopeOf(r R) (user UserID, global bool) {
	uid := r.UID()
	if m.identity.IsSystem(uid) {
		return 0, true
	}
	return m.identity.UserOf(uid), false
}

func (m *Map[R]) resolve(user UserID) UserID {
	if user >= 0 {
		return user
	}
	if m.caller == nil {
		return UserOwner
	}
	return m.caller()
}

func lookup[K comparable, R any](tables map[UserID]map[K]R, user UserID, key K) (R, bool) {
	r, ok := tables[user][key]
	return r, ok
}

func remove[K comparable, R any](tables map[UserID]map[K]R, user UserID, key K) (R, bool) {
	table := tables[user]
	r, ok := table[key]
	if ok {
		delete(table, key)
	}
	return r, ok
}

// tableFor returns the user's table, creating it on first use.
func tableFor[K comparable, R any](tables map[UserID]map[K]R, user UserID) map[K]R {
	table, ok := tables[user]
	if !ok {
		table = make(map[K]R)
		tables[user] = table
	}
	return table
}
