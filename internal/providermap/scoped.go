package providermap

// The accessors below address one scope directly instead of resolving
// global-first. They serve collaborators that walk NameEntries or
// ClassEntries and need to act on exactly the binding they saw.

// NameAt returns the binding of name in the given scope.
func (m *Map[R]) NameAt(name string, global bool, user UserID) (R, bool) {
	if global {
		r, ok := m.globalByName[name]
		return r, ok
	}
	return lookup(m.byNamePerUser, user, name)
}

// ClassAt returns the binding of cls in the given scope.
func (m *Map[R]) ClassAt(cls ClassID, global bool, user UserID) (R, bool) {
	if global {
		r, ok := m.globalByClass[cls]
		return r, ok
	}
	return lookup(m.byClassPerUser, user, cls)
}

// DropName removes the binding of name in the given scope only.
func (m *Map[R]) DropName(name string, global bool, user UserID) (R, bool) {
	if global {
		r, ok := m.globalByName[name]
		if ok {
			delete(m.globalByName, name)
		}
		return r, ok
	}
	return remove(m.byNamePerUser, user, name)
}

// DropClass removes the binding of cls in the given scope only.
func (m *Map[R]) DropClass(cls ClassID, global bool, user UserID) (R, bool) {
	if global {
		r, ok := m.globalByClass[cls]
		if ok {
			delete(m.globalByClass, cls)
		}
		return r, ok
	}
	return remove(m.byClassPerUser, user, cls)
}
