package providermap

import (
	"cmp"
	"slices"
)

// NameEntries returns every authority binding, global ones first, then by
// user and name.
func (m *Map[R]) NameEntries() []Entry[string, R] {
	entries := collect(m.globalByName, m.byNamePerUser)
	slices.SortFunc(entries, func(a, b Entry[string, R]) int {
		if c := compareScope(a.Global, a.User, b.Global, b.User); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return entries
}

// ClassEntries returns every class binding, global ones first, then by user
// and class.
func (m *Map[R]) ClassEntries() []Entry[ClassID, R] {
	entries := collect(m.globalByClass, m.byClassPerUser)
	slices.SortFunc(entries, func(a, b Entry[ClassID, R]) int {
		if c := compareScope(a.Global, a.User, b.Global, b.User); c != 0 {
			return c
		}
		return compareClass(a.Key, b.Key)
	})
	return entries
}

// Users returns every user that has a table in either index, including
// tables that have since become empty.
func (m *Map[R]) Users() []UserID {
	seen := make(map[UserID]struct{}, len(m.byNamePerUser)+len(m.byClassPerUser))
	for user := range m.byNamePerUser {
		seen[user] = struct{}{}
	}
	for user := range m.byClassPerUser {
		seen[user] = struct{}{}
	}
	users := make([]UserID, 0, len(seen))
	for user := range seen {
		users = append(users, user)
	}
	slices.Sort(users)
	return users
}

// Len returns the number of name and class bindings across all scopes.
func (m *Map[R]) Len() (names, classes int) {
	names = len(m.globalByName)
	for _, table := range m.byNamePerUser {
		names += len(table)
	}
	classes = len(m.globalByClass)
	for _, table := range m.byClassPerUser {
		classes += len(table)
	}
	return names, classes
}

func collect[K comparable, R Record](global map[K]R, perUser map[UserID]map[K]R) []Entry[K, R] {
	entries := make([]Entry[K, R], 0, len(global))
	for key, r := range global {
		entries = append(entries, Entry[K, R]{Key: key, Global: true, Record: r})
	}
	for user, table := range perUser {
		for key, r := range table {
			entries = append(entries, Entry[K, R]{Key: key, User: user, Record: r})
		}
	}
	return entries
}

func compareScope(aGlobal bool, aUser UserID, bGlobal bool, bUser UserID) int {
	switch {
	case aGlobal && !bGlobal:
		return -1
	case !aGlobal && bGlobal:
		return 1
	case aGlobal && bGlobal:
		return 0
	}
	return cmp.Compare(aUser, bUser)
}
