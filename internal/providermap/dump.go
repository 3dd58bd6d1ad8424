package providermap

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
)

// dumpWriter remembers the first write error so the dump code can stay
// linear.
type dumpWriter struct {
	w   io.Writer
	err error
}

func (d *dumpWriter) printf(format string, args ...any) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format, args...)
}

// Dump writes a human-readable listing of the map. With all set it prints
// detailed records and the authority mappings as well. Dump does not
// change the map.
func (m *Map[R]) Dump(w io.Writer, all bool) error {
	d := &dumpWriter{w: w}

	if len(m.globalByClass) > 0 {
		d.printf("  Published content providers (by class):\n")
		dumpByClass(d, all, m.globalByClass)
		d.printf(" \n")
	}

	classUsers := populated(m.byClassPerUser)
	if len(classUsers) > 1 {
		for _, user := range classUsers {
			d.printf("  User %d:\n", user)
			dumpByClass(d, all, m.byClassPerUser[user])
			d.printf(" \n")
		}
	} else if len(classUsers) == 1 {
		dumpByClass(d, all, m.byClassPerUser[classUsers[0]])
	}

	if all {
		d.printf(" \n")
		d.printf("  Authority to provider mappings:\n")
		dumpByName(d, m.globalByName)

		nameUsers := populated(m.byNamePerUser)
		for _, user := range nameUsers {
			if len(nameUsers) > 1 {
				d.printf("  User %d:\n", user)
			}
			dumpByName(d, m.byNamePerUser[user])
		}
	}
	return d.err
}

func dumpByClass[R Record](d *dumpWriter, all bool, table map[ClassID]R) {
	keys := slices.SortedFunc(maps.Keys(table), compareClass)
	for _, cls := range keys {
		r := table[cls]
		if !all {
			d.printf("  * %s\n", r.ClassName().ShortString())
			continue
		}
		d.printf("  * %s\n", r)
		if dd, ok := any(r).(DetailDumper); ok && d.err == nil {
			d.err = dd.DumpDetails(d.w, "    ")
		}
	}
}

func dumpByName[R Record](d *dumpWriter, table map[string]R) {
	for _, name := range slices.Sorted(maps.Keys(table)) {
		d.printf("  %s: %s\n", name, table[name])
	}
}

// populated returns the users whose table is non-empty, in ascending order.
func populated[K comparable, R any](tables map[UserID]map[K]R) []UserID {
	var users []UserID
	for user, table := range tables {
		if len(table) > 0 {
			users = append(users, user)
		}
	}
	slices.Sort(users)
	return users
}

func compareClass(a, b ClassID) int {
	if c := cmp.Compare(a.Package, b.Package); c != 0 {
		return c
	}
	return cmp.Compare(a.Class, b.Class)
}
