package manager

import (
	"fmt"

	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
)

// Divergence is a binding whose name and class indices disagree.
type Divergence struct {
	Kind     provider.BindingKind
	Key      string
	Global   bool
	User     providermap.UserID
	RecordID string
	Problem  string
}

func (d Divergence) String() string {
	scope := "global"
	if !d.Global {
		scope = fmt.Sprintf("user %d", d.User)
	}
	return fmt.Sprintf("%s %q (%s): %s", d.Kind, d.Key, scope, d.Problem)
}

// Check walks both indices and reports bindings that do not agree with
// each other: a class whose authorities resolve elsewhere, or an
// authority whose record is not reachable by class in the same scope.
// Divergence is legal; Check only makes it visible.
func (m *Manager) Check() []Divergence {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Divergence
	for _, e := range m.providers.ClassEntries() {
		rec := e.Record
		d := Divergence{Kind: provider.KindClass, Key: e.Key.ShortString(), Global: e.Global, User: e.User, RecordID: rec.ID}
		if rec.Class != e.Key {
			d.Problem = fmt.Sprintf("bound to record of class %s", rec.Class.ShortString())
			out = append(out, d)
		}
		for _, a := range rec.Authorities {
			cur, ok := m.providers.NameAt(a, e.Global, e.User)
			switch {
			case !ok:
				d.Problem = fmt.Sprintf("authority %q is not bound", a)
				out = append(out, d)
			case cur != rec:
				d.Problem = fmt.Sprintf("authority %q is bound to %s", a, cur)
				out = append(out, d)
			}
		}
	}
	for _, e := range m.providers.NameEntries() {
		rec := e.Record
		d := Divergence{Kind: provider.KindAuthority, Key: e.Key, Global: e.Global, User: e.User, RecordID: rec.ID}
		if !rec.HasAuthority(e.Key) {
			d.Problem = fmt.Sprintf("record %s does not serve this authority", rec)
			out = append(out, d)
		}
		cur, ok := m.providers.ClassAt(rec.Class, e.Global, e.User)
		switch {
		case !ok:
			d.Problem = fmt.Sprintf("class %s is not bound", rec.Class.ShortString())
			out = append(out, d)
		case cur != rec:
			d.Problem = fmt.Sprintf("class %s is bound to %s", rec.Class.ShortString(), cur)
			out = append(out, d)
		}
	}
	return out
}
