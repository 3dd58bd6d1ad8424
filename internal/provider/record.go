// Package provider defines the published content-provider record that the
// manager stores in the provider map.
package provider

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/provmap/internal/providermap"
)

// ErrInvalidRecord is returned when a record cannot be published.
var ErrInvalidRecord = errors.New("invalid provider record")

// AuthoritySeparator separates authorities in their flattened form.
const AuthoritySeparator = ";"

// Record is a published content provider.
type Record struct {
	ID           string
	Class        providermap.ClassID
	Authorities  []string
	OwnerUID     int
	Process      string
	Multiprocess bool
	PublishedAt  time.Time
}

var (
	_ providermap.Record       = (*Record)(nil)
	_ providermap.DetailDumper = (*Record)(nil)
)

// Spec describes a provider about to be published.
type Spec struct {
	Class        providermap.ClassID
	Authorities  []string
	UID          int
	Process      string
	Multiprocess bool
}

// New validates spec and returns a record with a fresh ID.
func New(spec Spec) (*Record, error) {
	cls, err := canonicalClass(spec.Class)
	if err != nil {
		return nil, err
	}
	if spec.UID < 0 {
		return nil, fmt.Errorf("%w: uid must not be negative, got %d", ErrInvalidRecord, spec.UID)
	}
	authorities := make([]string, 0, len(spec.Authorities))
	seen := make(map[string]struct{}, len(spec.Authorities))
	for _, a := range spec.Authorities {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.Contains(a, AuthoritySeparator) {
			return nil, fmt.Errorf("%w: authority %q contains %q", ErrInvalidRecord, a, AuthoritySeparator)
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		authorities = append(authorities, a)
	}
	process := spec.Process
	if process == "" {
		process = cls.Package
	}
	return &Record{
		ID:           uuid.New().String(),
		Class:        cls,
		Authorities:  authorities,
		OwnerUID:     spec.UID,
		Process:      process,
		Multiprocess: spec.Multiprocess,
		PublishedAt:  time.Now(),
	}, nil
}

// canonicalClass returns cls in the form ClassID.String and
// providermap.ParseClassID agree on: a leading "." in the class is expanded
// with the package, and the package may neither contain "/" nor start
// with ".".
func canonicalClass(cls providermap.ClassID) (providermap.ClassID, error) {
	if cls.Package == "" || cls.Class == "" {
		return cls, fmt.Errorf("%w: class must name a package and a class", ErrInvalidRecord)
	}
	if strings.Contains(cls.Package, "/") {
		return cls, fmt.Errorf("%w: package %q contains \"/\"", ErrInvalidRecord, cls.Package)
	}
	if strings.HasPrefix(cls.Package, ".") {
		return cls, fmt.Errorf("%w: package %q starts with \".\"", ErrInvalidRecord, cls.Package)
	}
	if strings.HasPrefix(cls.Class, ".") {
		if cls.Class == "." {
			return cls, fmt.Errorf("%w: empty class name in package %s", ErrInvalidRecord, cls.Package)
		}
		cls.Class = cls.Package + cls.Class
	}
	return cls, nil
}

// ParseAuthorities splits the flattened "a;b;c" form.
func ParseAuthorities(s string) []string {
	var out []string
	for _, a := range strings.Split(s, AuthoritySeparator) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// UID returns the owner uid.
func (r *Record) UID() int { return r.OwnerUID }

// ClassName returns the provider class.
func (r *Record) ClassName() providermap.ClassID { return r.Class }

// HasAuthority reports whether the record serves authority.
func (r *Record) HasAuthority(authority string) bool {
	for _, a := range r.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// String returns a one-line description including a short ID.
func (r *Record) String() string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("ContentProviderRecord{%s %s}", id, r.Class.ShortString())
}

// DumpDetails writes the record fields, one per line, after prefix.
func (r *Record) DumpDetails(w io.Writer, prefix string) error {
	_, err := fmt.Fprintf(w,
		"%spackage=%s process=%s\n"+
			"%suid=%d multiprocess=%t\n"+
			"%sauthority=%s\n"+
			"%spublished=%s\n",
		prefix, r.Class.Package, r.Process,
		prefix, r.OwnerUID, r.Multiprocess,
		prefix, strings.Join(r.Authorities, AuthoritySeparator),
		prefix, r.PublishedAt.Format(time.RFC3339),
	)
	return err
}
