package providermap

import (
	"fmt"
	"io"
	"strings"
)

// UserID identifies a user partition.
type UserID int

const (
	// CurrentUser asks the map to resolve the user through its CallerFunc.
	// Any negative UserID is treated the same way.
	CurrentUser UserID = -1

	// UserOwner is the primary user, used when no CallerFunc is configured.
	UserOwner UserID = 0
)

// CallerFunc resolves the user of the current caller. It is supplied by the
// host environment.
type CallerFunc func() UserID

// Identity classifies owner uids. System identities live in the global
// tables; everything else lives in the table of UserOf(uid).
type Identity interface {
	IsSystem(uid int) bool
	UserOf(uid int) UserID
}

// ClassID names a provider implementation class inside a package.
type ClassID struct {
	Package string
	Class   string
}

// String returns the flattened "package/class" form.
func (c ClassID) String() string {
	return c.Package + "/" + c.Class
}

// ShortString returns "package/.Class" when the class lives inside the
// package, and the flattened form otherwise.
func (c ClassID) ShortString() string {
	if strings.HasPrefix(c.Class, c.Package) && len(c.Class) > len(c.Package) && c.Class[len(c.Package)] == '.' {
		return c.Package + "/" + c.Class[len(c.Package):]
	}
	return c.String()
}

// IsZero reports whether c has neither package nor class.
func (c ClassID) IsZero() bool {
	return c.Package == "" && c.Class == ""
}

// ParseClassID parses either the flattened or the short form.
// "com.example/.Provider" expands to class "com.example.Provider".
func ParseClassID(s string) (ClassID, error) {
	pkg, cls, ok := strings.Cut(s, "/")
	if !ok || pkg == "" || cls == "" {
		return ClassID{}, fmt.Errorf("invalid class id %q: expected package/class", s)
	}
	if cls[0] == '.' {
		if len(cls) == 1 {
			return ClassID{}, fmt.Errorf("invalid class id %q: empty class name", s)
		}
		cls = pkg + cls
	}
	return ClassID{Package: pkg, Class: cls}, nil
}

// Record is a published provider as seen by the map. The map only reads the
// owner uid and the names used for diagnostics.
type Record interface {
	UID() int
	ClassName() ClassID
	String() string
}

// DetailDumper is implemented by records that can print a detailed
// description for Dump with all set.
type DetailDumper interface {
	DumpDetails(w io.Writer, prefix string) error
}

// Entry is one binding in either index.
type Entry[K comparable, R Record] struct {
	Key    K
	Global bool
	User   UserID // meaningful only when Global is false
	Record R
}
