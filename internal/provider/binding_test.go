package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provmap/internal/providermap"
)

func TestClassBinding_CarriesClass(t *testing.T) {
	cls := providermap.ClassID{Package: "com/example", Class: "Provider"}
	b := ClassBinding(cls, false, 2, "rec")

	require.Equal(t, KindClass, b.Kind)
	require.Equal(t, "com/example/Provider", b.Key)
	require.Equal(t, cls, b.Class)
	require.Equal(t, providermap.UserID(2), b.User)
}

func TestBinding_SameScope(t *testing.T) {
	global := AuthorityBinding("contacts", true, 7, "rec")
	require.Equal(t, providermap.UserID(0), global.User, "user is cleared for global bindings")
	require.True(t, global.SameScope(true, 0))
	require.False(t, global.SameScope(false, 0))

	user1 := AuthorityBinding("photos", false, 1, "rec")
	require.True(t, user1.SameScope(false, 1))
	require.False(t, user1.SameScope(false, 0))
	require.False(t, user1.SameScope(true, 0))
}
