package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provmap/internal/providermap"
)

func TestUIDPolicy_IsSystem(t *testing.T) {
	p := Default()

	tests := []struct {
		uid    int
		system bool
	}{
		{0, true},
		{1000, true},
		{9999, true},
		{10000, false},
		{10050, false},
		{100050, false},
		{110050, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.system, p.IsSystem(tt.uid), "uid %d", tt.uid)
	}
}

func TestUIDPolicy_UserOf(t *testing.T) {
	p := Default()

	require.Equal(t, providermap.UserID(0), p.UserOf(10050))
	require.Equal(t, providermap.UserID(1), p.UserOf(110050))
	require.Equal(t, providermap.UserID(10), p.UserOf(1010050))
}

func TestUIDPolicy_UIDRoundTrip(t *testing.T) {
	p := Default()

	uid := p.UID(3, 10050)
	require.Equal(t, 310050, uid)
	require.Equal(t, providermap.UserID(3), p.UserOf(uid))
	require.False(t, p.IsSystem(uid))
	require.Equal(t, 3*DefaultPerUserRange+10050, p.UID(3, 3*DefaultPerUserRange+10050), "user part of appID is ignored")
}

func TestUIDPolicy_Validate(t *testing.T) {
	require.NoError(t, Default().Validate())

	err := UIDPolicy{FirstApplicationUID: 10000, PerUserRange: 0}.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "per_user_range")

	err = UIDPolicy{FirstApplicationUID: -1, PerUserRange: 100}.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "first_application_uid")

	err = UIDPolicy{FirstApplicationUID: 200, PerUserRange: 100}.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be below")
}

func TestFixed(t *testing.T) {
	caller := Fixed(7)
	require.Equal(t, providermap.UserID(7), caller())
}
