package sqlite

import (
	"strings"
	"time"

	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
)

// RecordModel represents the database row for the records table.
// Fields map directly to SQL columns with Unix timestamps for time values.
type RecordModel struct {
	ID           string
	Package      string
	Class        string
	Authorities  string // joined with provider.AuthoritySeparator
	UID          int64
	Process      string
	Multiprocess bool
	PublishedAt  int64 // Unix timestamp
}

// BindingModel represents the database row for the bindings table.
type BindingModel struct {
	Kind     string
	Key      string
	Global   bool
	UserID   int64 // 0 when Global
	RecordID string
}

// toRecordModel converts a domain Record to a database RecordModel.
func toRecordModel(r *provider.Record) *RecordModel {
	return &RecordModel{
		ID:           r.ID,
		Package:      r.Class.Package,
		Class:        r.Class.Class,
		Authorities:  strings.Join(r.Authorities, provider.AuthoritySeparator),
		UID:          int64(r.OwnerUID),
		Process:      r.Process,
		Multiprocess: r.Multiprocess,
		PublishedAt:  r.PublishedAt.Unix(),
	}
}

// toDomain converts a RecordModel back to a domain Record.
func (m *RecordModel) toDomain() *provider.Record {
	return &provider.Record{
		ID:           m.ID,
		Class:        providermap.ClassID{Package: m.Package, Class: m.Class},
		Authorities:  provider.ParseAuthorities(m.Authorities),
		OwnerUID:     int(m.UID),
		Process:      m.Process,
		Multiprocess: m.Multiprocess,
		PublishedAt:  time.Unix(m.PublishedAt, 0),
	}
}

func toBindingModel(b provider.Binding) *BindingModel {
	m := &BindingModel{
		Kind:     string(b.Kind),
		Key:      b.Key,
		Global:   b.Global,
		RecordID: b.RecordID,
	}
	if !b.Global {
		m.UserID = int64(b.User)
	}
	return m
}

func (m *BindingModel) toDomain() provider.Binding {
	return provider.Binding{
		Kind:     provider.BindingKind(m.Kind),
		Key:      m.Key,
		Global:   m.Global,
		User:     providermap.UserID(m.UserID),
		RecordID: m.RecordID,
	}
}
