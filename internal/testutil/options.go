package testutil

import (
	"time"

	"github.com/zjrosen/provmap/internal/provider"
)

// providerData holds everything needed to publish one provider.
type providerData struct {
	spec        provider.Spec
	publishedAt time.Time
}

// ProviderOption configures a provider added to a Builder.
type ProviderOption func(*providerData)

// Authorities sets the authorities the provider serves.
func Authorities(authorities ...string) ProviderOption {
	return func(p *providerData) { p.spec.Authorities = authorities }
}

// Process sets the hosting process.
func Process(process string) ProviderOption {
	return func(p *providerData) { p.spec.Process = process }
}

// Multiprocess marks the provider as multiprocess.
func Multiprocess() ProviderOption {
	return func(p *providerData) { p.spec.Multiprocess = true }
}

// PublishedAt overrides the publication time.
func PublishedAt(t time.Time) ProviderOption {
	return func(p *providerData) { p.publishedAt = t }
}
