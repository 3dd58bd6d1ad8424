package testutil

// WithStandardProviders adds a small mixed dataset:
//
//	contacts        uid 1000    global, "contacts;com.android.contacts"
//	photos (user 0) uid 10050   "photos"
//	photos (user 1) uid 110050  "photos"
//	media  (user 1) uid 110070  "media;audio", multiprocess
func (b *Builder) WithStandardProviders() *Builder {
	return b.
		WithProvider("com.android.contacts/.ContactsProvider", 1000,
			Authorities("contacts", "com.android.contacts"), Process("android.process.acore")).
		WithProvider("com.example.photos/.PhotosProvider", 10050, Authorities("photos")).
		WithProvider("com.example.photos/.PhotosProvider", 110050, Authorities("photos")).
		WithProvider("com.example.media/.MediaProvider", 110070,
			Authorities("media", "audio"), Multiprocess())
}

// WithShadowedProviders adds a user provider and a global provider that
// both claim "notes"; the global one shadows the other for every user.
func (b *Builder) WithShadowedProviders() *Builder {
	return b.
		WithProvider("com.example.notes/.NotesProvider", 10020, Authorities("notes")).
		WithProvider("com.android.notes/.NotesProvider", 1000, Authorities("notes"))
}
