// Package gallery keeps a local, renderable view of blobs held by a remote
// storage service and coordinates uploads and deletes against it.
//
// Every cached entry owns one Handle: a short-lived reference a renderer
// loads by URI. Handles are allocated by a Registry and released when the
// entry leaves the cache, so nothing leaks across refreshes.
//
// Basic usage:
//
//	g, _ := gallery.Open(ctx, "file:///var/lib/gallery")
//	defer g.Close()
//
//	// Load and render
//	entries, _ := g.ListEntries(ctx)
//	for _, e := range entries {
//	    fmt.Println(e.Filename, e.Handle.URI())
//	}
//
//	// Upload with progress (25, then 100)
//	id, err := g.UploadFile(ctx, data, "cat.png", "image/png", func(p int) {
//	    fmt.Printf("%d%%\n", p)
//	})
//	if errors.Is(err, gallery.ErrValidation) { ... }
//
//	// Delete
//	err = g.DeleteEntry(ctx, id)
//	if errors.Is(err, gallery.ErrDeleteRejected) { ... }
//
//	// Watch state changes
//	states, cancel := g.Subscribe()
//	defer cancel()
//	for s := range states {
//	    fmt.Println(s.Status, len(s.Entries))
//	}
//
// Stores:
//
//	gallery.Open(ctx, "/path/to/dir")                       // local directory
//	gallery.Open(ctx, "redis://localhost:6379/0?prefix=photos")
//	gallery.Open(ctx, "s3://bucket/prefix?region=eu-west-1")
//	gallery.Open(ctx, "oci://ghcr.io/acme/gallery")
//
// A service that is reachable but lacks part of the storage contract fails
// with ErrServiceNotDeployed (see Discover). Transport failures are retried
// and then surface as ErrUnavailable.
package gallery
