// Package source acquires markdown documents from a local directory or an
// FTP server. Both traverse iteratively and in a deterministic order, and
// both report failures as *types.AcquisitionError.
//
// By default a local walk skips unreadable files while an FTP walk aborts
// on the first failed file; the ItemErrorPolicy overrides either.
package source
