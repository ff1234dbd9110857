//go:build !unix

package storage

import "os"

// Without flock only the in-process mutex applies.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }
