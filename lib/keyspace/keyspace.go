// Package keyspace validates caller-supplied identifiers that are used as
// storage path components.
package keyspace

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrUnsafeKey = errors.New("key is not a safe path component")

// Validate checks that key can be used as a single path component without
// escaping its storage namespace.
func Validate(key string) error {
	if key == "" || key == "." || key == ".." {
		return ErrUnsafeKey
	}

	if strings.ContainsAny(key, "/\\\x00") {
		return ErrUnsafeKey
	}

	if filepath.Base(key) != key {
		return ErrUnsafeKey
	}

	return nil
}
