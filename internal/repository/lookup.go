package repository

import (
	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/id"
)

// Resolve finds the single full id matching ref (which may be a full id or
// an 8-char short id) among ids. It returns apierr.KindEntityNotFound when
// nothing matches and apierr.KindAmbiguousID when more than one does.
func Resolve(kind string, ref string, ids []string) (string, error) {
	if id.IsFull(ref) {
		for _, full := range ids {
			if full == ref {
				return full, nil
			}
		}
		return "", apierr.EntityNotFound(kind, ref)
	}

	var matches []string
	for _, full := range ids {
		if id.Matches(full, ref) {
			matches = append(matches, full)
		}
	}
	switch len(matches) {
	case 0:
		return "", apierr.EntityNotFound(kind, ref)
	case 1:
		return matches[0], nil
	default:
		return "", apierr.AmbiguousID(kind, ref, matches)
	}
}
