package storage

import "errors"

var (
	// ErrGroupNotFound is returned by group-scoped operations whose id
	// does not match any row.
	ErrGroupNotFound = errors.New("storage: group not found")
	// ErrMemberNotFound is returned by member/face operations whose
	// person_id does not match any row.
	ErrMemberNotFound = errors.New("storage: member not found")
)
