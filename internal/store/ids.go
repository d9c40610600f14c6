package store

import (
	"errors"
	"sort"

	"budget/internal/core"

	"github.com/oklog/ulid/v2"
)

// NewID returns a fresh lexicographically sortable identifier. IDs minted by
// one process increase monotonically, so they also order records created
// within the same millisecond.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id has the shape NewID produces.
func ValidID(id string) error {
	if id == "" {
		return errors.New("empty id")
	}
	_, err := ulid.ParseStrict(id)
	return err
}

// SortNewestFirst orders records by CreatedAt descending, then ID descending.
func SortNewestFirst(items []core.Transaction) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}
