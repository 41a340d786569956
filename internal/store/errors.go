package store

import "github.com/tyouritsugun/curated-heuristic-loop/internal/kberrors"

func transientStoreError(cause error) error {
	return kberrors.TransientStoreError(cause)
}
