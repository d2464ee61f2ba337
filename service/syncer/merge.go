package syncer

import (
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/samber/lo"
)

func operationID(op osmosis.Operation) string {
	return op.ID
}

// Merge folds a page of operations into an existing history.
//
// Operations are identified by ID. The first occurrence wins and keeps its position;
// unseen operations are appended in page order. Merging the same page twice yields
// the same history as merging it once. Neither input is modified.
//
// It returns the merged history and the operations that were newly added.
func Merge(existing, page []osmosis.Operation) ([]osmosis.Operation, []osmosis.Operation) {
	base := lo.UniqBy(existing, operationID)
	seen := lo.SliceToMap(base, func(op osmosis.Operation) (string, struct{}) {
		return op.ID, struct{}{}
	})

	added := lo.UniqBy(
		lo.Filter(page, func(op osmosis.Operation, _ int) bool {
			_, known := seen[op.ID]
			return !known
		}),
		operationID,
	)

	merged := make([]osmosis.Operation, 0, len(base)+len(added))
	merged = append(merged, base...)
	merged = append(merged, added...)
	return merged, added
}
