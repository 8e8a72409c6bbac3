package shared

import (
	"context"
	"sort"
)

// Collection names a persisted collection a command may touch.
type Collection string

const (
	CollectionProducts         Collection = "products"
	CollectionPriceHistory     Collection = "price_history"
	CollectionMovements        Collection = "movements"
	CollectionInvoices         Collection = "invoices"
	CollectionPools            Collection = "pools"
	CollectionUnionDifferences Collection = "union_differences"
	CollectionOverdraws        Collection = "overdraws"
	CollectionBalances         Collection = "balances"
	CollectionTransfers        Collection = "transfers"
	CollectionUsers            Collection = "users"
)

// ChangeSet lists the collections a mutating command changed, sorted and without duplicates.
type ChangeSet []Collection

// Changes builds a normalised ChangeSet.
func Changes(collections ...Collection) ChangeSet {
	seen := make(map[Collection]struct{}, len(collections))
	out := make(ChangeSet, 0, len(collections))
	for _, c := range collections {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Merge returns the union of two change sets.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	all := make([]Collection, 0, len(c)+len(other))
	all = append(all, c...)
	all = append(all, other...)
	return Changes(all...)
}

// Has reports whether the set contains collection.
func (c ChangeSet) Has(collection Collection) bool {
	for _, item := range c {
		if item == collection {
			return true
		}
	}
	return false
}

// ChangeNotifier is told which collections a committed command changed.
type ChangeNotifier interface {
	Invalidate(ctx context.Context, changed ChangeSet) error
}
