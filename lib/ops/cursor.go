package ops

import (
	"context"

	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Range Cursor
// --------------------------------------------------------------------------

// DefaultLimit is the page size used when a scan has no (or a negative) limit.
const DefaultLimit = 1000

// ScanRequest describes one page of a range scan. The cursor is stateless:
// the next page is requested with the same definition and the returned Offset.
type ScanRequest struct {
	Start, End any      // key range [Start, End), nil is open
	Limit      int      // max items, negative = DefaultLimit, 0 = no items (Done only)
	Offset     int      // raw positions to skip
	Version    *uint64  // only entries with exactly this version
	Versions   bool     // include versions in the items
	KeyMatch   any      // partial key pattern
	ValueMatch any      // partial value pattern
	Select     []string // top-level fields to project from object values
}

// Item is a scan result entry. Version is nil when versions are not requested.
type Item struct {
	Key     any     `json:"key"`
	Value   any     `json:"value"`
	Version *uint64 `json:"version,omitempty"`
}

// ScanResult is one page. Offset is nil once Done is set.
type ScanResult struct {
	Items  []Item
	Offset *int
	Done   bool
}

// Scan reads one page of a range.
//
// Offset counts raw iterator positions (tombstones and filtered entries
// included), so resuming is exact whatever the filters are. After the page
// is full one more position is read ahead: Done is only set when the range is
// exhausted.
func Scan(ctx context.Context, s store.IStore, req ScanRequest) (*ScanResult, error) {
	limit := req.Limit
	if limit < 0 {
		limit = DefaultLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	keyMatch, err := NewMatcher(req.KeyMatch)
	if err != nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "keyMatch: %v", err)
	}
	valueMatch, err := NewMatcher(req.ValueMatch)
	if err != nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "valueMatch: %v", err)
	}
	withVersions := req.Versions || req.Version != nil

	result := &ScanResult{Items: []Item{}}
	err = s.View(ctx, func(txn store.Txn) error {
		it, err := txn.Iterate(req.Start, req.End, offset)
		if err != nil {
			return err
		}
		defer it.Close()

		for len(result.Items) < limit {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !it.Next() {
				if err := it.Err(); err != nil {
					return err
				}
				result.Done = true
				break
			}
			offset++

			e := it.Entry()
			if !e.Present() ||
				(req.Version != nil && e.Version != *req.Version) ||
				!keyMatch.Match(e.Key) ||
				!valueMatch.Match(e.Value) {
				continue
			}

			item := Item{Key: e.Key, Value: Select(e.Value, req.Select)}
			if withVersions {
				v := e.Version
				item.Version = &v
			}
			result.Items = append(result.Items, item)
		}

		if !result.Done {
			// look one position past the page
			if !it.Next() {
				if err := it.Err(); err != nil {
					return err
				}
				result.Done = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Done {
		result.Offset = &offset
	}
	return result, nil
}
