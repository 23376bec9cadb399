package storage

import (
	"sort"
	"time"
)

// SortOrder selects ascending or descending sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryOptions shapes a Query call. All fields are optional.
//
// SortKey is a typed accessor extracting the numeric sort key from a record;
// it replaces dotted attribute-path traversal while keeping the
// compare-by-extracted-field contract.
type QueryOptions[V any] struct {
	Filter    func(Record[V]) bool
	SortKey   func(Record[V]) float64
	SortOrder SortOrder // SortAsc when empty.
	Limit     int       // 0 means no limit.
	Offset    int
}

// QueryResult is the outcome of a Query call.
//
// Total reflects the full backend size before filtering and pagination, not
// the matched count. This is a compatibility guarantee, not an oversight.
type QueryResult[V any] struct {
	Records   []Record[V]   `json:"records"`
	Total     int           `json:"total"`
	HasMore   bool          `json:"has_more"`
	QueryTime time.Duration `json:"query_time"`
}

// applyQuery filters, sorts, and paginates records in process.
// Offset applies before limit.
func applyQuery[V any](records []Record[V], opts QueryOptions[V]) []Record[V] {
	matched := records
	if opts.Filter != nil {
		matched = make([]Record[V], 0, len(records))
		for _, rec := range records {
			if opts.Filter(rec) {
				matched = append(matched, rec)
			}
		}
	}

	if opts.SortKey != nil {
		desc := opts.SortOrder == SortDesc
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := opts.SortKey(matched[i]), opts.SortKey(matched[j])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched
}
