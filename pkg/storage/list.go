package storage

import (
	"sort"
	"strings"

	"github.com/marmos91/edgesim/internal/collate"
)

// Compare orders key names the way every backend sorts listings: codepoint
// order with digit runs compared numerically.
func Compare(a, b string) int {
	return collate.Compare(a, b)
}

// ApplyListOptions runs the shared listing pipeline over a backend's full
// unsorted key set: filter, sort, cursor resume, delimiter collapse, limit.
//
// Backends call this after gathering their live (non-expired) records so
// that listing behavior is identical across implementations.
func ApplyListOptions(keys []KeyInfo, opts ListOptions) (*ListResult, error) {
	if opts.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	cursorName, err := DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	filtered := keys[:0:0]
	for _, k := range keys {
		if opts.Prefix != "" && !strings.HasPrefix(k.Name, opts.Prefix) {
			continue
		}
		if opts.ExcludePrefix != "" && strings.HasPrefix(k.Name, opts.ExcludePrefix) {
			continue
		}
		if opts.Start != "" && collate.Compare(k.Name, opts.Start) < 0 {
			continue
		}
		if opts.End != "" && collate.Compare(k.Name, opts.End) >= 0 {
			continue
		}
		filtered = append(filtered, k)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if opts.Reverse {
			return collate.Compare(filtered[i].Name, filtered[j].Name) > 0
		}
		return collate.Compare(filtered[i].Name, filtered[j].Name) < 0
	})

	// Resume strictly after the cursor key in sort order. Keys inserted
	// after the cursor was produced stay invisible when they sort at or
	// before it.
	if cursorName != "" {
		resume := 0
		for resume < len(filtered) {
			c := collate.Compare(filtered[resume].Name, cursorName)
			if (opts.Reverse && c < 0) || (!opts.Reverse && c > 0) {
				break
			}
			resume++
		}
		filtered = filtered[resume:]
	}

	result := &ListResult{}
	seenPrefixes := map[string]struct{}{}
	emitted := 0
	lastConsumed := ""
	consumed := 0
	for _, k := range filtered {
		if opts.Limit > 0 && emitted >= opts.Limit {
			break
		}
		if opts.Delimiter != "" {
			rest := k.Name[len(opts.Prefix):]
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				// Collapse into the prefix ending at the next delimiter.
				// Collapsed prefixes count toward the limit.
				pre := k.Name[:len(opts.Prefix)+idx+len(opts.Delimiter)]
				if _, ok := seenPrefixes[pre]; !ok {
					seenPrefixes[pre] = struct{}{}
					result.DelimitedPrefixes = append(result.DelimitedPrefixes, pre)
					emitted++
				}
				lastConsumed = k.Name
				consumed++
				continue
			}
		}
		result.Keys = append(result.Keys, k)
		emitted++
		lastConsumed = k.Name
		consumed++
	}

	if consumed < len(filtered) {
		result.Cursor = EncodeCursor(lastConsumed)
	}
	return result, nil
}
