// Package compat resolves compatibility flags from a compatibility date and
// explicit enable/disable flags. Behavior gated on a flag asks the resolver
// instead of comparing dates itself.
package compat

import (
	"fmt"
	"sort"

	"github.com/marmos91/edgesim/internal/collate"
)

// Flag names understood by the resolver.
const (
	FlagFormDataFiles            = "formdata_parser_supports_files"
	FlagFormDataStrings          = "formdata_parser_converts_files_to_strings"
	FlagFetchRefusesUnknown      = "fetch_refuses_unknown_protocols"
	FlagFetchTreatsUnknownHTTP   = "fetch_treats_unknown_protocols_as_http"
	FlagDOFetchRequiresFullURL   = "durable_object_fetch_requires_full_url"
	FlagDOFetchAllowsRelativeURL = "durable_object_fetch_allows_relative_url"
	FlagESIIncludeIsVoidTag      = "html_rewriter_treats_esi_include_as_void_tag"
)

// feature describes one gated behavior: the flag that enables it, the paired
// flag that disables it, and the date from which it is the default.
type feature struct {
	enableFlag  string
	disableFlag string
	defaultAsOf string // empty: never default
}

var features = []feature{
	{
		enableFlag:  FlagFormDataFiles,
		disableFlag: FlagFormDataStrings,
		defaultAsOf: "2021-11-03",
	},
	{
		enableFlag:  FlagFetchRefusesUnknown,
		disableFlag: FlagFetchTreatsUnknownHTTP,
		defaultAsOf: "2021-11-10",
	},
	{
		enableFlag:  FlagDOFetchRequiresFullURL,
		disableFlag: FlagDOFetchAllowsRelativeURL,
		defaultAsOf: "2021-11-10",
	},
	{
		enableFlag: FlagESIIncludeIsVoidTag,
	},
}

// Resolver answers IsEnabled for the configured date and explicit flags.
type Resolver struct {
	date    string
	flags   []string
	enabled map[string]bool
}

// New builds a resolver; an empty date enables nothing by default.
func New(date string, flags []string) (*Resolver, error) {
	r := &Resolver{}
	if _, err := r.rebuild(date, flags); err != nil {
		return nil, err
	}
	return r, nil
}

// Update reconfigures the resolver, reporting whether the resolved feature
// set changed.
func (r *Resolver) Update(date string, flags []string) (bool, error) {
	return r.rebuild(date, flags)
}

// IsEnabled reports whether the feature named by its enable flag is on.
func (r *Resolver) IsEnabled(enableFlag string) bool {
	return r.enabled[enableFlag]
}

// Date returns the configured compatibility date.
func (r *Resolver) Date() string {
	return r.date
}

func (r *Resolver) rebuild(date string, flags []string) (bool, error) {
	explicit := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		if !knownFlag(f) {
			return false, fmt.Errorf("unknown compatibility flag %q", f)
		}
		explicit[f] = struct{}{}
	}

	enabled := make(map[string]bool, len(features))
	for _, ft := range features {
		// An explicit disable flag beats everything.
		if ft.disableFlag != "" {
			if _, off := explicit[ft.disableFlag]; off {
				enabled[ft.enableFlag] = false
				continue
			}
		}
		if _, on := explicit[ft.enableFlag]; on {
			enabled[ft.enableFlag] = true
			continue
		}
		enabled[ft.enableFlag] = ft.defaultAsOf != "" && date != "" &&
			collate.Compare(ft.defaultAsOf, date) <= 0
	}

	changed := r.enabled == nil || !equalSets(r.enabled, enabled)
	r.date = date
	r.flags = append([]string(nil), flags...)
	sort.Strings(r.flags)
	r.enabled = enabled
	return changed, nil
}

func knownFlag(name string) bool {
	for _, ft := range features {
		if name == ft.enableFlag || name == ft.disableFlag {
			return true
		}
	}
	return false
}

func equalSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
