package access

import (
	"slices"
	"sort"
)

// Resolver turns a permission record into access decisions. It holds only
// the route table and performs no I/O, so one instance is shared by every
// request.
type Resolver struct {
	exact    map[string]Binding
	prefixes []Binding
	features []string
}

// NewResolver indexes bindings. Exact bindings win over prefix bindings for
// the same path; among prefixes the longest one wins.
func NewResolver(bindings []Binding) *Resolver {
	r := &Resolver{exact: make(map[string]Binding)}
	seen := make(map[string]bool)

	for _, b := range bindings {
		b.Path = NormalizePath(b.Path)
		switch b.Match {
		case Prefix:
			r.prefixes = append(r.prefixes, b)
		default:
			if _, dup := r.exact[b.Path]; !dup {
				r.exact[b.Path] = b
			}
		}
		if !seen[b.Feature] {
			seen[b.Feature] = true
			r.features = append(r.features, b.Feature)
		}
	}

	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].Path) > len(r.prefixes[j].Path)
	})
	return r
}

// Default resolves against DefaultBindings.
func Default() *Resolver {
	return NewResolver(DefaultBindings)
}

// Bind finds the binding gating path.
func (r *Resolver) Bind(path string) (Binding, bool) {
	path = NormalizePath(path)
	if b, ok := r.exact[path]; ok {
		return b, true
	}
	for _, b := range r.prefixes {
		if matchesPrefix(path, b.Path) {
			return b, true
		}
	}
	return Binding{}, false
}

// Bindings returns the table in resolution order: exact paths first.
func (r *Resolver) Bindings() []Binding {
	out := make([]Binding, 0, len(r.exact)+len(r.prefixes))
	for _, b := range r.exact {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return append(out, r.prefixes...)
}

// ResolveRouteAccess resolves path through the route table. Unbound paths
// resolve to None.
func (r *Resolver) ResolveRouteAccess(record *PermissionRecord, path string) Level {
	b, ok := r.Bind(path)
	if !ok {
		return None
	}
	return r.levelFor(record, b)
}

func (r *Resolver) levelFor(record *PermissionRecord, b Binding) Level {
	level := ResolveFeatureAccess(record, b.Feature)
	if b.Mode == Presence && level == None && HasTabPresence(record, b.Feature) {
		return View
	}
	return level
}

// Summarize lists the level of every bound feature.
func (r *Resolver) Summarize(record *PermissionRecord) Summary {
	s := Summary{
		Features: make(map[string]Level, len(r.features)),
		Reports:  []string{},
	}
	if record != nil {
		s.Role = record.Role
		s.Reports = slices.Clone(record.ReportAccess)
		if s.Reports == nil {
			s.Reports = []string{}
		}
	}
	for _, feature := range r.features {
		level := ResolveFeatureAccess(record, feature)
		if b, ok := r.bindingFor(feature); ok {
			level = r.levelFor(record, b)
		}
		s.Features[feature] = level
	}
	return s
}

func (r *Resolver) bindingFor(feature string) (Binding, bool) {
	for _, b := range r.exact {
		if b.Feature == feature {
			return b, true
		}
	}
	for _, b := range r.prefixes {
		if b.Feature == feature {
			return b, true
		}
	}
	return Binding{}, false
}

// ResolveFeatureAccess returns the level of the first tabs_access entry for
// featureKey. A nil or empty record resolves every feature to None.
func ResolveFeatureAccess(record *PermissionRecord, featureKey string) Level {
	if t, ok := findTab(record, featureKey); ok {
		return t.Level()
	}
	return None
}

// HasTabPresence reports whether featureKey is listed at all, whatever its code.
func HasTabPresence(record *PermissionRecord, featureKey string) bool {
	_, ok := findTab(record, featureKey)
	return ok
}

// HasReportAccess is an exact, case-sensitive membership test.
func HasReportAccess(record *PermissionRecord, reportID string) bool {
	if record == nil {
		return false
	}
	return slices.Contains(record.ReportAccess, reportID)
}

// Duplicates lists feature keys that appear more than once in tabs_access.
// Resolution keeps the first entry; callers log the rest as suspicious.
func Duplicates(record *PermissionRecord) []string {
	if record == nil {
		return nil
	}
	counts := make(map[string]int)
	var dups []string
	for _, t := range record.TabsAccess {
		if t.Key == "" {
			continue
		}
		counts[t.Key]++
		if counts[t.Key] == 2 {
			dups = append(dups, t.Key)
		}
	}
	return dups
}

func findTab(record *PermissionRecord, featureKey string) (TabAccess, bool) {
	if record == nil || featureKey == "" {
		return TabAccess{}, false
	}
	for _, t := range record.TabsAccess {
		if t.Key == featureKey {
			return t, true
		}
	}
	return TabAccess{}, false
}
