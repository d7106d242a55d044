package access

import "strings"

// MatchKind selects how a binding path is compared to a navigation path.
type MatchKind int

const (
	Exact MatchKind = iota
	Prefix
)

func (m MatchKind) String() string {
	if m == Prefix {
		return "prefix"
	}
	return "exact"
}

// Mode selects which check gates a bound route.
type Mode int

const (
	// Graded routes need access code 1 or 2.
	Graded Mode = iota
	// Presence routes only need the tab to be listed at all.
	Presence
)

func (m Mode) String() string {
	if m == Presence {
		return "presence"
	}
	return "graded"
}

// Binding ties a navigable path to the feature key that gates it.
type Binding struct {
	Path    string
	Match   MatchKind
	Feature string
	Mode    Mode
}

// DefaultBindings is the portal's route table.
var DefaultBindings = []Binding{
	{Path: "/dashboard", Match: Exact, Feature: "dashboard", Mode: Graded},
	{Path: "/vehicles", Match: Prefix, Feature: "vehicle", Mode: Graded},
	{Path: "/map", Match: Prefix, Feature: "map", Mode: Presence},
	{Path: "/alarms", Match: Prefix, Feature: "alarm", Mode: Graded},
	{Path: "/geofence", Match: Prefix, Feature: "geofence", Mode: Graded},
	{Path: "/reports", Match: Prefix, Feature: "report", Mode: Presence},
	{Path: "/manage/entity", Match: Prefix, Feature: "entity", Mode: Graded},
	{Path: "/manage/group", Match: Prefix, Feature: "group", Mode: Graded},
	{Path: "/manage/vendor", Match: Prefix, Feature: "vendor", Mode: Graded},
	{Path: "/manage/customer-group", Match: Prefix, Feature: "customer_group", Mode: Graded},
	{Path: "/manage/responsibility", Match: Prefix, Feature: "responsibility", Mode: Graded},
	{Path: "/manage/user", Match: Prefix, Feature: "user", Mode: Graded},
}

// NormalizePath trims query, fragment and trailing slashes so "/manage/group/"
// and "/manage/group?x=1" bind like "/manage/group".
func NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// matchesPrefix only accepts matches on a segment boundary: "/map" binds
// "/map/live" but not "/mapping".
func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// PathIn reports whether path equals, or sits below, one of routes.
func PathIn(path string, routes []string) bool {
	path = NormalizePath(path)
	for _, route := range routes {
		if matchesPrefix(path, NormalizePath(route)) {
			return true
		}
	}
	return false
}
