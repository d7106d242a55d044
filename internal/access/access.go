package access

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Level is the graded access a role has to a feature.
type Level int

const (
	None Level = iota
	View
	Both
)

const (
	CodeView = 1
	CodeBoth = 2
)

func (l Level) String() string {
	switch l {
	case View:
		return "view"
	case Both:
		return "both"
	default:
		return "none"
	}
}

// CanEdit reports whether edit, create and delete controls may be shown.
func (l Level) CanEdit() bool {
	return l == Both
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = ParseLevel(s)
	return nil
}

// ParseLevel is the inverse of String; unknown input is None.
func ParseLevel(s string) Level {
	switch s {
	case "view":
		return View
	case "both":
		return Both
	default:
		return None
	}
}

// LevelFromCode maps a stored access code to a Level. Only 1 and 2 grant access.
func LevelFromCode(code int) Level {
	switch code {
	case CodeView:
		return View
	case CodeBoth:
		return Both
	default:
		return None
	}
}

// TabAccess is one tabs_access entry. On the wire it is a single-key object
// such as {"group": 2}; Key is empty when the entry was malformed and Valid
// is false when the code was not an integer.
type TabAccess struct {
	Key   string
	Code  int
	Valid bool
}

// Level of this entry alone.
func (t TabAccess) Level() Level {
	if !t.Valid {
		return None
	}
	return LevelFromCode(t.Code)
}

func (t TabAccess) MarshalJSON() ([]byte, error) {
	if t.Key == "" {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]int{t.Key: t.Code})
}

// UnmarshalJSON never fails on a well-formed JSON value: anything that is
// not a single-key object with an integer code degrades to an entry that
// resolves to None.
func (t *TabAccess) UnmarshalJSON(data []byte) error {
	*t = TabAccess{}

	var entry map[string]json.RawMessage
	if err := json.Unmarshal(data, &entry); err != nil || len(entry) != 1 {
		return nil
	}

	for key, raw := range entry {
		t.Key = key
		t.Code, t.Valid = parseCode(raw)
	}
	return nil
}

func parseCode(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// PermissionRecord is a role's responsibility record: which portal tabs and
// reports the role may open.
type PermissionRecord struct {
	ID           string      `json:"_id,omitempty"`
	Role         string      `json:"role"`
	CreatedAt    time.Time   `json:"createdAt,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt,omitempty"`
	TabsAccess   []TabAccess `json:"tabs_access"`
	ReportAccess []string    `json:"report_access"`
}

func (r *PermissionRecord) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("role=%s tabs=%d reports=%d", r.Role, len(r.TabsAccess), len(r.ReportAccess))
}

// Permissions is what the route guard sees of an Access Scope at one instant.
// Checked is false while a fetch for the current identity has not finished.
type Permissions struct {
	Checked bool
	Record  *PermissionRecord
	Err     error
}

// Summary is the per-feature view of a record handed to the browser so
// widgets can hide controls the role may not use.
type Summary struct {
	Role     string           `json:"role"`
	Features map[string]Level `json:"features"`
	Reports  []string         `json:"reports"`
}
