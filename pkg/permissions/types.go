package permissions

import "fmt"

// Level is a permission level in the fixed hierarchy
// none < read < write < maintain < admin.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelMaintain
	LevelAdmin
)

// String returns the provider-facing label for a level
func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelMaintain:
		return "maintain"
	case LevelAdmin:
		return "admin"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler so levels render as their
// labels in JSON responses.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, the counterpart of
// MarshalText, via ParseLevel.
func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	return nil
}

// RoleLabel returns the human role label for a level: admin maps to "Admin",
// maintain to "Maintainer", write and read to "Collaborator", and everything
// else to "Denied".
func (l Level) RoleLabel() string {
	switch l {
	case LevelAdmin:
		return "Admin"
	case LevelMaintain:
		return "Maintainer"
	case LevelWrite, LevelRead:
		return "Collaborator"
	default:
		return "Denied"
	}
}

// ParseLevel maps a provider permission label to a level. Unrecognized labels
// collapse to LevelNone (fail-closed).
func ParseLevel(label string) Level {
	switch label {
	case "admin":
		return LevelAdmin
	case "maintain":
		return LevelMaintain
	case "write":
		return LevelWrite
	case "read":
		return LevelRead
	default:
		return LevelNone
	}
}

// ParseAction parses a required action. Unlike ParseLevel this rejects
// unknown input: "none" is not a requestable action.
func ParseAction(action string) (Level, error) {
	switch action {
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	case "maintain":
		return LevelMaintain, nil
	case "admin":
		return LevelAdmin, nil
	default:
		return LevelNone, fmt.Errorf("unknown action %q", action)
	}
}

// CanPerform reports whether a resolved level satisfies the required action,
// by rank comparison over the fixed hierarchy.
func CanPerform(level, required Level) bool {
	return level >= required
}
