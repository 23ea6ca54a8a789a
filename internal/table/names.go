package table

import (
	"fmt"
	"strings"
)

// Identifier limits of the control device, excluding the terminating NUL.
const (
	MaxAnchorLen    = 1023 // MAXPATHLEN - 1
	MaxTableNameLen = 31   // PF_TABLE_NAME_SIZE - 1
)

// NameLimiter is implemented by devices whose identifiers are shorter than
// MaxAnchorLen and MaxTableNameLen. The tighter of the two limits applies.
type NameLimiter interface {
	NameLimits() (anchor, table int)
}

// ValidateAnchor checks an anchor path against the device's naming limits.
func ValidateAnchor(anchor string) error {
	return validateAnchor(anchor, MaxAnchorLen)
}

func validateAnchor(anchor string, limit int) error {
	switch {
	case anchor == "":
		return fmt.Errorf("anchor name is empty")
	case len(anchor) > limit:
		return fmt.Errorf("anchor name exceeds %d bytes", limit)
	case strings.IndexByte(anchor, 0) >= 0:
		return fmt.Errorf("anchor name contains NUL")
	case strings.HasPrefix(anchor, "/") || strings.HasSuffix(anchor, "/") || strings.Contains(anchor, "//"):
		return fmt.Errorf("anchor path %q has an empty component", anchor)
	}
	return nil
}

// ValidateTableName checks a table name against the device's naming limits.
func ValidateTableName(name string) error {
	return validateTableName(name, MaxTableNameLen)
}

func validateTableName(name string, limit int) error {
	switch {
	case name == "":
		return fmt.Errorf("table name is empty")
	case len(name) > limit:
		return fmt.Errorf("table name exceeds %d bytes", limit)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("table name contains NUL")
	}
	return nil
}

func validateNames(op, anchor, name string, dev Device) error {
	anchorMax, tableMax := MaxAnchorLen, MaxTableNameLen
	if l, ok := dev.(NameLimiter); ok {
		a, t := l.NameLimits()
		anchorMax, tableMax = min(anchorMax, a), min(tableMax, t)
	}
	err := validateAnchor(anchor, anchorMax)
	if err == nil {
		err = validateTableName(name, tableMax)
	}
	if err != nil {
		return &Error{Op: op, Kind: KindInvalidName, Anchor: anchor, Table: name, Err: err}
	}
	return nil
}
