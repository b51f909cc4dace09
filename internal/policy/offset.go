// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy defines the position/offset model: where a moved rule lands
// relative to its destination, and which object types each rule slot accepts.
package policy

import "github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"

// Offset is the relative placement directive for move and copy operations.
type Offset string

const (
	// OffsetAbove places the moved set immediately before the destination rule.
	OffsetAbove Offset = "above"
	// OffsetBelow places the moved set immediately after the destination rule.
	OffsetBelow Offset = "below"
)

// Valid reports whether o is a known offset.
func (o Offset) Valid() bool {
	return o == OffsetAbove || o == OffsetBelow
}

// ParseOffset validates a wire value into an Offset.
func ParseOffset(s string) (Offset, error) {
	o := Offset(s)
	if !o.Valid() {
		return "", errors.Errorf(errors.KindValidation, "invalid offset %q (must be %q or %q)",
			s, OffsetAbove, OffsetBelow)
	}
	return o, nil
}
