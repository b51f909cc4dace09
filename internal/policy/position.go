// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

// SlotKind distinguishes positions that hold network/service objects from
// positions that hold interfaces.
type SlotKind int

const (
	KindObject SlotKind = iota
	KindInterface
)

func (k SlotKind) String() string {
	switch k {
	case KindObject:
		return "O"
	case KindInterface:
		return "I"
	default:
		return "?"
	}
}

// Position identifiers. Each policy rule type exposes a fixed set of slots.
const (
	PositionSource = iota + 1
	PositionDestination
	PositionService
	PositionTranslatedSource
	PositionTranslatedDestination
	PositionTranslatedService
	PositionIn
	PositionOut
)

// Position describes one slot of a rule type: its grid column ordinal, its
// kind and whether it carries NAT translation semantics.
type Position struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ColumnOrder int   `json:"position_order"`
	Kind       SlotKind `json:"content"`
	Translated bool   `json:"translated"`
}

// objectTypes are the types accepted in Source/Destination slots.
var objectTypes = map[int]bool{
	models.TypeAddress:      true,
	models.TypeAddressRange: true,
	models.TypeNetwork:      true,
	models.TypeHost:         true,
	models.TypeGroupObjects: true,
	models.TypeMark:         true,
}

// serviceTypes are the types accepted in Service slots.
var serviceTypes = map[int]bool{
	models.TypeIP:            true,
	models.TypeTCP:           true,
	models.TypeICMP:          true,
	models.TypeUDP:           true,
	models.TypeGroupServices: true,
}

// translatedObjectTypes are the types accepted in NAT translated address
// slots. Groups are not expandable inside a translation.
var translatedObjectTypes = map[int]bool{
	models.TypeAddress: true,
}

// translatedServiceTypes are the types accepted in NAT translated service slots.
var translatedServiceTypes = map[int]bool{
	models.TypeTCP: true,
	models.TypeUDP: true,
}

var interfaceTypes = map[int]bool{
	models.TypeInterfaceFirewall: true,
	models.TypeInterfaceHost:     true,
}

var positions = map[int]Position{
	PositionSource:                {ID: PositionSource, Name: "Source", ColumnOrder: 1, Kind: KindObject},
	PositionDestination:           {ID: PositionDestination, Name: "Destination", ColumnOrder: 2, Kind: KindObject},
	PositionService:               {ID: PositionService, Name: "Service", ColumnOrder: 3, Kind: KindObject},
	PositionTranslatedSource:      {ID: PositionTranslatedSource, Name: "Translated Source", ColumnOrder: 4, Kind: KindObject, Translated: true},
	PositionTranslatedDestination: {ID: PositionTranslatedDestination, Name: "Translated Destination", ColumnOrder: 5, Kind: KindObject, Translated: true},
	PositionTranslatedService:     {ID: PositionTranslatedService, Name: "Translated Service", ColumnOrder: 6, Kind: KindObject, Translated: true},
	PositionIn:                    {ID: PositionIn, Name: "In", ColumnOrder: 7, Kind: KindInterface},
	PositionOut:                   {ID: PositionOut, Name: "Out", ColumnOrder: 8, Kind: KindInterface},
}

// slotGrid maps each policy rule type to its allowed position ids.
var slotGrid = map[int][]int{
	models.PolicyTypeInput:   {PositionSource, PositionDestination, PositionService, PositionIn},
	models.PolicyTypeOutput:  {PositionSource, PositionDestination, PositionService, PositionOut},
	models.PolicyTypeForward: {PositionSource, PositionDestination, PositionService, PositionIn, PositionOut},
	models.PolicyTypeSNAT:    {PositionSource, PositionDestination, PositionService, PositionTranslatedSource, PositionTranslatedService, PositionOut},
	models.PolicyTypeDNAT:    {PositionSource, PositionDestination, PositionService, PositionTranslatedDestination, PositionTranslatedService, PositionIn},
}

// Lookup returns the slot metadata for a (rule type, position id) pair.
func Lookup(policyType, positionID int) (Position, error) {
	ids, ok := slotGrid[policyType]
	if !ok {
		return Position{}, errors.Errorf(errors.KindValidation, "unknown policy rule type %d", policyType)
	}
	for _, id := range ids {
		if id == positionID {
			return positions[id], nil
		}
	}
	return Position{}, errors.Errorf(errors.KindValidation,
		"position %d is not valid for policy rule type %d", positionID, policyType)
}

// Positions returns the ordered slot set of a policy rule type.
func Positions(policyType int) ([]Position, error) {
	ids, ok := slotGrid[policyType]
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "unknown policy rule type %d", policyType)
	}
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, positions[id])
	}
	return out, nil
}

// Compatible reports whether an object type may be attached to a position.
func Compatible(pos Position, objType int) bool {
	switch pos.Kind {
	case KindInterface:
		return interfaceTypes[objType]
	case KindObject:
		if pos.Translated {
			switch pos.ID {
			case PositionTranslatedService:
				return translatedServiceTypes[objType]
			default:
				return translatedObjectTypes[objType]
			}
		}
		if pos.ID == PositionService {
			return serviceTypes[objType]
		}
		return objectTypes[objType]
	default:
		return false
	}
}

// CheckCompatibility validates an (objType, position) attachment for a rule
// type. It is called before any positioned item insert.
func CheckCompatibility(policyType, positionID, objType int) error {
	pos, err := Lookup(policyType, positionID)
	if err != nil {
		return err
	}
	if !Compatible(pos, objType) {
		return errors.Errorf(errors.KindValidation,
			"object type %d is not compatible with position %q of policy rule type %d",
			objType, pos.Name, policyType)
	}
	return nil
}
