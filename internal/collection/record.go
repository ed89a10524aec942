// Package collection holds the shared record set that every command reads
// and mutates, together with the ownership table that decides who may change
// which record.
package collection

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Coordinate bounds. X must be strictly greater than MinX, Y must not exceed MaxY.
const (
	MinX = -818
	MaxY = 730
)

// ErrInvalidRecord is wrapped by every validation failure.
var ErrInvalidRecord = errors.New("invalid record")

// FuelType is ordered ELECTRICITY < DIESEL < ANTIMATTER.
type FuelType int

const (
	Electricity FuelType = iota
	Diesel
	Antimatter
)

var fuelNames = [...]string{"ELECTRICITY", "DIESEL", "ANTIMATTER"}

func (f FuelType) String() string {
	if f < Electricity || f > Antimatter {
		return fmt.Sprintf("FuelType(%d)", int(f))
	}
	return fuelNames[f]
}

// ParseFuelType accepts a fuel type name in any letter case.
func ParseFuelType(s string) (FuelType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range fuelNames {
		if n == name {
			return FuelType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown fuel type %q", ErrInvalidRecord, s)
}

func (f FuelType) MarshalText() ([]byte, error) {
	if f < Electricity || f > Antimatter {
		return nil, fmt.Errorf("marshal fuel type %d", int(f))
	}
	return []byte(fuelNames[f]), nil
}

func (f *FuelType) UnmarshalText(b []byte) error {
	v, err := ParseFuelType(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Coordinates locate a record.
type Coordinates struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

func (c Coordinates) String() string { return fmt.Sprintf("%d; %d", c.X, c.Y) }

// Record is one managed vehicle. ID and CreatedAt are assigned by the Store;
// values supplied by a client are ignored on add.
type Record struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	Coordinates       Coordinates `json:"coordinates"`
	EnginePower       *float32    `json:"enginePower"`
	Capacity          float32     `json:"capacity"`
	DistanceTravelled int64       `json:"distanceTravelled"`
	FuelType          *FuelType   `json:"fuelType"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// Validate checks every client-controlled field.
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: name must not be blank", ErrInvalidRecord)
	case r.Coordinates.X <= MinX:
		return fmt.Errorf("%w: coordinates.x must be greater than %d", ErrInvalidRecord, MinX)
	case r.Coordinates.Y > MaxY:
		return fmt.Errorf("%w: coordinates.y must not exceed %d", ErrInvalidRecord, MaxY)
	case r.EnginePower != nil && !finite(*r.EnginePower):
		return fmt.Errorf("%w: enginePower must be a finite number", ErrInvalidRecord)
	case r.EnginePower != nil && *r.EnginePower <= 0:
		return fmt.Errorf("%w: enginePower must be positive", ErrInvalidRecord)
	case !finite(r.Capacity):
		return fmt.Errorf("%w: capacity must be a finite number", ErrInvalidRecord)
	case r.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidRecord)
	case r.DistanceTravelled < 0:
		return fmt.Errorf("%w: distanceTravelled must not be negative", ErrInvalidRecord)
	case r.FuelType != nil && (*r.FuelType < Electricity || *r.FuelType > Antimatter):
		return fmt.Errorf("%w: fuelType out of range", ErrInvalidRecord)
	}
	return nil
}

func finite(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clone returns a deep copy so callers never share the pointer fields.
func (r Record) Clone() Record {
	if r.EnginePower != nil {
		p := *r.EnginePower
		r.EnginePower = &p
	}
	if r.FuelType != nil {
		f := *r.FuelType
		r.FuelType = &f
	}
	return r
}

func (r Record) String() string {
	power := "null"
	if r.EnginePower != nil {
		power = fmt.Sprintf("%g", *r.EnginePower)
	}
	fuel := "null"
	if r.FuelType != nil {
		fuel = r.FuelType.String()
	}
	return fmt.Sprintf("Vehicle #%d {name: %s, created: %s, coordinates: (%s), enginePower: %s, capacity: %g, distanceTravelled: %d, fuelType: %s}",
		r.ID, r.Name, r.CreatedAt.Format(time.RFC3339), r.Coordinates, power, r.Capacity, r.DistanceTravelled, fuel)
}

// ComparePower orders engine powers with nil below every value and equal to
// another nil.
func ComparePower(a, b *float32) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

// Compare is the single total order used by every comparison command.
func Compare(a, b Record) int { return ComparePower(a.EnginePower, b.EnginePower) }

// CompareFuel orders fuel types with nil lowest.
func CompareFuel(a, b *FuelType) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return int(*a) - int(*b)
}

// Owned pairs a record with the username that owns it.
type Owned struct {
	Record Record
	Owner  string
}
