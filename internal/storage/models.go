// internal/storage/models.go
package storage

import (
	"database/sql"
	"time"

	"github.com/ssd-technologies/depot/internal/collection"
)

type User struct {
	Login        string `json:"login"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"created_at"`
}

// vehicleRow mirrors one row of the vehicles table.
type vehicleRow struct {
	ID                int64
	Name              string
	X                 int64
	Y                 int64
	EnginePower       sql.NullFloat64
	Capacity          float64
	DistanceTravelled int64
	FuelType          sql.NullString
	Owner             string
	CreatedAt         int64 // unix millis
}

func rowFromRecord(rec collection.Record, owner string) vehicleRow {
	row := vehicleRow{
		ID:                rec.ID,
		Name:              rec.Name,
		X:                 rec.Coordinates.X,
		Y:                 rec.Coordinates.Y,
		Capacity:          float64(rec.Capacity),
		DistanceTravelled: rec.DistanceTravelled,
		Owner:             owner,
		CreatedAt:         rec.CreatedAt.UnixMilli(),
	}
	if rec.EnginePower != nil {
		row.EnginePower = sql.NullFloat64{Float64: float64(*rec.EnginePower), Valid: true}
	}
	if rec.FuelType != nil {
		row.FuelType = sql.NullString{String: rec.FuelType.String(), Valid: true}
	}
	return row
}

func (row vehicleRow) owned() (collection.Owned, error) {
	rec := collection.Record{
		ID:                row.ID,
		Name:              row.Name,
		Coordinates:       collection.Coordinates{X: row.X, Y: row.Y},
		Capacity:          float32(row.Capacity),
		DistanceTravelled: row.DistanceTravelled,
		CreatedAt:         time.UnixMilli(row.CreatedAt).UTC(),
	}
	if row.EnginePower.Valid {
		p := float32(row.EnginePower.Float64)
		rec.EnginePower = &p
	}
	if row.FuelType.Valid {
		f, err := collection.ParseFuelType(row.FuelType.String)
		if err != nil {
			return collection.Owned{}, err
		}
		rec.FuelType = &f
	}
	return collection.Owned{Record: rec, Owner: row.Owner}, nil
}
