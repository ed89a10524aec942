package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ssd-technologies/depot/internal/collection"
)

// meta carries the static half of a Command.
type meta struct {
	desc        string
	args        Schema
	interactive bool
}

func (m meta) Description() string { return m.desc }
func (m meta) Args() Schema        { return m.args }
func (m meta) Interactive() bool   { return m.interactive }

type addCommand struct {
	meta
	store *collection.Store
}

func newAdd(store *collection.Store) *addCommand {
	return &addCommand{
		meta: meta{
			desc:        "Adds a new vehicle to the collection",
			args:        Schema{{Name: "vehicle", Type: TypeVehicle}},
			interactive: true,
		},
		store: store,
	}
}

func (c *addCommand) Execute(ctx context.Context, args Args, user string) (string, error) {
	rec, err := args.Record("vehicle")
	if err != nil {
		return "", err
	}
	added, err := c.store.Add(ctx, rec, user)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Vehicle added: %s (id %d)", added.Name, added.ID), nil
}

type addIfMaxCommand struct {
	meta
	store *collection.Store
}

func newAddIfMax(store *collection.Store) *addIfMaxCommand {
	return &addIfMaxCommand{
		meta: meta{
			desc:        "Adds a new vehicle if its engine power is greater than every stored one",
			args:        Schema{{Name: "vehicle", Type: TypeVehicle}},
			interactive: true,
		},
		store: store,
	}
}

func (c *addIfMaxCommand) Execute(ctx context.Context, args Args, user string) (string, error) {
	rec, err := args.Record("vehicle")
	if err != nil {
		return "", err
	}
	added, ok, err := c.store.AddIfMax(ctx, rec, user)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Vehicle not added: %s is not greater than the current maximum", rec.Name), nil
	}
	return fmt.Sprintf("Vehicle added: %s (id %d)", added.Name, added.ID), nil
}

type removeAtCommand struct {
	meta
	store *collection.Store
}

func newRemoveAt(store *collection.Store) *removeAtCommand {
	return &removeAtCommand{
		meta: meta{
			desc: "Removes the vehicle at the given position",
			args: Schema{{Name: "index", Type: TypeInt}},
		},
		store: store,
	}
}

func (c *removeAtCommand) Execute(ctx context.Context, args Args, user string) (string, error) {
	i, err := args.Int("index")
	if err != nil {
		return "", err
	}
	rec, err := c.store.RemoveAt(ctx, int(i), user)
	if err != nil {
		return "", fmt.Errorf("index %d: %w", i, err)
	}
	return fmt.Sprintf("Vehicle removed: %s (id %d)", rec.Name, rec.ID), nil
}

type removeByIDCommand struct {
	meta
	store *collection.Store
}

func newRemoveByID(store *collection.Store) *removeByIDCommand {
	return &removeByIDCommand{
		meta: meta{
			desc: "Removes the vehicle with the given id",
			args: Schema{{Name: "id", Type: TypeInt}},
		},
		store: store,
	}
}

func (c *removeByIDCommand) Execute(ctx context.Context, args Args, user string) (string, error) {
	id, err := args.Int("id")
	if err != nil {
		return "", err
	}
	rec, err := c.store.RemoveByID(ctx, id, user)
	if err != nil {
		return "", fmt.Errorf("vehicle %d: %w", id, err)
	}
	return fmt.Sprintf("Vehicle removed: %s (id %d)", rec.Name, rec.ID), nil
}

type removeGreaterCommand struct {
	meta
	store *collection.Store
}

func newRemoveGreater(store *collection.Store) *removeGreaterCommand {
	return &removeGreaterCommand{
		meta: meta{
			desc: "Removes your vehicles whose engine power is greater than the given one",
			args: Schema{{Name: "engPw", Type: TypeFloat}},
		},
		store: store,
	}
}

func (c *removeGreaterCommand) Execute(ctx context.Context, args Args, user string) (string, error) {
	threshold, err := args.Float("engPw")
	if err != nil {
		return "", err
	}
	n, err := c.store.RemoveGreater(ctx, threshold, user)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d vehicles", n), nil
}

type updateIDCommand struct {
	meta
	store *collection.Store
}

func newUpdateID(store *collection.Store) *updateIDCommand {
	return &updateIDCommand{
		meta: meta{
			desc: "Sets one field of the vehicle with the given id",
			args: Schema{
				{Name: "id", Type: TypeInt},
				{Name: "field", Type: TypeString},
				{Name: "value", Type: TypeString},
			},
		},
		store: store,
	}
}

func (c *updateIDCommand) Execute(ctx context.Context, args Args, user string) (string, error) {
	id, err := args.Int("id")
	if err != nil {
		return "", err
	}
	field, err := args.String("field")
	if err != nil {
		return "", err
	}
	value, err := args.String("value")
	if err != nil {
		return "", err
	}
	set, err := fieldSetter(field, value)
	if err != nil {
		return "", err
	}
	rec, err := c.store.Modify(ctx, id, user, set)
	if err != nil {
		return "", fmt.Errorf("vehicle %d: %w", id, err)
	}
	return fmt.Sprintf("Vehicle %d updated: %s", rec.ID, rec.Name), nil
}

var errUnknownField = errors.New("unknown field")

// fieldSetter parses value for field and returns a function applying it.
// Parsing happens before the store lock is taken.
func fieldSetter(field, value string) (func(*collection.Record) error, error) {
	isNull := value == "" || strings.EqualFold(value, "null")

	switch field {
	case "name":
		return func(r *collection.Record) error { r.Name = value; return nil }, nil

	case "coordinates", "coords":
		parts := strings.FieldsFunc(value, func(r rune) bool {
			return r == ';' || r == ',' || r == ' '
		})
		if len(parts) != 2 {
			return nil, fmt.Errorf("coordinates must be two integers \"x;y\", got %q", value)
		}
		x, errX := strconv.ParseInt(parts[0], 10, 64)
		y, errY := strconv.ParseInt(parts[1], 10, 64)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("coordinates must be two integers \"x;y\", got %q", value)
		}
		return func(r *collection.Record) error {
			r.Coordinates = collection.Coordinates{X: x, Y: y}
			return nil
		}, nil

	case "enginePower", "ep":
		if isNull {
			return func(r *collection.Record) error { r.EnginePower = nil; return nil }, nil
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("enginePower must be a number, got %q", value)
		}
		p := float32(f)
		return func(r *collection.Record) error { r.EnginePower = &p; return nil }, nil

	case "capacity", "cap":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("capacity must be a number, got %q", value)
		}
		return func(r *collection.Record) error { r.Capacity = float32(f); return nil }, nil

	case "distanceTravelled", "dt":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("distanceTravelled must be an integer, got %q", value)
		}
		return func(r *collection.Record) error { r.DistanceTravelled = n; return nil }, nil

	case "fuelType", "ft":
		if isNull {
			return func(r *collection.Record) error { r.FuelType = nil; return nil }, nil
		}
		ft, err := collection.ParseFuelType(value)
		if err != nil {
			return nil, err
		}
		return func(r *collection.Record) error { r.FuelType = &ft; return nil }, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownField, field)
}

type clearCommand struct {
	meta
	store *collection.Store
}

func newClear(store *collection.Store) *clearCommand {
	return &clearCommand{
		meta:  meta{desc: "Removes every vehicle you own"},
		store: store,
	}
}

func (c *clearCommand) Execute(ctx context.Context, _ Args, user string) (string, error) {
	if c.store.Len() == 0 {
		return "Collection is empty", nil
	}
	n, err := c.store.Clear(ctx, user)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d vehicles. Size: %d", n, c.store.Len()), nil
}
