package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ssd-technologies/depot/internal/collection"
)

const emptyCollection = "Collection is empty"

type showCommand struct {
	meta
	store *collection.Store
}

func newShow(store *collection.Store) *showCommand {
	return &showCommand{
		meta:  meta{desc: "Lists every vehicle in the collection"},
		store: store,
	}
}

func (c *showCommand) Execute(context.Context, Args, string) (string, error) {
	recs := c.store.Snapshot()
	if len(recs) == 0 {
		return emptyCollection, nil
	}
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n"), nil
}

type infoCommand struct {
	meta
	store *collection.Store
}

func newInfo(store *collection.Store) *infoCommand {
	return &infoCommand{
		meta:  meta{desc: "Returns info about the collection"},
		store: store,
	}
}

func (c *infoCommand) Execute(context.Context, Args, string) (string, error) {
	info := c.store.Info()
	return fmt.Sprintf("Type: %s\nInitialized: %s\nSize: %d",
		info.Type, info.CreatedAt.Format(time.RFC3339), info.Size), nil
}

type avgPowerCommand struct {
	meta
	store *collection.Store
}

func newAvgPower(store *collection.Store) *avgPowerCommand {
	return &avgPowerCommand{
		meta:  meta{desc: "Returns the average engine power of the collection"},
		store: store,
	}
}

func (c *avgPowerCommand) Execute(context.Context, Args, string) (string, error) {
	recs := c.store.Snapshot()
	if len(recs) == 0 {
		return emptyCollection, nil
	}
	var sum float64
	for _, r := range recs {
		if r.EnginePower != nil {
			sum += float64(*r.EnginePower)
		}
	}
	return fmt.Sprintf("Avg: %g. Sum -> %g, size -> %d", sum/float64(len(recs)), sum, len(recs)), nil
}

type minByFuelCommand struct {
	meta
	store *collection.Store
}

func newMinByFuel(store *collection.Store) *minByFuelCommand {
	return &minByFuelCommand{
		meta:  meta{desc: "Returns the vehicle with the minimal fuel type"},
		store: store,
	}
}

func (c *minByFuelCommand) Execute(context.Context, Args, string) (string, error) {
	recs := c.store.Snapshot()
	if len(recs) == 0 {
		return emptyCollection, nil
	}
	best := recs[0]
	for _, r := range recs[1:] {
		if collection.CompareFuel(r.FuelType, best.FuelType) < 0 {
			best = r
		}
	}
	fuel := "null"
	if best.FuelType != nil {
		fuel = best.FuelType.String()
	}
	return fmt.Sprintf("%s (id %d) -> %s", best.Name, best.ID, fuel), nil
}

type countGreaterCommand struct {
	meta
	store *collection.Store
}

func newCountGreater(store *collection.Store) *countGreaterCommand {
	return &countGreaterCommand{
		meta: meta{
			desc:        "Returns how many vehicles have engine power greater than the given one",
			args:        Schema{{Name: "engPw", Type: TypeFloat}},
			interactive: true,
		},
		store: store,
	}
}

func (c *countGreaterCommand) Execute(_ context.Context, args Args, _ string) (string, error) {
	threshold, err := args.Float("engPw")
	if err != nil {
		return "", err
	}
	n := 0
	for _, r := range c.store.Snapshot() {
		if collection.ComparePower(r.EnginePower, &threshold) > 0 {
			n++
		}
	}
	return fmt.Sprintf("Vehicles with engine power greater than %g: %d", threshold, n), nil
}

// Defaults builds the standard command table over store.
func Defaults(store *collection.Store) map[string]Command {
	return map[string]Command{
		"add":                  newAdd(store),
		"add_if_max":           newAddIfMax(store),
		"remove_at":            newRemoveAt(store),
		"remove_by_id":         newRemoveByID(store),
		"remove_greater":       newRemoveGreater(store),
		"update_id":            newUpdateID(store),
		"clear":                newClear(store),
		"show":                 newShow(store),
		"info":                 newInfo(store),
		"avg_of_eng_pw":        newAvgPower(store),
		"min_by_fuel":          newMinByFuel(store),
		"count_gr_than_eng_pw": newCountGreater(store),
	}
}

// RegisterDefaults adds the standard commands to r.
func RegisterDefaults(r *Registry, store *collection.Store) {
	for name, cmd := range Defaults(store) {
		r.Register(name, cmd)
	}
}
