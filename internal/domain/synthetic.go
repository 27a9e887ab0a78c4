package domain

import (
	"context"
	"strings"
)

// PriceFunc returns the latest GE price for an item name.
type PriceFunc func(ctx context.Context, itemName string) (int64, error)

// mokhaiotlClothFloor is the minimum synthetic value for Mokhaiotl cloth.
const mokhaiotlClothFloor = 5_000_000

var vestigeRings = map[string]string{
	"ultor vestige":    "Ultor ring",
	"magus vestige":    "Magus ring",
	"venator vestige":  "Venator ring",
	"bellator vestige": "Bellator ring",
}

var assembledPieces = map[string]struct {
	assembled string
	pieces    int64
}{
	"bludgeon claw":  {"Abyssal bludgeon", 3},
	"bludgeon spine": {"Abyssal bludgeon", 3},
	"bludgeon axon":  {"Abyssal bludgeon", 3},
	"noxious point":  {"Noxious halberd", 3},
	"noxious blade":  {"Noxious halberd", 3},
	"noxious pommel": {"Noxious halberd", 3},
	"hydra's eye":    {"Brimstone ring", 3},
	"hydra's fang":   {"Brimstone ring", 3},
	"hydra's heart":  {"Brimstone ring", 3},
}

// TrueValue returns the effective unit value of an item, applying the
// synthetic-value derivations for untradeables whose market value is
// inferred from a related tradeable. Items outside the table, and any
// pricing failure, fall back to the declared value.
func TrueValue(ctx context.Context, prices PriceFunc, itemName string, declaredValue int64) int64 {
	if prices == nil {
		return declaredValue
	}
	key := strings.ToLower(NormalizeNPCName(itemName))

	if ring, ok := vestigeRings[key]; ok {
		ringPrice, err := prices(ctx, ring)
		if err != nil {
			return declaredValue
		}
		ingotPrice, err := prices(ctx, "Chromium ingot")
		if err != nil {
			return declaredValue
		}
		if value := ringPrice - 3*ingotPrice; value > 0 {
			return value
		}
		return declaredValue
	}

	if piece, ok := assembledPieces[key]; ok {
		assembledPrice, err := prices(ctx, piece.assembled)
		if err != nil {
			return declaredValue
		}
		if value := assembledPrice / piece.pieces; value > 0 {
			return value
		}
		return declaredValue
	}

	switch key {
	case "araxyte fang":
		rancour, err := prices(ctx, "Amulet of rancour")
		if err != nil {
			return declaredValue
		}
		torture, err := prices(ctx, "Amulet of torture")
		if err != nil {
			return declaredValue
		}
		if value := rancour - torture; value > 0 {
			return value
		}
		return declaredValue
	case "mokhaiotl cloth":
		gauntlets, err := prices(ctx, "Confliction gauntlets")
		if err != nil {
			return declaredValue
		}
		bracelet, err := prices(ctx, "Tormented bracelet")
		if err != nil {
			return declaredValue
		}
		tear, err := prices(ctx, "Demon tear")
		if err != nil {
			return declaredValue
		}
		value := gauntlets - bracelet - 10_000*tear
		if value < mokhaiotlClothFloor {
			value = mokhaiotlClothFloor
		}
		return value
	}

	return declaredValue
}
