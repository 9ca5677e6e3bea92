package addon

import (
	"strconv"
	"strings"
)

// Flavour identifies a game variant an addon build targets.
type Flavour string

const (
	FlavourRetail  Flavour = "retail"
	FlavourClassic Flavour = "classic"
	FlavourVanilla Flavour = "vanilla"
)

// ParseFlavour normalises a user-supplied flavour name.
func ParseFlavour(s string) (Flavour, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "retail", "mainline":
		return FlavourRetail, true
	case "classic", "wrath", "tbc":
		return FlavourClassic, true
	case "vanilla", "classic_era", "vanilla_classic":
		return FlavourVanilla, true
	}
	return "", false
}

// FlavourFromInterface maps a .toc Interface version to a flavour.
// Interface versions encode MAJOR*10000 + MINOR*100 + PATCH.
func FlavourFromInterface(iface string) (Flavour, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(iface))
	if err != nil {
		return "", false
	}
	switch {
	case n < 20000:
		return FlavourVanilla, true
	case n < 40000:
		return FlavourClassic, true
	default:
		return FlavourRetail, true
	}
}
