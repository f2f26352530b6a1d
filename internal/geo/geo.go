// Package geo derives a stable, fake location for a source id so the
// dashboard map has something to plot. It is not a geolocation database.
package geo

import (
	"crypto/md5"
	"math/big"

	"bot-admission-gateway/internal/core"
)

type region struct {
	code     string
	name     string
	lat, lng [2]float64
}

// Land-heavy boxes so markers rarely end up in the ocean.
var regions = []region{
	{"NA", "North America", [2]float64{30, 48}, [2]float64{-118, -80}},
	{"SA", "South America", [2]float64{-25, -5}, [2]float64{-65, -45}},
	{"EU", "Europe", [2]float64{45, 55}, [2]float64{5, 25}},
	{"AF", "Africa", [2]float64{0, 15}, [2]float64{10, 30}},
	{"AS", "Asia", [2]float64{20, 45}, [2]float64{80, 120}},
	{"OC", "Oceania", [2]float64{-33, -25}, [2]float64{135, 150}},
}

var datacenter = core.Location{Continent: "US", Name: "DC01-ASHBURN", Lat: 39.0438, Lng: -77.4874}

var thousand = big.NewInt(1000)

// Locate maps sourceID to a continent and a point inside its box. The same
// id always yields the same location.
func Locate(sourceID string) *core.Location {
	switch sourceID {
	case "127.0.0.1", "localhost", "::1":
		loc := datacenter
		return &loc
	}

	sum := md5.Sum([]byte(sourceID))
	h := new(big.Int).SetBytes(sum[:])

	idx := new(big.Int).Mod(h, big.NewInt(int64(len(regions)))).Int64()
	r := regions[idx]

	latFactor := fraction(new(big.Int).Rsh(h, 4))
	lngFactor := fraction(new(big.Int).Rsh(h, 8))

	return &core.Location{
		Continent: r.code,
		Name:      r.name,
		Lat:       r.lat[0] + latFactor*(r.lat[1]-r.lat[0]),
		Lng:       r.lng[0] + lngFactor*(r.lng[1]-r.lng[0]),
	}
}

func fraction(v *big.Int) float64 {
	return float64(new(big.Int).Mod(v, thousand).Int64()) / 1000.0
}
