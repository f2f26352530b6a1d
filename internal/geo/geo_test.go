package geo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocate_Localhost(t *testing.T) {
	for _, id := range []string{"127.0.0.1", "localhost"} {
		loc := Locate(id)
		require.NotNil(t, loc)
		assert.Equal(t, "DC01-ASHBURN", loc.Name)
		assert.Equal(t, "US", loc.Continent)
		assert.Equal(t, 39.0438, loc.Lat)
		assert.Equal(t, -77.4874, loc.Lng)
	}
}

func TestLocate_Deterministic(t *testing.T) {
	a := Locate("203.0.113.7")
	b := Locate("203.0.113.7")
	assert.Equal(t, a, b)
}

func TestLocate_InsideBoundingBox(t *testing.T) {
	byCode := map[string]region{}
	for _, r := range regions {
		byCode[r.code] = r
	}

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		loc := Locate(fmt.Sprintf("198.51.%d.%d", i/256, i%256))
		r, ok := byCode[loc.Continent]
		require.True(t, ok, "unknown continent %q", loc.Continent)
		assert.Equal(t, r.name, loc.Name)
		assert.GreaterOrEqual(t, loc.Lat, r.lat[0])
		assert.LessOrEqual(t, loc.Lat, r.lat[1])
		assert.GreaterOrEqual(t, loc.Lng, r.lng[0])
		assert.LessOrEqual(t, loc.Lng, r.lng[1])
		seen[loc.Continent] = true
	}
	assert.Len(t, seen, len(regions))
}
