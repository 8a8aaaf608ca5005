package roles

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCapabilityTable(t *testing.T) {
	assert.Equal(t, true, Can(Admin, ViewAllPresence))
	assert.Equal(t, false, Can(Restaurant, ViewAllPresence))
	assert.Equal(t, true, Can(Driver, TrackLocation))
	assert.Equal(t, false, Can(Admin, TrackLocation))
	assert.Equal(t, false, Can(Driver, StockAlerts))
	assert.Equal(t, false, Can(Role("guest"), Messages))
}

func TestCapabilitiesSorted(t *testing.T) {
	assert.Equal(t, []Capability{Messages, Presence, TrackLocation}, Capabilities(Driver))
}

func TestParse(t *testing.T) {
	r, err := Parse(" Driver ")
	assert.Equal(t, nil, err)
	assert.Equal(t, Driver, r)

	_, err = Parse("courier")
	assert.NotEqual(t, nil, err)
}
