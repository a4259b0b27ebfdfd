package brewometer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatteryVoltage(t *testing.T) {
	assert.InDelta(t, 1.95, BatteryVoltage(0), 1e-9)
	assert.InDelta(t, 3.53, BatteryVoltage(100), 1e-9)
	assert.InDelta(t, 2.74, BatteryVoltage(50), 1e-9)
}

func TestBatteryPercent(t *testing.T) {
	assert.Equal(t, 0, Measurement{BatteryRaw: 0}.BatteryPercent())
	assert.Equal(t, 100, Measurement{BatteryRaw: 255}.BatteryPercent())
	assert.Equal(t, 50, Measurement{BatteryRaw: 128}.BatteryPercent())
}

func TestParseTilt(t *testing.T) {
	v, err := parseTilt([]byte{0x58})
	assert.Nil(t, err)
	assert.Equal(t, 88, v)

	v, err = parseTilt([]byte{0x01, 0x02})
	assert.Nil(t, err)
	assert.Equal(t, 0x0201, v)

	_, err = parseTilt(nil)
	assert.NotNil(t, err)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", FormatTime(time.Time{}))
	assert.Equal(t, "2024-03-01 18:30", FormatTime(time.Date(2024, 3, 1, 18, 30, 59, 0, time.Local)))
}

func TestStateHelpers(t *testing.T) {
	assert.False(t, Device{}.IsBrewing())
	assert.True(t, Device{BrewID: 3}.IsBrewing())
	assert.True(t, Brew{Started: time.Now()}.IsActive())
	assert.False(t, Brew{Started: time.Now(), Stopped: time.Now()}.IsActive())
	assert.Equal(t, 1.069, RoundTo(1.06891, 3))
}
