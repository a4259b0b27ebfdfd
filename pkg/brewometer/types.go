package brewometer

import (
	"math"
	"time"
)

// TimeFormat denotes the human-readable timestamp layout stored alongside epoch values
const TimeFormat = "2006-01-02 15:04"

const (
	minBatteryVoltage = 1.95
	maxBatteryVoltage = 3.53
)

// Slot denotes a characteristic (value) handle on the device
type Slot uint16

// Slots denotes the set of characteristic handles read during a poll
type Slots struct {
	Type        Slot `json:"type"`
	Temperature Slot `json:"temperature"`
	Tilt        Slot `json:"tilt"`
	Battery     Slot `json:"battery"`
}

// DefaultSlots returns the characteristic handles of the current hardware revision
func DefaultSlots() Slots {
	return Slots{
		Type:        0x33,
		Temperature: 0x37,
		Tilt:        0x3b,
		Battery:     0x48,
	}
}

// Measurement denotes a single sample taken from a brewometer
type Measurement struct {
	TimeStamp   time.Time `json:"timestamp"`
	Type        int       `json:"type"`
	Temperature int       `json:"temperature"`
	Tilt        int       `json:"tilt"`
	Gravity     float64   `json:"gravity"`
	BatteryRaw  int       `json:"battery_raw"`
}

// Battery returns the battery level in volts
func (m Measurement) Battery() float64 {
	return BatteryVoltage(m.BatteryRaw)
}

// BatteryPercent returns the battery level in percent of the raw byte range
func (m Measurement) BatteryPercent() int {
	return int(100 * (float64(m.BatteryRaw) / 255.))
}

// BatteryVoltage converts a raw battery reading to volts
func BatteryVoltage(raw int) float64 {
	return minBatteryVoltage + (maxBatteryVoltage-minBatteryVoltage)*float64(raw)/100.
}

// RoundTo rounds a value to the given number of decimals
func RoundTo(val float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(val*p) / p
}

// FormatTime returns the human-readable representation of a timestamp
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimeFormat)
}

// Device denotes a registered brewometer
type Device struct {
	ID      int64  `json:"id"`
	Address string `json:"address"`
	Color   string `json:"color"`
	Name    string `json:"name"`
	BrewID  int64  `json:"brew_id"`
}

// IsBrewing returns if the device is currently assigned to an active brew
func (d Device) IsBrewing() bool {
	return d.BrewID > 0
}

// Brew denotes a tracked fermentation batch
type Brew struct {
	ID         int64     `json:"id"`
	DeviceID   int64     `json:"device_id"`
	Name       string    `json:"name"`
	Started    time.Time `json:"started"`
	Stopped    time.Time `json:"stopped"`
	LastUpdate time.Time `json:"last_update"`
}

// IsActive returns if the brew has not been stopped yet
func (b Brew) IsActive() bool {
	return b.Stopped.IsZero()
}

// Record denotes a measurement as attributed to a device and brew
type Record struct {
	DeviceID int64  `json:"device_id"`
	BrewID   int64  `json:"brew_id"`
	Address  string `json:"address"`
	Measurement
}

// Advertisement denotes a brewometer discovered during a scan
type Advertisement struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
}
