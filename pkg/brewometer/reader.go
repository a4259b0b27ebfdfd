package brewometer

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fako1024/brewster/pkg/calibration"
)

const defaultReadTimeout = 30 * time.Second

// Reader performs a single poll of a brewometer via a Transport
type Reader struct {
	transport Transport
	model     *calibration.Model
	slots     Slots
	timeout   time.Duration
	now       func() time.Time

	logger Logger
}

// NewReader instantiates a new Reader, executing functional options, if any
func NewReader(transport Transport, options ...func(*Reader)) *Reader {
	r := &Reader{
		transport: transport,
		slots:     DefaultSlots(),
		timeout:   defaultReadTimeout,
		now:       time.Now,
		logger:    &NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(r)
	}

	if r.model == nil {
		r.model = calibration.MustDefault()
	}

	return r
}

// Read connects to the device with the given address and reads a single
// measurement. Any failure is returned as *ReadFailure
func (r *Reader) Read(ctx context.Context, address string) (m Measurement, err error) {

	// A misbehaving transport must never take down the caller
	defer func() {
		if rec := recover(); rec != nil {
			m, err = Measurement{}, newReadFailure(address, ErrTransportUnavailable, fmt.Errorf("transport panic: %v", rec))
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Debugf("connecting device `%s`", address)
	conn, err := r.transport.Connect(ctx, address)
	if err != nil {
		return Measurement{}, newReadFailure(address, ErrTransportUnavailable, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warnf("failed to disconnect device `%s`: %s", address, cerr)
		}
		r.logger.Debugf("disconnected device `%s`", address)
	}()

	var payloads [4][]byte
	for i, slot := range []Slot{r.slots.Type, r.slots.Temperature, r.slots.Tilt, r.slots.Battery} {
		if payloads[i], err = conn.ReadCharacteristic(ctx, slot); err != nil {
			return Measurement{}, newReadFailure(address, ErrTransportUnavailable, fmt.Errorf("failed to read slot 0x%02x: %w", slot, err))
		}
	}

	m, err = r.decode(payloads[0], payloads[1], payloads[2], payloads[3])
	if err != nil {
		return Measurement{}, newReadFailure(address, ErrMalformedReading, err)
	}

	return m, nil
}

////////////////////////////////////////////////////////////////////////////////

func (r *Reader) decode(bType, bTemp, bTilt, bBatt []byte) (Measurement, error) {
	for name, b := range map[string][]byte{
		"type":        bType,
		"temperature": bTemp,
		"battery":     bBatt,
	} {
		if len(b) == 0 {
			return Measurement{}, fmt.Errorf("empty %s payload", name)
		}
	}

	tilt, err := parseTilt(bTilt)
	if err != nil {
		return Measurement{}, err
	}

	return Measurement{
		TimeStamp:   r.now().Truncate(time.Second),
		Type:        int(bType[0]),
		Temperature: int(bTemp[0]),
		Tilt:        tilt,
		Gravity:     r.model.Convert(tilt),
		BatteryRaw:  int(bBatt[0]),
	}, nil
}

func parseTilt(data []byte) (int, error) {
	switch len(data) {
	case 1:
		return int(data[0]), nil
	case 2:
		return int(binary.LittleEndian.Uint16(data)), nil
	default:
		return 0, fmt.Errorf("unexpected tilt payload length %d", len(data))
	}
}
