package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed sql/*.sql
var queries embed.FS

// ErrUnknownBrew denotes a brew id that does not exist
var ErrUnknownBrew = errors.New("unknown brew")

var errIDClaimed = errors.New("device id claimed concurrently")

// Registry denotes the persistent store of devices, brews and measurements
type Registry struct {
	db    *sql.DB
	namer Namer
	now   func() time.Time

	logger brewometer.Logger

	// Serializes all mutating transactions
	dbLock sync.Mutex
}

// Open opens (and if required creates) the SQLite database at the given path,
// executing functional options, if any
func Open(path string, options ...func(*Registry)) (*Registry, error) {

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeError(err)
	}

	// A single connection serializes access and keeps in-memory databases alive
	db.SetMaxOpenConns(1)

	r, err := New(db, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return r, nil
}

// New instantiates a Registry on top of an existing database handle and
// ensures the schema exists
func New(db *sql.DB, options ...func(*Registry)) (*Registry, error) {

	r := &Registry{
		db:     db,
		namer:  DefaultNamer{},
		now:    time.Now,
		logger: &brewometer.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(r)
	}

	if err := r.db.Ping(); err != nil {
		return nil, storeError(err)
	}
	if _, err := r.db.Exec(query("schema.sql")); err != nil {
		return nil, storeError(fmt.Errorf("failed to create schema: %w", err))
	}

	return r, nil
}

// Close closes the underlying database
func (r *Registry) Close() error {
	return r.db.Close()
}

// HasDevice returns the id of the device with the given address (or 0 if unknown)
func (r *Registry) HasDevice(ctx context.Context, address string) (int64, error) {
	return hasDevice(ctx, r.db, address)
}

// Device returns the device with the given id
func (r *Registry) Device(ctx context.Context, id int64) (brewometer.Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT d_id, adr, color, name, brew_id FROM brewometers WHERE d_id = ?", id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return brewometer.Device{}, fmt.Errorf("%w: id %d", brewometer.ErrUnknownDevice, id)
	}
	return d, err
}

// Devices returns all registered devices, ordered by id
func (r *Registry) Devices(ctx context.Context) ([]brewometer.Device, error) {
	return r.queryDevices(ctx, "SELECT d_id, adr, color, name, brew_id FROM brewometers ORDER BY d_id")
}

// ActiveDevices returns all devices currently assigned to a brew, ordered by id
func (r *Registry) ActiveDevices(ctx context.Context) ([]brewometer.Device, error) {
	return r.queryDevices(ctx, "SELECT d_id, adr, color, name, brew_id FROM brewometers WHERE brew_id > 0 ORDER BY d_id")
}

// ActiveDeviceAddresses returns the addresses of all devices currently
// assigned to a brew
func (r *Registry) ActiveDeviceAddresses(ctx context.Context) ([]string, error) {
	devices, err := r.ActiveDevices(ctx)
	if err != nil {
		return nil, err
	}

	addresses := make([]string, 0, len(devices))
	for _, d := range devices {
		addresses = append(addresses, d.Address)
	}
	return addresses, nil
}

// RegisterDevice registers a device with the given address, consulting the
// naming provider for its name and color. Registering a known address returns
// the existing id
func (r *Registry) RegisterDevice(ctx context.Context, address string) (int64, error) {

	id, err := r.HasDevice(ctx, address)
	if err != nil || id > 0 {
		return id, err
	}

	// The naming provider may block (e.g. on user input), so it is consulted
	// outside of the write transaction. If a concurrent registration claimed
	// the id in the meantime, the device is named again for its actual id
	for {
		provisionalID, err := nextID(ctx, r.db, "SELECT COALESCE(MAX(d_id), 0) FROM brewometers")
		if err != nil {
			return 0, err
		}
		name, color, err := r.namer.Name(ctx, provisionalID, address)
		if err != nil {
			return 0, fmt.Errorf("failed to name device `%s`: %w", address, err)
		}

		err = r.withTx(ctx, func(tx *sql.Tx) error {
			if id, err = hasDevice(ctx, tx, address); err != nil || id > 0 {
				return err
			}
			if id, err = nextID(ctx, tx, "SELECT COALESCE(MAX(d_id), 0) FROM brewometers"); err != nil {
				return err
			}
			if id != provisionalID {
				return errIDClaimed
			}
			_, err = tx.ExecContext(ctx, "INSERT INTO brewometers (d_id, adr, color, name, brew_id) VALUES (?, ?, ?, ?, 0)",
				id, address, color, name)
			return err
		})
		if errors.Is(err, errIDClaimed) {
			r.logger.Debugf("id %d was claimed concurrently, renaming device `%s`", provisionalID, address)
			continue
		}
		if err != nil {
			return 0, err
		}

		r.logger.Infof("registered device `%s` as %d (%s, %s)", address, id, name, color)
		return id, nil
	}
}
// StartBrew starts a new brew on an idle device and returns its id
func (r *Registry) StartBrew(ctx context.Context, deviceID int64, name string) (brewID int64, err error) {

	now := r.now()
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		activeID, err := activeBrew(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		if activeID > 0 {
			return fmt.Errorf("%w: device %d is already brewing (brew %d)", brewometer.ErrInvalidBrewTransition, deviceID, activeID)
		}

		if brewID, err = nextID(ctx, tx, "SELECT COALESCE(MAX(brew_id), 0) FROM brews"); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO brews (brew_id, d_id, name, started_time, started_time_txt) VALUES (?, ?, ?, ?, ?)",
			brewID, deviceID, name, now.Unix(), brewometer.FormatTime(now)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE brewometers SET brew_id = ? WHERE d_id = ?", brewID, deviceID)
		return err
	})
	if err != nil {
		return 0, err
	}

	r.logger.Infof("started brew %d (%s) on device %d", brewID, name, deviceID)
	return brewID, nil
}

// StopBrew stops the active brew of a device. Stopping an idle device is a no-op
func (r *Registry) StopBrew(ctx context.Context, deviceID int64) error {

	now := r.now()
	var brewID int64
	err := r.withTx(ctx, func(tx *sql.Tx) (err error) {
		if brewID, err = activeBrew(ctx, tx, deviceID); err != nil {
			return err
		}

		// Always clear the flag, even if no brew was recorded as active
		if _, err = tx.ExecContext(ctx, "UPDATE brewometers SET brew_id = 0 WHERE d_id = ?", deviceID); err != nil {
			return err
		}
		if brewID <= 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE brews SET stopped_time = ?, stopped_time_txt = ? WHERE brew_id = ? AND stopped_time IS NULL",
			now.Unix(), brewometer.FormatTime(now), brewID)
		return err
	})
	if err != nil {
		return err
	}

	if brewID > 0 {
		r.logger.Infof("stopped brew %d on device %d", brewID, deviceID)
	} else {
		r.logger.Debugf("device %d has no active brew, nothing to stop", deviceID)
	}
	return nil
}

// RecordMeasurement stores a measurement, attributing it to the brew that is
// active on the device at the time of the call
func (r *Registry) RecordMeasurement(ctx context.Context, address string, m brewometer.Measurement) (brewometer.Record, error) {

	if m.TimeStamp.IsZero() {
		m.TimeStamp = r.now()
	}
	rec := brewometer.Record{
		Address:     address,
		Measurement: m,
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT d_id, brew_id FROM brewometers WHERE adr = ?", address).Scan(&rec.DeviceID, &rec.BrewID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: address `%s`", brewometer.ErrUnknownDevice, address)
		}
		if err != nil {
			return err
		}

		if rec.BrewID > 0 {
			if _, err = tx.ExecContext(ctx, "UPDATE brews SET last_update = ? WHERE brew_id = ?", m.TimeStamp.Unix(), rec.BrewID); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO measurements (d_id, brew_id, timestamp, timestamp_txt, temp, grav_meas, grav_calc, battery) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			rec.DeviceID, rec.BrewID, m.TimeStamp.Unix(), brewometer.FormatTime(m.TimeStamp), m.Temperature, m.Tilt, m.Gravity, m.Battery())
		return err
	})
	if err != nil {
		return brewometer.Record{}, err
	}

	return rec, nil
}

// Brew returns the brew with the given id
func (r *Registry) Brew(ctx context.Context, id int64) (brewometer.Brew, error) {
	row := r.db.QueryRowContext(ctx, "SELECT brew_id, d_id, name, started_time, stopped_time, last_update FROM brews WHERE brew_id = ?", id)

	b, err := scanBrew(row)
	if errors.Is(err, sql.ErrNoRows) {
		return brewometer.Brew{}, fmt.Errorf("%w: id %d", ErrUnknownBrew, id)
	}
	return b, err
}

// Brews returns all brews, ordered by id
func (r *Registry) Brews(ctx context.Context) ([]brewometer.Brew, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT brew_id, d_id, name, started_time, stopped_time, last_update FROM brews ORDER BY brew_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brews []brewometer.Brew
	for rows.Next() {
		b, err := scanBrew(rows)
		if err != nil {
			return nil, err
		}
		brews = append(brews, b)
	}
	return brews, rows.Err()
}

// Measurements returns all measurements attributed to a brew (use 0 for
// measurements taken while idle), ordered by capture time
func (r *Registry) Measurements(ctx context.Context, brewID int64) ([]brewometer.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT m.d_id, m.brew_id, COALESCE(d.adr, ''), m.timestamp, m.temp, m.grav_meas, m.grav_calc, m.battery
		FROM measurements m LEFT JOIN brewometers d ON d.d_id = m.d_id
		WHERE m.brew_id = ? ORDER BY m.timestamp, m.rowid`, brewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []brewometer.Record
	for rows.Next() {
		var (
			rec     brewometer.Record
			ts      int64
			battery float64
		)
		if err := rows.Scan(&rec.DeviceID, &rec.BrewID, &rec.Address, &ts, &rec.Temperature, &rec.Tilt, &rec.Gravity, &battery); err != nil {
			return nil, err
		}
		rec.TimeStamp = time.Unix(ts, 0)
		rec.BatteryRaw = batteryRaw(battery)
		records = append(records, rec)
	}
	return records, rows.Err()
}

////////////////////////////////////////////////////////////////////////////////

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *Registry) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	r.dbLock.Lock()
	defer r.dbLock.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			r.logger.Warnf("failed to roll back transaction: %s", rerr)
		}
		return err
	}

	return tx.Commit()
}

func (r *Registry) queryDevices(ctx context.Context, stmt string) ([]brewometer.Device, error) {
	rows, err := r.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []brewometer.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func hasDevice(ctx context.Context, q querier, address string) (id int64, err error) {
	err = q.QueryRowContext(ctx, "SELECT d_id FROM brewometers WHERE adr = ?", address).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func activeBrew(ctx context.Context, q querier, deviceID int64) (int64, error) {
	var brewID sql.NullInt64
	err := q.QueryRowContext(ctx, "SELECT brew_id FROM brewometers WHERE d_id = ?", deviceID).Scan(&brewID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: id %d", brewometer.ErrUnknownDevice, deviceID)
	}
	return brewID.Int64, err
}

func nextID(ctx context.Context, q querier, stmt string) (int64, error) {
	var maxID int64
	if err := q.QueryRowContext(ctx, stmt).Scan(&maxID); err != nil {
		return 0, err
	}
	return maxID + 1, nil
}

func scanDevice(s scanner) (d brewometer.Device, err error) {
	var (
		color, name sql.NullString
		brewID      sql.NullInt64
	)
	if err = s.Scan(&d.ID, &d.Address, &color, &name, &brewID); err != nil {
		return
	}
	d.Color, d.Name, d.BrewID = color.String, name.String, brewID.Int64
	return
}

func scanBrew(s scanner) (b brewometer.Brew, err error) {
	var (
		name                         sql.NullString
		started, stopped, lastUpdate sql.NullInt64
	)
	if err = s.Scan(&b.ID, &b.DeviceID, &name, &started, &stopped, &lastUpdate); err != nil {
		return
	}
	b.Name = name.String
	b.Started = fromEpoch(started)
	b.Stopped = fromEpoch(stopped)
	b.LastUpdate = fromEpoch(lastUpdate)
	return
}

func fromEpoch(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0)
}

// Only volts are persisted, the raw reading is recovered from the affine map
func batteryRaw(volts float64) int {
	return int(math.Round((volts - brewometer.BatteryVoltage(0)) / (brewometer.BatteryVoltage(100) - brewometer.BatteryVoltage(0)) * 100.))
}

func storeError(err error) error {
	return fmt.Errorf("%w: %s", brewometer.ErrStoreUnavailable, err)
}

func query(name string) string {
	data, err := queries.ReadFile("sql/" + name)
	if err != nil {
		panic(err)
	}
	return string(data)
}
