package config

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/chrissnell/meterexporter/internal/log"
	"github.com/chrissnell/meterexporter/pkg/migrate"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens (creating if needed) a SQLite configuration database
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	migrator := migrate.NewMigrator(db, migrate.NewFSProvider(migrationsFS, "migrations", "schema_migrations"), log.Debugf)
	if err := migrator.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate configuration schema: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	meter, err := s.GetMeter()
	if err != nil {
		return nil, fmt.Errorf("failed to load meter: %w", err)
	}
	config.Meter = *meter

	validation, err := s.GetValidation()
	if err != nil {
		return nil, fmt.Errorf("failed to load validation: %w", err)
	}
	config.Validation = *validation

	channels, err := s.GetChannels()
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	config.Channels = channels

	server, err := s.GetServer()
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	config.Server = *server

	return config, nil
}

// GetMeter returns the meter configuration. An empty database yields an
// empty MeterData so that defaults apply.
func (s *SQLiteProvider) GetMeter() (*MeterData, error) {
	query := `
		SELECT name, hostname, port, serial_device, baud, framing,
		       slave_id, poll_interval, timeout, word_order
		FROM meter WHERE id = 1
	`

	var meter MeterData
	var hostname, port, serialDevice, framing, pollInterval, timeout, wordOrder sql.NullString
	var baud, slaveID sql.NullInt64

	err := s.db.QueryRow(query).Scan(
		&meter.Name, &hostname, &port, &serialDevice, &baud, &framing,
		&slaveID, &pollInterval, &timeout, &wordOrder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &meter, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter: %w", err)
	}

	meter.Hostname = hostname.String
	meter.Port = port.String
	meter.SerialDevice = serialDevice.String
	meter.Framing = framing.String
	meter.PollInterval = pollInterval.String
	meter.Timeout = timeout.String
	meter.WordOrder = wordOrder.String
	if baud.Valid {
		meter.Baud = int(baud.Int64)
	}
	if slaveID.Valid {
		meter.SlaveID = int(slaveID.Int64)
	}

	return &meter, nil
}

// GetValidation returns the global spike filter parameters
func (s *SQLiteProvider) GetValidation() (*ValidationData, error) {
	query := `SELECT min_valid_magnitude, consecutive_low_required, window_size FROM validation WHERE id = 1`

	var minMag sql.NullFloat64
	var required, window sql.NullInt64
	err := s.db.QueryRow(query).Scan(&minMag, &required, &window)
	if errors.Is(err, sql.ErrNoRows) {
		return &ValidationData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query validation: %w", err)
	}

	v := nullValidation(minMag, required, window)
	return &v, nil
}

// GetChannels returns channel configurations in their configured order
func (s *SQLiteProvider) GetChannels() ([]ChannelData, error) {
	query := `
		SELECT name, kind, address, metric, help, scale,
		       min_valid_magnitude, consecutive_low_required, window_size
		FROM channels
		ORDER BY position
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []ChannelData
	for rows.Next() {
		var ch ChannelData
		var address int64
		var metric, help sql.NullString
		var scale, minMag sql.NullFloat64
		var required, window sql.NullInt64

		err := rows.Scan(
			&ch.Name, &ch.Kind, &address, &metric, &help, &scale,
			&minMag, &required, &window,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}

		if address < 0 || address > 0xFFFF {
			return nil, fmt.Errorf("channel %q: register address %d out of range", ch.Name, address)
		}
		ch.Address = uint16(address)
		ch.Metric = metric.String
		ch.Help = help.String
		if scale.Valid {
			ch.Scale = scale.Float64
		}
		if minMag.Valid || required.Valid || window.Valid {
			v := nullValidation(minMag, required, window)
			ch.Validation = &v
		}

		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

// GetServer returns the listener configuration
func (s *SQLiteProvider) GetServer() (*ServerData, error) {
	var listenAddr sql.NullString
	err := s.db.QueryRow(`SELECT listen_addr FROM server WHERE id = 1`).Scan(&listenAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return &ServerData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query server: %w", err)
	}
	return &ServerData{ListenAddr: listenAddr.String}, nil
}

// IsReadOnly returns false since SQLite configuration can be modified
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.clearExistingConfig(tx); err != nil {
		return fmt.Errorf("failed to clear existing config: %w", err)
	}

	if err := s.insertMeter(tx, &configData.Meter); err != nil {
		return fmt.Errorf("failed to insert meter %s: %w", configData.Meter.Name, err)
	}

	_, err = tx.Exec(
		`INSERT INTO validation (id, min_valid_magnitude, consecutive_low_required, window_size) VALUES (1, ?, ?, ?)`,
		nullFloat(configData.Validation.MinValidMagnitude),
		nullInt(configData.Validation.ConsecutiveLowRequired),
		nullInt(configData.Validation.WindowSize),
	)
	if err != nil {
		return fmt.Errorf("failed to insert validation: %w", err)
	}

	for i := range configData.Channels {
		if err := s.insertChannel(tx, i, &configData.Channels[i]); err != nil {
			return fmt.Errorf("failed to insert channel %s: %w", configData.Channels[i].Name, err)
		}
	}

	_, err = tx.Exec(`INSERT INTO server (id, listen_addr) VALUES (1, ?)`, nullString(configData.Server.ListenAddr))
	if err != nil {
		return fmt.Errorf("failed to insert server: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteProvider) clearExistingConfig(tx *sql.Tx) error {
	queries := []string{
		"DELETE FROM meter",
		"DELETE FROM validation",
		"DELETE FROM channels",
		"DELETE FROM server",
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteProvider) insertMeter(tx *sql.Tx, meter *MeterData) error {
	query := `
		INSERT INTO meter (
			id, name, hostname, port, serial_device, baud, framing,
			slave_id, poll_interval, timeout, word_order, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`

	_, err := tx.Exec(query,
		meter.Name,
		nullString(meter.Hostname),
		nullString(meter.Port),
		nullString(meter.SerialDevice),
		nullInt(meter.Baud),
		nullString(meter.Framing),
		nullInt(meter.SlaveID),
		nullString(meter.PollInterval),
		nullString(meter.Timeout),
		nullString(meter.WordOrder),
	)
	return err
}

func (s *SQLiteProvider) insertChannel(tx *sql.Tx, position int, ch *ChannelData) error {
	query := `
		INSERT INTO channels (
			position, name, kind, address, metric, help, scale,
			min_valid_magnitude, consecutive_low_required, window_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var minMag sql.NullFloat64
	var required, window sql.NullInt64
	if ch.Validation != nil {
		minMag = nullFloat(ch.Validation.MinValidMagnitude)
		required = nullInt(ch.Validation.ConsecutiveLowRequired)
		window = nullInt(ch.Validation.WindowSize)
	}

	_, err := tx.Exec(query,
		position, ch.Name, ch.Kind, int64(ch.Address),
		nullString(ch.Metric), nullString(ch.Help), nullFloat(ch.Scale),
		minMag, required, window,
	)
	return err
}

func nullValidation(minMag sql.NullFloat64, required, window sql.NullInt64) ValidationData {
	var v ValidationData
	if minMag.Valid {
		v.MinValidMagnitude = minMag.Float64
	}
	if required.Valid {
		v.ConsecutiveLowRequired = int(required.Int64)
	}
	if window.Valid {
		v.WindowSize = int(window.Int64)
	}
	return v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}
