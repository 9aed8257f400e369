package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"homerules/internal/device"
	"homerules/internal/models"
	"homerules/internal/utils"

	"github.com/jackc/pgx/v5"
)

// LoadObject fetches a stored document by id
func (d *DB) LoadObject(ctx context.Context, id string) (utils.Fields, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, "SELECT body FROM objects WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var obj utils.Fields
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return obj, nil
}

// SaveObject inserts or replaces a stored document
func (d *DB) SaveObject(ctx context.Context, id string, obj utils.Fields) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("object %s: %w", id, err)
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO objects (id, body, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`, id, raw)
	return err
}

// GetAllDevices fetches every device definition
func (d *DB) GetAllDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx, "SELECT device_id, name, enabled, parameters, state FROM devices")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var m models.Device
		if err := rows.Scan(&m.ID, &m.Name, &m.Enabled, &m.Parameters, &m.State); err != nil {
			return nil, err
		}
		devices = append(devices, m)
	}
	return devices, rows.Err()
}

// LoadDevices returns the device definitions converted for the registry, along with their last states
func (d *DB) LoadDevices(ctx context.Context) ([]*device.Device, map[string]map[string]any, error) {
	rows, err := d.GetAllDevices(ctx)
	if err != nil {
		return nil, nil, err
	}
	devices := make([]*device.Device, 0, len(rows))
	states := make(map[string]map[string]any)
	for _, m := range rows {
		dev, err := m.ToDevice()
		if err != nil {
			d.logger.Warn().Err(err).Msg("skipping device")
			continue
		}
		devices = append(devices, dev)
		if st, err := m.InitialState(); err == nil && st != nil {
			states[dev.ID] = st
		}
	}
	return devices, states, nil
}

// UpdateDeviceState updates device state
func (d *DB) UpdateDeviceState(ctx context.Context, id string, state json.RawMessage) error {
	_, err := d.pool.Exec(ctx, "UPDATE devices SET state = $1 WHERE device_id = $2", state, id)
	return err
}

// LogAction logs to history
func (d *DB) LogAction(ctx context.Context, ruleID, deviceID string, state json.RawMessage) error {
	_, err := d.pool.Exec(ctx, "INSERT INTO device_states_history (rule_id, device_id, timestamp, state) VALUES ($1, $2, NOW(), $3)", ruleID, deviceID, state)
	return err
}

// History returns the most recent rule applications for a device, newest first
func (d *DB) History(ctx context.Context, deviceID string, limit int) ([]models.DeviceStateHistory, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, rule_id, device_id, timestamp, state FROM device_states_history WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2",
		deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rslt []models.DeviceStateHistory
	for rows.Next() {
		var h models.DeviceStateHistory
		if err := rows.Scan(&h.ID, &h.RuleID, &h.DeviceID, &h.Timestamp, &h.State); err != nil {
			return nil, err
		}
		rslt = append(rslt, h)
	}
	return rslt, rows.Err()
}
