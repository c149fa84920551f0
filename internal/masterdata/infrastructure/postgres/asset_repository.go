package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "wellhead-monitor/internal/masterdata/domain"
)

// AssetRepository reads and writes fields, locations, wellheads, parameter
// types and device/parameter mappings.
type AssetRepository struct {
	db DBTX
}

// NewAssetRepository constructs a repository.
func NewAssetRepository(db DBTX) *AssetRepository {
	return &AssetRepository{db: db}
}

// ListFields returns all fields.
func (r *AssetRepository) ListFields(ctx context.Context) ([]masterdata.Field, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("asset repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, region, created_at
FROM fields
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Field
	for rows.Next() {
		var field masterdata.Field
		var region sql.NullString
		if err := rows.Scan(&field.ID, &field.Name, &region, &field.CreatedAt); err != nil {
			return nil, err
		}
		field.Region = region.String
		field.CreatedAt = field.CreatedAt.UTC()
		result = append(result, field)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListLocations returns all locations.
func (r *AssetRepository) ListLocations(ctx context.Context) ([]masterdata.Location, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("asset repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, field_id, name, latitude, longitude, created_at
FROM locations
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Location
	for rows.Next() {
		var location masterdata.Location
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&location.ID, &location.FieldID, &location.Name, &lat, &lon, &location.CreatedAt); err != nil {
			return nil, err
		}
		location.Latitude = lat.Float64
		location.Longitude = lon.Float64
		location.CreatedAt = location.CreatedAt.UTC()
		result = append(result, location)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListDevices returns all wellheads.
func (r *AssetRepository) ListDevices(ctx context.Context) ([]masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("asset repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, location_id, name, device_type, status, created_at
FROM devices
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Device
	for rows.Next() {
		var device masterdata.Device
		if err := rows.Scan(&device.ID, &device.LocationID, &device.Name, &device.DeviceType, &device.Status, &device.CreatedAt); err != nil {
			return nil, err
		}
		device.CreatedAt = device.CreatedAt.UTC()
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListParameterTypes returns the parameter catalog.
func (r *AssetRepository) ListParameterTypes(ctx context.Context) ([]masterdata.ParameterType, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("asset repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, code, display_name, unit, data_type, precision, normal_min, normal_max, description, category
FROM parameter_types
ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.ParameterType
	for rows.Next() {
		var param masterdata.ParameterType
		var dataType, category string
		var normalMin, normalMax sql.NullFloat64
		var description sql.NullString
		if err := rows.Scan(
			&param.ID,
			&param.Code,
			&param.DisplayName,
			&param.Unit,
			&dataType,
			&param.Precision,
			&normalMin,
			&normalMax,
			&description,
			&category,
		); err != nil {
			return nil, err
		}
		param.DataType = masterdata.DataType(dataType)
		param.Category = masterdata.Category(category)
		param.Description = description.String
		if normalMin.Valid {
			v := normalMin.Float64
			param.NormalMin = &v
		}
		if normalMax.Valid {
			v := normalMax.Float64
			param.NormalMax = &v
		}
		result = append(result, param)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListMappings returns every device/parameter mapping.
func (r *AssetRepository) ListMappings(ctx context.Context) ([]masterdata.ParameterMapping, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("asset repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_id, parameter_code, active
FROM device_parameter_mappings
ORDER BY device_id ASC, parameter_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.ParameterMapping
	for rows.Next() {
		var mapping masterdata.ParameterMapping
		if err := rows.Scan(&mapping.DeviceID, &mapping.ParameterCode, &mapping.Active); err != nil {
			return nil, err
		}
		result = append(result, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveField upserts a field.
func (r *AssetRepository) SaveField(ctx context.Context, field masterdata.Field) error {
	if err := field.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO fields (id, name, region)
VALUES ($1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name, region = EXCLUDED.region`,
		field.ID, field.Name, nullableString(field.Region))
	return err
}

// SaveLocation upserts a location.
func (r *AssetRepository) SaveLocation(ctx context.Context, location masterdata.Location) error {
	if err := location.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO locations (id, field_id, name, latitude, longitude)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id)
DO UPDATE SET
	field_id = EXCLUDED.field_id,
	name = EXCLUDED.name,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude`,
		location.ID, location.FieldID, location.Name, location.Latitude, location.Longitude)
	return err
}

// SaveDevice upserts a wellhead.
func (r *AssetRepository) SaveDevice(ctx context.Context, device masterdata.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if device.Status == "" {
		device.Status = masterdata.DeviceStatusActive
	}
	if device.DeviceType == "" {
		device.DeviceType = "wellhead"
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (id, location_id, name, device_type, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id)
DO UPDATE SET
	location_id = EXCLUDED.location_id,
	name = EXCLUDED.name,
	device_type = EXCLUDED.device_type,
	status = EXCLUDED.status`,
		device.ID, device.LocationID, device.Name, device.DeviceType, device.Status)
	return err
}

// SaveParameterType upserts a parameter type keyed by code.
func (r *AssetRepository) SaveParameterType(ctx context.Context, param masterdata.ParameterType) error {
	if err := param.Validate(); err != nil {
		return err
	}
	if param.ID == "" {
		param.ID = param.Code
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO parameter_types (
	id, code, display_name, unit, data_type, precision, normal_min, normal_max, description, category
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (code)
DO UPDATE SET
	display_name = EXCLUDED.display_name,
	unit = EXCLUDED.unit,
	data_type = EXCLUDED.data_type,
	precision = EXCLUDED.precision,
	normal_min = EXCLUDED.normal_min,
	normal_max = EXCLUDED.normal_max,
	description = EXCLUDED.description,
	category = EXCLUDED.category`,
		param.ID, param.Code, param.DisplayName, param.Unit, string(param.DataType), param.Precision,
		nullableFloat(param.NormalMin), nullableFloat(param.NormalMax), nullableString(param.Description), string(param.Category))
	return err
}

// SaveMapping upserts a device/parameter mapping.
func (r *AssetRepository) SaveMapping(ctx context.Context, mapping masterdata.ParameterMapping) error {
	if mapping.DeviceID == "" || mapping.ParameterCode == "" {
		return errors.New("asset repo: mapping missing device or parameter")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO device_parameter_mappings (device_id, parameter_code, active)
VALUES ($1, $2, $3)
ON CONFLICT (device_id, parameter_code)
DO UPDATE SET active = EXCLUDED.active`,
		mapping.DeviceID, mapping.ParameterCode, mapping.Active)
	return err
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
