package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

// DetectionRepository implements store.Store on top of SQLite.
type DetectionRepository struct {
	db *DB
}

var _ store.Store = (*DetectionRepository)(nil)

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Append inserts the valid detections of one result in a single transaction.
func (r *DetectionRepository) Append(result model.DetectionResult) (store.AppendStats, error) {
	vehicles, objects, rejected := store.Split(result)
	stats := store.AppendStats{Rejected: rejected}
	if len(vehicles) == 0 && len(objects) == 0 {
		return stats, nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	vehicleStmt, err := tx.Prepare(`
		INSERT INTO vehicles (frame_seq, source, vehicle_type, confidence, color, license_plate, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return stats, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer vehicleStmt.Close()

	for _, v := range vehicles {
		var plate sql.NullString
		if v.LicensePlate != nil {
			plate = sql.NullString{String: *v.LicensePlate, Valid: true}
		}
		if _, err := vehicleStmt.Exec(v.FrameSeq, v.Source, v.Type, v.Confidence, v.Color, plate, v.DetectedAt); err != nil {
			return stats, fmt.Errorf("failed to insert vehicle: %w", err)
		}
	}

	objectStmt, err := tx.Prepare(`
		INSERT INTO objects (frame_seq, source, object_type, confidence, location, size_category, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return stats, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer objectStmt.Close()

	for _, o := range objects {
		if _, err := objectStmt.Exec(o.FrameSeq, o.Source, o.Type, o.Confidence, o.Location, o.SizeCategory, o.DetectedAt); err != nil {
			return stats, fmt.Errorf("failed to insert object: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit detections: %w", err)
	}

	stats.Vehicles = len(vehicles)
	stats.Objects = len(objects)
	return stats, nil
}

// Summary aggregates counts, type distribution and mean confidence.
func (r *DetectionRepository) Summary() (store.Summary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	sum := store.Summary{
		VehicleTypes: make(map[string]int),
		ObjectTypes:  make(map[string]int),
	}

	var err error
	if sum.Vehicles, sum.AvgVehicleConfidence, err = r.totals("vehicles"); err != nil {
		return sum, err
	}
	if sum.Objects, sum.AvgObjectConfidence, err = r.totals("objects"); err != nil {
		return sum, err
	}
	if err := r.distribution("vehicles", "vehicle_type", sum.VehicleTypes); err != nil {
		return sum, err
	}
	if err := r.distribution("objects", "object_type", sum.ObjectTypes); err != nil {
		return sum, err
	}
	return sum, nil
}

// table and column names below come from constants in this file only.
func (r *DetectionRepository) totals(table string) (int, float64, error) {
	var count int
	var avg sql.NullFloat64
	row := r.db.Conn().QueryRow(`SELECT COUNT(*), AVG(confidence) FROM ` + table)
	if err := row.Scan(&count, &avg); err != nil {
		return 0, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, avg.Float64, nil
}

func (r *DetectionRepository) distribution(table, column string, into map[string]int) error {
	rows, err := r.db.Conn().Query(`SELECT ` + column + `, COUNT(*) FROM ` + table + ` GROUP BY ` + column)
	if err != nil {
		return fmt.Errorf("failed to query %s distribution: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return fmt.Errorf("failed to scan %s distribution: %w", table, err)
		}
		into[name] = count
	}
	return rows.Err()
}

// Recent returns the last limit rows of each table, oldest first.
func (r *DetectionRepository) Recent(limit int) (store.Recent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var recent store.Recent

	rows, err := r.db.Conn().Query(`
		SELECT frame_seq, source, vehicle_type, confidence, color, license_plate, detected_at
		FROM vehicles ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return recent, fmt.Errorf("failed to query vehicles: %w", err)
	}
	for rows.Next() {
		var v store.VehicleRecord
		var plate sql.NullString
		if err := rows.Scan(&v.FrameSeq, &v.Source, &v.Type, &v.Confidence, &v.Color, &plate, &v.DetectedAt); err != nil {
			rows.Close()
			return recent, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		if plate.Valid {
			p := plate.String
			v.LicensePlate = &p
		}
		recent.Vehicles = append(recent.Vehicles, v)
	}
	rows.Close()

	rows, err = r.db.Conn().Query(`
		SELECT frame_seq, source, object_type, confidence, location, size_category, detected_at
		FROM objects ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return recent, fmt.Errorf("failed to query objects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o store.ObjectRecord
		if err := rows.Scan(&o.FrameSeq, &o.Source, &o.Type, &o.Confidence, &o.Location, &o.SizeCategory, &o.DetectedAt); err != nil {
			return recent, fmt.Errorf("failed to scan object: %w", err)
		}
		recent.Objects = append(recent.Objects, o)
	}
	if err := rows.Err(); err != nil {
		return recent, fmt.Errorf("failed to read objects: %w", err)
	}

	reverse(recent.Vehicles)
	reverse(recent.Objects)
	return recent, nil
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// Reset removes every detection of the session.
func (r *DetectionRepository) Reset() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM vehicles; DELETE FROM objects;`); err != nil {
		return fmt.Errorf("failed to reset detections: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *DetectionRepository) Close() error {
	return r.db.Close()
}
