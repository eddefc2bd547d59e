package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ventture/credit-engine/internal/engine"
)

// Store records and lists evaluation history. Inserts run on the
// request path, so failures are logged and surfaced but must never
// fail the evaluation itself; the caller decides how to react.
type Store struct {
	db *DB
}

// NewStore creates a history store over an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// RecordEvaluation persists one finished report and returns the stored
// record, including its generated ID.
func (s *Store) RecordEvaluation(report engine.DecisionReport, modelFamily, schemaVersion, ipAddress, userAgent string) (*EvaluationRecord, error) {
	rec := NewEvaluationRecord(report, modelFamily, schemaVersion, ipAddress, userAgent)

	inputsJSON, err := json.Marshal(report.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}
	rec.Inputs = string(inputsJSON)

	contribsJSON, err := json.Marshal(report.Contributions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contributions: %w", err)
	}
	rec.Contributions = string(contribsJSON)

	stmt, err := s.db.GetPreparedStatement("insert_evaluation")
	if err != nil {
		return nil, err
	}

	_, err = stmt.Exec(
		rec.ID, rec.SchemaVersion, rec.ModelFamily, rec.Inputs,
		rec.Probability, rec.Threshold, rec.Label,
		rec.TopFeature, rec.TopContribution, rec.Contributions,
		rec.IPAddress, rec.UserAgent, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert evaluation: %w", err)
	}

	slog.Debug("Evaluation recorded", "id", rec.ID, "label", rec.Label)

	return rec, nil
}

// RecordOffer persists one accepted product offer.
func (s *Store) RecordOffer(rec *OfferRecord) error {
	stmt, err := s.db.GetPreparedStatement("insert_offer")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		rec.ID, rec.EvaluationID, rec.ProductID, rec.ProductName,
		rec.ApprovedLimit, rec.AnnualRate, rec.TermMonths, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}

	return nil
}

// ListRecent returns the newest evaluations, most recent first.
func (s *Store) ListRecent(limit int) ([]EvaluationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	stmt, err := s.db.GetPreparedStatement("get_recent_evaluations")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	records := make([]EvaluationRecord, 0, limit)
	for rows.Next() {
		var rec EvaluationRecord
		if err := rows.Scan(
			&rec.ID, &rec.SchemaVersion, &rec.ModelFamily, &rec.Inputs,
			&rec.Probability, &rec.Threshold, &rec.Label,
			&rec.TopFeature, &rec.TopContribution, &rec.Contributions,
			&rec.IPAddress, &rec.UserAgent, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Get returns a single evaluation by ID, or nil when it does not exist.
func (s *Store) Get(id string) (*EvaluationRecord, error) {
	stmt, err := s.db.GetPreparedStatement("get_evaluation")
	if err != nil {
		return nil, err
	}

	var rec EvaluationRecord
	err = stmt.QueryRow(id).Scan(
		&rec.ID, &rec.SchemaVersion, &rec.ModelFamily, &rec.Inputs,
		&rec.Probability, &rec.Threshold, &rec.Label,
		&rec.TopFeature, &rec.TopContribution, &rec.Contributions,
		&rec.IPAddress, &rec.UserAgent, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query evaluation: %w", err)
	}

	return &rec, nil
}

// CountByLabel returns evaluation counts grouped by decision label.
func (s *Store) CountByLabel() (map[string]int64, error) {
	stmt, err := s.db.GetPreparedStatement("count_by_label")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to count evaluations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[label] = count
	}

	return counts, rows.Err()
}
