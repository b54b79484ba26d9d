// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/maternahealth/materna/internal/triage"
)

var tracer = otel.Tracer("github.com/maternahealth/materna/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage cases in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save upserts the patient record by normalized name, assigns a visit ID,
// and inserts the full case in one transaction.
func (s *Store) Save(ctx context.Context, r *triage.CaseResult) (string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Save", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	nameKey := strings.ToLower(strings.TrimSpace(r.PatientName))
	var patientID string
	err = tx.QueryRow(ctx, `
		INSERT INTO patients (id, name, name_key, age)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name_key) DO UPDATE SET age = EXCLUDED.age
		RETURNING id`,
		uuid.NewString(), r.PatientName, nameKey, r.Age,
	).Scan(&patientID)
	if err != nil {
		return fail(fmt.Errorf("upsert patient: %w", err))
	}

	visitID := ulid.Make().String()
	symptoms, err := json.Marshal(r.Symptoms)
	if err != nil {
		return fail(fmt.Errorf("marshal symptoms: %w", err))
	}
	riskJSON, err := marshalNullable(r.Risk)
	if err != nil {
		return fail(err)
	}
	visionJSON, err := marshalNullable(r.Vision)
	if err != nil {
		return fail(err)
	}
	guideJSON, err := marshalNullable(r.Guideline)
	if err != nil {
		return fail(err)
	}
	execJSON, err := marshalNullable(r.Executive)
	if err != nil {
		return fail(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO visits (
			id, patient_id, patient_name, age, gestational_age_weeks,
			systolic, diastolic, heart_rate, proteinuria, symptoms, notes,
			risk_level, risk_score, risk_output, vision_output,
			guideline_output, executive_output,
			escalated, escalation_reason, cloud_connected, mode, submitted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`,
		visitID, patientID, r.PatientName, r.Age, r.GestationalWeeks,
		r.Vitals.Systolic, r.Vitals.Diastolic, r.Vitals.HeartRate, r.Vitals.Proteinuria,
		symptoms, r.Notes,
		string(r.Risk.RiskLevel), r.Risk.RiskScore, riskJSON, visionJSON,
		guideJSON, execJSON,
		r.Escalated, r.EscalationReason, r.CloudConnected, r.Mode, r.SubmittedAt,
	)
	if err != nil {
		return fail(fmt.Errorf("insert visit: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	r.PatientID = patientID
	return visitID, nil
}

const visitColumns = `id, patient_id, patient_name, age, gestational_age_weeks,
	systolic, diastolic, heart_rate, proteinuria, symptoms, notes,
	risk_output, vision_output, guideline_output, executive_output,
	escalated, escalation_reason, cloud_connected, mode, submitted_at`

// Get retrieves a case by visit ID.
func (s *Store) Get(ctx context.Context, visitID string) (*triage.CaseResult, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + visitColumns + ` FROM visits WHERE id = $1`
	r, err := scanVisit(s.pool.QueryRow(ctx, query, visitID))
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return r, nil
}

// List returns history items newest-first.
func (s *Store) List(ctx context.Context, skip, limit int) ([]triage.HistoryItem, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_name, submitted_at, risk_level, risk_score, escalated
		FROM visits
		ORDER BY submitted_at DESC, id DESC
		OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	items := []triage.HistoryItem{}
	for rows.Next() {
		var it triage.HistoryItem
		var level string
		if err := rows.Scan(&it.VisitID, &it.PatientName, &it.SubmittedAt, &level, &it.RiskScore, &it.Escalated); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		it.RiskLevel = triage.RiskLevel(level)
		items = append(items, it)
	}
	return items, rows.Err()
}

// BPHistory returns the patient's blood pressure series oldest-first.
func (s *Store) BPHistory(ctx context.Context, patientID string) ([]triage.BpPoint, error) {
	ctx, span := tracer.Start(ctx, "pgstore.BPHistory", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, patientID).Scan(&exists); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, triage.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT submitted_at, systolic, diastolic
		FROM visits
		WHERE patient_id = $1
		ORDER BY submitted_at ASC`, patientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("bp history: %w", err)
	}
	defer rows.Close()

	var points []triage.BpPoint
	for rows.Next() {
		var p triage.BpPoint
		if err := rows.Scan(&p.RecordedAt, &p.Systolic, &p.Diastolic); err != nil {
			return nil, fmt.Errorf("scan bp row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func scanVisit(row pgx.Row) (*triage.CaseResult, error) {
	var (
		r             triage.CaseResult
		heartRate     *int
		notes         *string
		reason        *string
		symptomsJSON  []byte
		riskJSON      []byte
		visionJSON    []byte
		guidelineJSON []byte
		execJSON      []byte
	)
	err := row.Scan(
		&r.VisitID, &r.PatientID, &r.PatientName, &r.Age, &r.GestationalWeeks,
		&r.Vitals.Systolic, &r.Vitals.Diastolic, &heartRate, &r.Vitals.Proteinuria,
		&symptomsJSON, &notes,
		&riskJSON, &visionJSON, &guidelineJSON, &execJSON,
		&r.Escalated, &reason, &r.CloudConnected, &r.Mode, &r.SubmittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, triage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan visit: %w", err)
	}

	r.Vitals.HeartRate = heartRate
	if notes != nil {
		r.Notes = *notes
	}
	if reason != nil {
		r.EscalationReason = *reason
	}
	if err := json.Unmarshal(symptomsJSON, &r.Symptoms); err != nil {
		return nil, fmt.Errorf("unmarshal symptoms: %w", err)
	}
	if err := unmarshalNullable(riskJSON, &r.Risk); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(visionJSON, &r.Vision); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(guidelineJSON, &r.Guideline); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(execJSON, &r.Executive); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil || isNilPtr(v) {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal agent output: %w", err)
	}
	return b, nil
}

func unmarshalNullable[T any](b []byte, dst **T) error {
	if len(b) == 0 {
		return nil
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal agent output: %w", err)
	}
	*dst = out
	return nil
}

func isNilPtr(v any) bool {
	switch t := v.(type) {
	case *triage.RiskResult:
		return t == nil
	case *triage.VisionFindings:
		return t == nil
	case *triage.GuidelineResult:
		return t == nil
	case *triage.ExecutivePlan:
		return t == nil
	}
	return false
}
