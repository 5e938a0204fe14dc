// Package pgsource reads reference data from PostgreSQL.
package pgsource

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/medroute/internal/clinic"
	"github.com/linnemanlabs/medroute/internal/refdata"
	"github.com/linnemanlabs/medroute/internal/referral"
	"github.com/linnemanlabs/medroute/internal/retrieval"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medroute/internal/refdata/pgsource")

//go:embed schema.sql
var schema string

// Source loads reference data from a pool it does not own.
type Source struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Source.
func New(ctx context.Context, pool *pgxpool.Pool) (*Source, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Source{pool: pool}, nil
}

// Load reads the full dataset in one read-only transaction so the tables are
// seen at a single point in time.
func (s *Source) Load(ctx context.Context) (_ *refdata.Dataset, err error) {
	ctx, span := tracer.Start(ctx, "pgsource.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d := &refdata.Dataset{}
	if d.Clinics, d.Fallback, err = loadClinics(ctx, tx); err != nil {
		return nil, err
	}
	if d.Gates, err = loadRules(ctx, tx); err != nil {
		return nil, err
	}
	if d.Cases, err = loadCases(ctx, tx); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("medroute.refdata.clinics", len(d.Clinics)),
		attribute.Int("medroute.refdata.gates", len(d.Gates)),
		attribute.Int("medroute.refdata.cases", len(d.Cases)),
	)
	return d, nil
}

func loadClinics(ctx context.Context, tx pgx.Tx) ([]clinic.Entry, string, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.name, c.parent, c.gate_required, c.is_fallback,
		       COALESCE(array_agg(v.variant ORDER BY v.position) FILTER (WHERE v.variant IS NOT NULL), '{}')
		FROM clinics c
		LEFT JOIN clinic_variants v ON v.clinic = c.name
		GROUP BY c.name, c.position, c.parent, c.gate_required, c.is_fallback
		ORDER BY c.position, c.name`)
	if err != nil {
		return nil, "", fmt.Errorf("query clinics: %w", err)
	}
	defer rows.Close()

	var (
		entries  []clinic.Entry
		fallback string
	)
	for rows.Next() {
		var (
			e          clinic.Entry
			isFallback bool
		)
		if err := rows.Scan(&e.Name, &e.Parent, &e.GateRequired, &isFallback, &e.Variants); err != nil {
			return nil, "", fmt.Errorf("scan clinic: %w", err)
		}
		if isFallback {
			fallback = e.Name
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate clinics: %w", err)
	}
	return entries, fallback, nil
}

func loadRules(ctx context.Context, tx pgx.Tx) ([]referral.Rule, error) {
	rows, err := tx.Query(ctx, `SELECT clinic, prior_list, note, reason FROM referral_rules ORDER BY clinic`)
	if err != nil {
		return nil, fmt.Errorf("query referral rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (referral.Rule, error) {
		var r referral.Rule
		err := row.Scan(&r.Clinic, &r.PriorList, &r.Note, &r.Reason)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan referral rules: %w", err)
	}
	return rules, nil
}

func loadCases(ctx context.Context, tx pgx.Tx) ([]retrieval.Example, error) {
	rows, err := tx.Query(ctx, `SELECT complaint, clinic FROM triage_cases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	cases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.Example, error) {
		var c retrieval.Example
		err := row.Scan(&c.Complaint, &c.Clinic)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cases: %w", err)
	}
	return cases, nil
}

// Seed replaces the stored reference data with d in a single transaction.
func (s *Source) Seed(ctx context.Context, d *refdata.Dataset) (err error) {
	ctx, span := tracer.Start(ctx, "pgsource.Seed", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE clinics, clinic_variants, referral_rules, triage_cases RESTART IDENTITY`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	batch := &pgx.Batch{}
	for i, c := range d.Clinics {
		batch.Queue(`INSERT INTO clinics (name, position, parent, gate_required, is_fallback) VALUES ($1, $2, $3, $4, $5)`,
			c.Name, i, c.Parent, c.GateRequired, c.Name == d.Fallback)
		for j, v := range c.Variants {
			batch.Queue(`INSERT INTO clinic_variants (clinic, position, variant) VALUES ($1, $2, $3)`, c.Name, j, v)
		}
	}
	for _, r := range d.Gates {
		batch.Queue(`INSERT INTO referral_rules (clinic, prior_list, note, reason) VALUES ($1, $2, $3, $4)`,
			r.Clinic, r.PriorList, r.Note, r.Reason)
	}
	for _, c := range d.Cases {
		batch.Queue(`INSERT INTO triage_cases (complaint, clinic) VALUES ($1, $2)`, c.Complaint, c.Clinic)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert reference data: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
