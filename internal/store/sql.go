package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// dialect abstracts the two small syntax differences between the SQLite
// and Postgres backends: positional placeholders and the upsert clause.
type dialect interface {
	placeholder(n int) string
	upsertStudy() string
}

type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }
func (sqliteDialect) upsertStudy() string {
	return `INSERT INTO studies (id, name, goal, status, config, created_at)
	         VALUES (?, ?, ?, ?, ?, ?)
	         ON CONFLICT(id) DO UPDATE SET name=excluded.name, goal=excluded.goal,
	           status=excluded.status, config=excluded.config`
}

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) upsertStudy() string {
	return `INSERT INTO studies (id, name, goal, status, config, created_at)
	         VALUES ($1, $2, $3, $4, $5, $6)
	         ON CONFLICT (id) DO UPDATE SET name=excluded.name, goal=excluded.goal,
	           status=excluded.status, config=excluded.config`
}

// studyConfig is the JSON blob stored in studies.config, carrying the
// fields that aren't independently queried columns.
type studyConfig struct {
	MaxTrials      int            `json:"max_trials"`
	Parallelism    int            `json:"parallelism"`
	Seed           uint64         `json:"seed"`
	SamplerKind    string         `json:"sampler_kind"`
	SamplerOptions map[string]any `json:"sampler_options"`
	PrunerKind     string         `json:"pruner_kind"`
	PrunerOptions  map[string]any `json:"pruner_options"`
}

// SQLStore implements Store against a database/sql backend, persisting
// the studies, trials, and observations tables with entity constraints
// enforced either by the schema or by this layer before issuing the
// write.
type SQLStore struct {
	db  *sql.DB
	dia dialect
}

// newSQLStore wires db with dia and runs migrations. Exported
// constructors (NewSQLite, NewPostgres) select the driver and dialect.
func newSQLStore(db *sql.DB, dia dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dia: dia}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS studies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			config TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trials (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			params TEXT NOT NULL,
			bracket INTEGER NOT NULL DEFAULT 0,
			rung INTEGER NOT NULL DEFAULT 0,
			score DOUBLE PRECISION,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			seed BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			metadata TEXT,
			UNIQUE(study_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			id TEXT PRIMARY KEY,
			trial_id TEXT NOT NULL,
			bracket INTEGER NOT NULL,
			rung INTEGER NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(trial_id, bracket, rung)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrating schema: %v", ErrIO, err)
		}
	}
	return nil
}

func (s *SQLStore) PutStudy(ctx context.Context, st Study) error {
	if err := st.Validate(); err != nil {
		return err
	}
	cfg := studyConfig{
		MaxTrials: st.MaxTrials, Parallelism: st.Parallelism, Seed: st.Seed,
		SamplerKind: st.SamplerKind, SamplerOptions: st.SamplerOptions,
		PrunerKind: st.PrunerKind, PrunerOptions: st.PrunerOptions,
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: marshaling study config: %v", ErrIO, err)
	}
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, s.dia.upsertStudy(), st.ID, st.Name, string(st.Goal), string(st.Status), string(blob), createdAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *SQLStore) GetStudy(ctx context.Context, studyID string) (Study, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, name, goal, status, config, created_at FROM studies WHERE id = %s", s.dia.placeholder(1)),
		studyID,
	)
	var (
		id, name, goal, status, cfgBlob string
		createdAt                       time.Time
	)
	if err := row.Scan(&id, &name, &goal, &status, &cfgBlob, &createdAt); err != nil {
		return Study{}, fmt.Errorf("%w: study %q", ErrNotFound, studyID)
	}
	var cfg studyConfig
	_ = json.Unmarshal([]byte(cfgBlob), &cfg)
	return Study{
		ID: id, Name: name, Goal: Goal(goal), Status: StudyStatus(status),
		MaxTrials: cfg.MaxTrials, Parallelism: cfg.Parallelism, Seed: cfg.Seed,
		SamplerKind: cfg.SamplerKind, SamplerOptions: cfg.SamplerOptions,
		PrunerKind: cfg.PrunerKind, PrunerOptions: cfg.PrunerOptions,
		CreatedAt: createdAt,
	}, nil
}

func (s *SQLStore) SetStudyStatus(ctx context.Context, studyID string, status StudyStatus) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE studies SET status = %s WHERE id = %s", s.dia.placeholder(1), s.dia.placeholder(2)),
		string(status), studyID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: study %q", ErrNotFound, studyID)
	}
	return nil
}

func (s *SQLStore) ListStudies(ctx context.Context) ([]Study, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, goal, status, config, created_at FROM studies ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer rows.Close()

	var out []Study
	for rows.Next() {
		var (
			id, name, goal, status, cfgBlob string
			createdAt                       time.Time
		)
		if err := rows.Scan(&id, &name, &goal, &status, &cfgBlob, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		var cfg studyConfig
		_ = json.Unmarshal([]byte(cfgBlob), &cfg)
		out = append(out, Study{
			ID: id, Name: name, Goal: Goal(goal), Status: StudyStatus(status),
			MaxTrials: cfg.MaxTrials, Parallelism: cfg.Parallelism, Seed: cfg.Seed,
			SamplerKind: cfg.SamplerKind, SamplerOptions: cfg.SamplerOptions,
			PrunerKind: cfg.PrunerKind, PrunerOptions: cfg.PrunerOptions,
			CreatedAt: createdAt,
		})
	}
	return out, rows.Err()
}

func (s *SQLStore) AddTrial(ctx context.Context, t Trial) error {
	if err := t.Validate(); err != nil {
		return err
	}
	paramsBlob, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("%w: marshaling params: %v", ErrIO, err)
	}
	q := fmt.Sprintf(
		`INSERT INTO trials (id, study_id, number, params, bracket, rung, score, status, started_at, finished_at, seed, error, metadata)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.dia.placeholder(1), s.dia.placeholder(2), s.dia.placeholder(3), s.dia.placeholder(4),
		s.dia.placeholder(5), s.dia.placeholder(6), s.dia.placeholder(7), s.dia.placeholder(8),
		s.dia.placeholder(9), s.dia.placeholder(10), s.dia.placeholder(11), s.dia.placeholder(12), s.dia.placeholder(13),
	)
	metaBlob, err := json.Marshal(t.IntermediateValues)
	if err != nil {
		return fmt.Errorf("%w: marshaling intermediate values: %v", ErrIO, err)
	}
	_, err = s.db.ExecContext(ctx, q,
		t.ID, t.StudyID, t.Number, string(paramsBlob), t.Bracket, t.Rung,
		t.Score, string(t.Status), t.StartedAt, t.FinishedAt, t.Seed, nullableString(t.Error), string(metaBlob),
	)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *SQLStore) UpdateTrial(ctx context.Context, trialID string, patch TrialPatch) error {
	current, err := s.FetchTrial(ctx, trialID)
	if err != nil {
		return err
	}
	next := current
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Score != nil {
		next.Score = patch.Score
	}
	if patch.FinishedAt != nil {
		next.FinishedAt = patch.FinishedAt
	}
	if patch.Error != nil {
		next.Error = *patch.Error
	}
	if len(patch.IntermediateValues) > 0 {
		merged := cloneMapFloat(next.IntermediateValues)
		if merged == nil {
			merged = make(map[int]float64, len(patch.IntermediateValues))
		}
		for k, v := range patch.IntermediateValues {
			merged[k] = v
		}
		next.IntermediateValues = merged
	}
	if err := next.Validate(); err != nil {
		return err
	}

	metaBlob, err := json.Marshal(next.IntermediateValues)
	if err != nil {
		return fmt.Errorf("%w: marshaling intermediate values: %v", ErrIO, err)
	}
	q := fmt.Sprintf(
		`UPDATE trials SET score=%s, status=%s, finished_at=%s, error=%s, metadata=%s WHERE id=%s`,
		s.dia.placeholder(1), s.dia.placeholder(2), s.dia.placeholder(3), s.dia.placeholder(4), s.dia.placeholder(5), s.dia.placeholder(6),
	)
	_, err = s.db.ExecContext(ctx, q, next.Score, string(next.Status), next.FinishedAt, nullableString(next.Error), string(metaBlob), trialID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *SQLStore) FetchTrial(ctx context.Context, trialID string) (Trial, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, study_id, number, params, bracket, rung, score, status, started_at, finished_at, seed, error, metadata
		             FROM trials WHERE id = %s`, s.dia.placeholder(1)),
		trialID,
	)
	return scanTrial(row)
}

func (s *SQLStore) ListTrials(ctx context.Context, studyID string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, study_id, number, params, bracket, rung, score, status, started_at, finished_at, seed, error, metadata
		             FROM trials WHERE study_id = %s ORDER BY number`, s.dia.placeholder(1)),
		studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer rows.Close()

	var out []Trial
	for rows.Next() {
		tr, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddObservation(ctx context.Context, o Observation) error {
	if err := o.Validate(); err != nil {
		return err
	}
	id := fmt.Sprintf("%s:%d:%d", o.TrialID, o.Bracket, o.Rung)
	q := fmt.Sprintf(
		`INSERT INTO observations (id, trial_id, bracket, rung, score, metadata, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.dia.placeholder(1), s.dia.placeholder(2), s.dia.placeholder(3),
		s.dia.placeholder(4), s.dia.placeholder(5), s.dia.placeholder(6), s.dia.placeholder(7),
	)
	_, err := s.db.ExecContext(ctx, q, id, o.TrialID, o.Bracket, o.Rung, o.Score, "{}", time.Now().UTC())
	if err != nil {
		return mapWriteErr(err)
	}

	// Mirror into the trial's intermediate_values, matching the in-memory
	// store's behavior and the Memory.AddObservation contract.
	return s.UpdateTrial(ctx, o.TrialID, TrialPatch{IntermediateValues: map[int]float64{o.Rung: o.Score}})
}

func (s *SQLStore) ObservationsAtRung(ctx context.Context, studyID string, bracket, rung int) ([]PeerScore, error) {
	q := fmt.Sprintf(
		`SELECT o.trial_id, o.score FROM observations o
		 JOIN trials t ON t.id = o.trial_id
		 WHERE t.study_id = %s AND o.bracket = %s AND o.rung = %s`,
		s.dia.placeholder(1), s.dia.placeholder(2), s.dia.placeholder(3),
	)
	rows, err := s.db.QueryContext(ctx, q, studyID, bracket, rung)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer rows.Close()

	var out []PeerScore
	for rows.Next() {
		var p PeerScore
		if err := rows.Scan(&p.TrialID, &p.Score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the underlying *sql.DB.
func (s *SQLStore) Close() error { return s.db.Close() }

type scannable interface {
	Scan(dest ...any) error
}

func scanTrial(row scannable) (Trial, error) {
	var (
		id, studyID, status, paramsBlob, metaBlob string
		number, bracket, rung                     int
		score                                     sql.NullFloat64
		startedAt                                 time.Time
		finishedAt                                sql.NullTime
		seed                                      int64
		errStr                                    sql.NullString
	)
	if err := row.Scan(&id, &studyID, &number, &paramsBlob, &bracket, &rung, &score, &status, &startedAt, &finishedAt, &seed, &errStr, &metaBlob); err != nil {
		return Trial{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if status == "succeeded" {
		return Trial{}, fmt.Errorf("%w: trial %q has status %q; use \"completed\"", ErrConfig, id, status)
	}
	tr := Trial{
		ID: id, StudyID: studyID, Number: number, Bracket: bracket, Rung: rung,
		Status: TrialStatus(status), StartedAt: startedAt, Seed: seed,
	}
	_ = json.Unmarshal([]byte(paramsBlob), &tr.Params)
	_ = json.Unmarshal([]byte(metaBlob), &tr.IntermediateValues)
	if score.Valid {
		v := score.Float64
		tr.Score = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		tr.FinishedAt = &v
	}
	if errStr.Valid {
		tr.Error = errStr.String
	}
	return tr, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mapWriteErr normalizes a driver write error into ErrDuplicate (on a
// unique-constraint violation, detected best-effort since drivers don't
// expose a common type) or ErrIO otherwise.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if contains(msg, "UNIQUE") || contains(msg, "unique") || contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

var _ Store = (*SQLStore)(nil)
