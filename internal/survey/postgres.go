package survey

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schema string

// Postgres is the database-backed Store.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to survey database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying survey schema: %w", err)
	}
	return nil
}

func (p *Postgres) FindSurvey(ctx context.Context, title string) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `SELECT id::text FROM surveys WHERE title=$1`, title).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSurveyNotFound
	}
	return id, err
}

func (p *Postgres) Questions(ctx context.Context, surveyID string) ([]Question, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT q.id::text, q.text, q.type, q.order_no, q.question_code,
		       o.id::text, o.value, o.order_no
		FROM questions q
		LEFT JOIN options o ON o.question_id = q.id
		WHERE q.survey_id = $1
		ORDER BY q.order_no, q.id, o.order_no`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	index := map[string]int{}
	for rows.Next() {
		var q Question
		var optID, optValue sql.NullString
		var optOrder sql.NullInt64
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.OrderNo, &q.QuestionCode, &optID, &optValue, &optOrder); err != nil {
			return nil, err
		}

		i, ok := index[q.ID]
		if !ok {
			q.Options = []Option{}
			out = append(out, q)
			i = len(out) - 1
			index[q.ID] = i
		}
		if optID.Valid {
			out[i].Options = append(out[i].Options, Option{
				ID:      optID.String,
				Value:   optValue.String,
				OrderNo: int(optOrder.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		sortOptions(out[i].Options)
	}
	return out, nil
}

func (p *Postgres) SaveResponse(ctx context.Context, resp Response, answers []Answer) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO responses (id, survey_id, submitted_at, email) VALUES ($1,$2,$3,$4)`,
		id, resp.SurveyID, resp.SubmittedAt, nullIfEmpty(resp.Email)); err != nil {
		return "", fmt.Errorf("inserting response: %w", err)
	}

	for _, a := range answers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (response_id, question_id, option_id, answer_text) VALUES ($1,$2,$3,$4)`,
			id, a.QuestionID, nullIfEmpty(a.OptionID), nullIfEmpty(a.AnswerText)); err != nil {
			return "", fmt.Errorf("inserting answers: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id.String(), nil
}

func (p *Postgres) ExportResults(ctx context.Context) (*Table, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT * FROM v_survey_results_csv ORDER BY "ID"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &Table{Columns: cols}
	for rows.Next() {
		cells := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, c := range cells {
			row[i] = c.String
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sortOptions(opts []Option) {
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].OrderNo < opts[j].OrderNo })
}
