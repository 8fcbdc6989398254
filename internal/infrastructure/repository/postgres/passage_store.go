package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/resilience"
)

const (
	defaultPassageTable     = "policy_chunks"
	defaultTextSearchConfig = "english"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type PassageStoreConfig struct {
	Table            string
	TextSearchConfig string
}

// PassageStore queries chunked policy text with full-text rank and pgvector cosine distance.
type PassageStore struct {
	db         *sql.DB
	table      string
	textConfig string
	executor   *resilience.Executor
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func NewPassageStore(db *sql.DB, cfg PassageStoreConfig, executor *resilience.Executor) (*PassageStore, error) {
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = defaultPassageTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, domain.WrapError(domain.ErrConfiguration, "new passage store", fmt.Errorf("invalid table name %q", table))
	}
	textConfig := strings.TrimSpace(cfg.TextSearchConfig)
	if textConfig == "" {
		textConfig = defaultTextSearchConfig
	}
	return &PassageStore{
		db:         db,
		table:      table,
		textConfig: textConfig,
		executor:   executor,
	}, nil
}

func (s *PassageStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return domain.WrapError(domain.ErrConfiguration, "ping passage store", errors.New("database is not configured"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return wrapStoreError("ping passage store", err)
	}
	return nil
}

func (s *PassageStore) SearchLexical(ctx context.Context, queryText string, limit int, filter domain.FilterSet) ([]domain.Candidate, error) {
	queryText = strings.TrimSpace(queryText)
	if limit <= 0 || queryText == "" {
		return []domain.Candidate{}, nil
	}

	args := []any{s.textConfig, queryText}
	where, args := appendFilterClauses([]string{"content_tsv @@ plainto_tsquery($1::regconfig, $2)"}, args, filter)
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT doc_name, chunk_index, COALESCE(org, ''), COALESCE(policy_type, ''), COALESCE(page::text, ''), content,
       ts_rank(content_tsv, plainto_tsquery($1::regconfig, $2)) AS score
FROM %s
WHERE %s
ORDER BY score DESC, doc_name, chunk_index
LIMIT $%d`, s.table, strings.Join(where, " AND "), len(args))

	return resilience.Do(ctx, s.executor, "passages.search_lexical", func(callCtx context.Context) ([]domain.Candidate, error) {
		return s.queryCandidates(callCtx, "search lexical", query, args, func(c *domain.Candidate, score float64) {
			c.LexicalScore = &score
			c.Provenance = domain.ProvenanceLexical
		})
	}, classifyStoreError)
}

func (s *PassageStore) SearchVector(ctx context.Context, queryVector []float32, limit int, filter domain.FilterSet) ([]domain.Candidate, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []domain.Candidate{}, nil
	}

	args := []any{pgvector.NewVector(queryVector)}
	where, args := appendFilterClauses([]string{"embedding IS NOT NULL"}, args, filter)
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT doc_name, chunk_index, COALESCE(org, ''), COALESCE(policy_type, ''), COALESCE(page::text, ''), content,
       (embedding <=> $1::vector) AS distance
FROM %s
WHERE %s
ORDER BY distance ASC, doc_name, chunk_index
LIMIT $%d`, s.table, strings.Join(where, " AND "), len(args))

	return resilience.Do(ctx, s.executor, "passages.search_vector", func(callCtx context.Context) ([]domain.Candidate, error) {
		return s.queryCandidates(callCtx, "search vector", query, args, func(c *domain.Candidate, distance float64) {
			c.VectorDistance = &distance
			c.Provenance = domain.ProvenanceVector
		})
	}, classifyStoreError)
}

func (s *PassageStore) queryCandidates(
	ctx context.Context,
	op string,
	query string,
	args []any,
	assign func(*domain.Candidate, float64),
) ([]domain.Candidate, error) {
	if s.db == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, op, errors.New("database is not configured"))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0, 16)
	for rows.Next() {
		var (
			c     domain.Candidate
			value float64
		)
		if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.Org, &c.PolicyType, &c.Page, &c.Content, &value); err != nil {
			return nil, wrapStoreError(op+" scan", err)
		}
		assign(&c, value)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(op+" rows", err)
	}
	return out, nil
}

// appendFilterClauses adds placeholders after the existing args. Orgs expand to an IN list.
func appendFilterClauses(where []string, args []any, filter domain.FilterSet) ([]string, []any) {
	filter = filter.Normalized()
	if filter.Org != "" {
		args = append(args, filter.Org)
		where = append(where, fmt.Sprintf("org = $%d", len(args)))
	} else if len(filter.Orgs) > 0 {
		placeholders := make([]string, 0, len(filter.Orgs))
		for _, org := range filter.Orgs {
			args = append(args, org)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, fmt.Sprintf("org IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.PolicyType != "" {
		args = append(args, filter.PolicyType)
		where = append(where, fmt.Sprintf("policy_type = $%d", len(args)))
	}
	if filter.DocName != "" {
		args = append(args, filter.DocName)
		where = append(where, fmt.Sprintf("doc_name = $%d", len(args)))
	}
	return where, args
}

func classifyStoreError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if resilience.IsContextError(err) || domain.IsKind(err, domain.ErrConfiguration) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsContextError(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01", pgErr.Code == "42703", pgErr.Code == "42704", pgErr.Code == "42883":
			return domain.WrapError(domain.ErrConfiguration, op, err)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "40P01",
			pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57P03":
			return domain.WrapError(domain.ErrTemporary, op, err)
		}
		return domain.WrapError(domain.ErrRetrieval, op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return domain.WrapError(domain.ErrRetrieval, op, err)
}
