package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"smlgpt/internal/models"
	"smlgpt/internal/storage"
)

const table = "documents"

var columns = []string{
	"id", "name", "file_name", "mime_type", "size", "blob_url", "session_id", "upload_time_ms", "analysis",
}

// SQL stores the registry in the documents table created by storage.Migrate.
type SQL struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewSQL(db *sql.DB, driver string) *SQL {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if storage.Driver(driver) == "postgres" {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQL{db: db, sb: sb.RunWith(db)}
}

func (s *SQL) Put(ctx context.Context, file *models.UploadedFile) error {
	analysis, err := encodeAnalysis(file.Analysis)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin put")
	}
	defer tx.Rollback()

	if _, err := s.sb.Delete(table).Where(sq.Eq{"id": file.ID}).RunWith(tx).ExecContext(ctx); err != nil {
		return errors.Wrap(err, "replace document")
	}
	_, err = s.sb.Insert(table).
		Columns(columns...).
		Values(file.ID, file.Name, file.FileName, file.MimeType, file.Size, file.BlobURL,
			file.SessionID, file.UploadTime.UnixMilli(), analysis).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "insert document")
	}
	return errors.Wrap(tx.Commit(), "commit put")
}

func (s *SQL) Get(ctx context.Context, id string) (*models.UploadedFile, error) {
	row := s.sb.Select(columns...).From(table).Where(sq.Eq{"id": id}).QueryRowContext(ctx)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *SQL) AttachAnalysis(ctx context.Context, id string, analysis *models.FileAnalysis) error {
	encoded, err := encodeAnalysis(analysis)
	if err != nil {
		return err
	}
	res, err := s.sb.Update(table).Set("analysis", encoded).Where(sq.Eq{"id": id}).ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "update analysis")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update analysis")
	}
	if n == 0 {
		// mysql reports zero for an unchanged row, so confirm it exists
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) List(ctx context.Context) ([]*models.UploadedFile, error) {
	rows, err := s.sb.Select(columns...).From(table).OrderBy("upload_time_ms DESC").QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list documents")
	}
	defer rows.Close()

	var out []*models.UploadedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, errors.Wrap(rows.Err(), "list documents")
}

func scanFile(row sq.RowScanner) (*models.UploadedFile, error) {
	var (
		f        models.UploadedFile
		uploadMS int64
		analysis sql.NullString
	)
	err := row.Scan(&f.ID, &f.Name, &f.FileName, &f.MimeType, &f.Size, &f.BlobURL, &f.SessionID, &uploadMS, &analysis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan document")
	}
	f.UploadTime = time.UnixMilli(uploadMS).UTC()
	if analysis.Valid && analysis.String != "" {
		var a models.FileAnalysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return nil, errors.Wrapf(err, "decode analysis for %s", f.ID)
		}
		f.Analysis = &a
	}
	return &f, nil
}

func encodeAnalysis(a *models.FileAnalysis) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encode analysis")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
