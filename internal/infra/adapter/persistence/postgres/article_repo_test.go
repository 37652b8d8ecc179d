package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	pg "github.com/tsuchiya2/storypipe/internal/infra/adapter/persistence/postgres"
)

func artRow(a *entity.Article) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "language", "html", "text", "word_count", "content_hash", "created_at", "updated_at",
	}).AddRow(
		a.ID, a.Language, a.HTML, a.Text, a.WordCount, a.ContentHash, a.CreatedAt, a.UpdatedAt,
	)
}

func TestArticleRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	now := time.Date(2025, 7, 19, 0, 0, 0, 0, time.UTC)
	want := &entity.Article{
		ID: 1, Language: "en", Text: "Hello world.", WordCount: 2,
		ContentHash: "deadbeef", CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(int64(1)).
		WillReturnRows(artRow(want))

	repo := pg.NewArticleRepo(db)
	got, err := repo.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArticleRepo_Get_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "language", "html", "text", "word_count", "content_hash", "created_at", "updated_at",
		}))

	repo := pg.NewArticleRepo(db)
	got, err := repo.Get(context.Background(), 999)
	if err != nil {
		t.Fatalf("Get should not return error for not found, err=%v", err)
	}
	if got != nil {
		t.Fatalf("Get should return nil for not found, got=%v", got)
	}
}

func TestArticleRepo_Get_DatabaseError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	dbError := errors.New("connection lost")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(int64(1)).
		WillReturnError(dbError)

	repo := pg.NewArticleRepo(db)
	got, err := repo.Get(context.Background(), 1)
	if err == nil {
		t.Fatal("Get should return error for database error")
	}
	if got != nil {
		t.Errorf("Get should return nil on error, got=%v", got)
	}
}

func TestArticleRepo_GetByContentHash(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	now := time.Now()
	want := &entity.Article{ID: 5, Language: "en", Text: "x", ContentHash: "abc123", CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE content_hash = $1")).
		WithArgs("abc123").
		WillReturnRows(artRow(want))

	repo := pg.NewArticleRepo(db)
	got, err := repo.GetByContentHash(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetByContentHash err=%v", err)
	}
	if got.ID != 5 {
		t.Fatalf("GetByContentHash id=%d, want 5", got.ID)
	}
}

func TestArticleRepo_List(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	now := time.Now()
	mock.ExpectQuery("FROM articles").
		WithArgs(100).
		WillReturnRows(artRow(&entity.Article{
			ID: 1, Language: "en", Text: "x", ContentHash: "h", CreatedAt: now, UpdatedAt: now,
		}))

	repo := pg.NewArticleRepo(db)
	got, err := repo.List(context.Background(), 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("List err=%v len=%d", err, len(got))
	}
}

func TestArticleRepo_UpsertArticleAndLinkStory_NewArticle(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	now := time.Now()
	article := &entity.Article{Language: "en", Text: "Hello world.", WordCount: 2, ContentHash: "hash1"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO articles")).
		WithArgs("en", article.HTML, "Hello world.", 2, "hash1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(10), now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stories")).
		WithArgs(int64(10), sql.NullString{}, sql.NullString{}, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := pg.NewArticleRepo(db)
	got, err := repo.UpsertArticleAndLinkStory(context.Background(), "s1", article, "", "")
	if err != nil {
		t.Fatalf("UpsertArticleAndLinkStory err=%v", err)
	}
	if got.ID != 10 {
		t.Fatalf("UpsertArticleAndLinkStory id=%d, want 10", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArticleRepo_UpsertArticleAndLinkStory_ConflictReadsExisting(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	now := time.Now()
	article := &entity.Article{Language: "en", Text: "dup", WordCount: 1, ContentHash: "hash2"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO articles")).
		WithArgs("en", article.HTML, "dup", 1, "hash2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"})) // ON CONFLICT DO NOTHING -> no row
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, created_at, updated_at FROM articles WHERE content_hash = $1")).
		WithArgs("hash2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(99), now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stories")).
		WithArgs(int64(99), sql.NullString{String: "example.com", Valid: true}, sql.NullString{}, "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := pg.NewArticleRepo(db)
	got, err := repo.UpsertArticleAndLinkStory(context.Background(), "s2", article, "example.com", "")
	if err != nil {
		t.Fatalf("UpsertArticleAndLinkStory err=%v", err)
	}
	if got.ID != 99 {
		t.Fatalf("UpsertArticleAndLinkStory id=%d, want 99 (collapsed dedup)", got.ID)
	}
}
