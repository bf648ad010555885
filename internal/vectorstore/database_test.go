package vectorstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docuchat/internal/apperr"
	"docuchat/internal/repository"
)

func newMySQL(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func newPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

var collectionColumns = []string{"name", "dimension", "embedding_model", "created_at"}
var chunkColumns = []string{"seq", "collection", "chunk_id", "owner_id", "document", "content", "embedding", "metadata", "created_at"}

func expectCollection(mock sqlmock.Sqlmock, dim int, embeddingModel string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `vector_collections` WHERE name = ?")).
		WillReturnRows(sqlmock.NewRows(collectionColumns).AddRow("docs", dim, embeddingModel, time.Now()))
}

func TestDatabase_QueryScoresInProcessOnMySQL(t *testing.T) {
	db, mock := newMySQL(t)
	s := NewDatabase(repository.NewRAGChunkRepository(db))
	now := time.Now()

	expectCollection(mock, 2, "minilm")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `rag_chunks` WHERE collection = ? AND `owner_id` = ?")).
		WithArgs("docs", "u1").
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow(1, "docs", "d:1:0", "u1", "a.pdf", "far", "[0,1]", `{"page_number":3}`, now).
			AddRow(2, "docs", "d:1:1", "u1", "a.pdf", "near", "[1,0]", `{"page_number":3}`, now).
			AddRow(3, "docs", "d:1:2", "u1", "a.pdf", "other page", "[1,0]", `{"page_number":4}`, now))

	got, err := s.Query(context.Background(), "docs", "minilm", []float32{1, 0}, 5, Filter{"owner_id": "u1", "page_number": 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d:1:1", got[0].ID)
	assert.Equal(t, "near", got[0].Text)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, "d:1:0", got[1].ID)
	assert.InDelta(t, 1, got[1].Distance, 1e-6)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_QueryUsesPgvectorOnPostgres(t *testing.T) {
	db, mock := newPostgres(t)
	s := NewDatabase(repository.NewRAGChunkRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "vector_collections" WHERE name = $1`)).
		WillReturnRows(sqlmock.NewRows(collectionColumns).AddRow("docs", 2, "minilm", time.Now()))
	mock.ExpectQuery(`embedding <=> \$1 AS distance FROM "rag_chunks" WHERE collection = \$2 AND "document" = \$3 ORDER BY distance,seq`).
		WillReturnRows(sqlmock.NewRows(append(chunkColumns, "distance")).
			AddRow(2, "docs", "d:1:1", "u1", "a.pdf", "near", "[1,0]", `{}`, time.Now(), 0.01))

	got, err := s.Query(context.Background(), "docs", "minilm", []float32{1, 0}, 3, Filter{"document": "a.pdf"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d:1:1", got[0].ID)
	assert.InDelta(t, 0.01, got[0].Distance, 1e-6)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_RejectsOtherEmbeddingModel(t *testing.T) {
	db, mock := newMySQL(t)
	s := NewDatabase(repository.NewRAGChunkRepository(db))
	ctx := context.Background()

	expectCollection(mock, 2, "minilm")
	_, err := s.Query(ctx, "docs", "hashing", []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `vector_collections` WHERE name = ?")).
		WillReturnRows(sqlmock.NewRows(collectionColumns).AddRow("docs", 2, "minilm", time.Now()))
	mock.ExpectRollback()
	err = s.Add(ctx, "docs", "hashing", []Record{{ID: "x", Vector: []float32{0, 1}}})
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_AddPinsModelAndUpserts(t *testing.T) {
	db, mock := newMySQL(t)
	s := NewDatabase(repository.NewRAGChunkRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `vector_collections` WHERE name = ?") + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(collectionColumns).AddRow("docs", 0, "", time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `vector_collections` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `rag_chunks`") + ".*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	err := s.Add(context.Background(), "docs", "minilm", []Record{
		{ID: "d:1:0", Vector: []float32{1, 0}, Text: "a", Metadata: map[string]any{"owner_id": "u1", "document": "a.pdf"}},
		{ID: "d:1:1", Vector: []float32{0, 1}, Text: "b", Metadata: map[string]any{"owner_id": "u1", "document": "a.pdf"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_MissingCollection(t *testing.T) {
	db, mock := newMySQL(t)
	s := NewDatabase(repository.NewRAGChunkRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `vector_collections` WHERE name = ?")).
		WillReturnRows(sqlmock.NewRows(collectionColumns))
	_, err := s.Query(context.Background(), "nope", "", []float32{1}, 1, nil)
	assert.ErrorIs(t, err, apperr.ErrCollectionNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `vector_collections` WHERE name = ?")).
		WillReturnRows(sqlmock.NewRows(collectionColumns))
	mock.ExpectRollback()
	assert.ErrorIs(t, s.Reset(context.Background(), "nope"), apperr.ErrCollectionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Health(t *testing.T) {
	db, mock := newMySQL(t)
	s := NewDatabase(repository.NewRAGChunkRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `vector_collections` ORDER BY name")).
		WillReturnRows(sqlmock.NewRows(collectionColumns).
			AddRow("docs", 384, "minilm", time.Now()).
			AddRow("empty", 0, "", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT collection, COUNT(*) AS chunks FROM `rag_chunks` GROUP BY `collection`")).
		WillReturnRows(sqlmock.NewRows([]string{"collection", "chunks"}).AddRow("docs", 12))

	h := s.Health(context.Background())
	assert.Equal(t, ModeDurable, h.Mode)
	assert.False(t, h.Degraded)
	assert.Equal(t, "mysql", h.Backend)
	assert.Equal(t, 2, h.Collections)
	assert.Equal(t, 12, h.Records)
	assert.Equal(t, map[string]string{"docs": "minilm"}, h.Models)
}

func TestSplitFilter(t *testing.T) {
	scope, rest := splitFilter(Filter{"owner_id": "u1", "document": "a.pdf", "page_number": 2, "is_table": true})
	assert.Equal(t, repository.ChunkScope{"owner_id": "u1", "document": "a.pdf"}, scope)
	assert.Equal(t, Filter{"page_number": 2, "is_table": true}, rest)

	scope, rest = splitFilter(nil)
	assert.Nil(t, scope)
	assert.Nil(t, rest)
}
