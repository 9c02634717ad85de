package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/domain"
	"pyq-pipeline/internal/infra/postgres"
	pgmigrations "pyq-pipeline/internal/infra/postgres/migrations"
	infraredis "pyq-pipeline/internal/infra/redis"
)

func TestUploadTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDB(t, ctx, pgURL, "questions")

	store, err := postgres.Connect(ctx, pgURL, "questions")
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer store.Close(ctx)

	c := enrichedCorpus(100)
	uploader := app.NewUploader(store)
	opts := app.UploadOptions{Table: "questions"}

	report, err := uploader.Upload(ctx, c, opts)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if report.Upserted != 100 {
		t.Fatalf("expected 100 upserts, got %d", report.Upserted)
	}
	first := snapshot(t, ctx, pgURL)

	time.Sleep(50 * time.Millisecond)
	if _, err := uploader.Upload(ctx, c, opts); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	n, err := store.Count(ctx, "UPSC", 2024)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 100 {
		t.Fatalf("expected 100 rows after second upload, got %d", n)
	}
	second := snapshot(t, ctx, pgURL)
	for q, before := range first {
		after := second[q]
		if after.content != before.content {
			t.Fatalf("q%d content changed: %q -> %q", q, before.content, after.content)
		}
		if !after.updatedAt.After(before.updatedAt) {
			t.Fatalf("q%d updated_at did not advance", q)
		}
		if !after.createdAt.Equal(before.createdAt) {
			t.Fatalf("q%d created_at changed", q)
		}
	}
}

func TestUploadIntoConfiguredTable(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDB(t, ctx, pgURL, "pyq_questions")

	store, err := postgres.Connect(ctx, pgURL, "pyq_questions")
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer store.Close(ctx)

	report, err := app.NewUploader(store).Upload(ctx, enrichedCorpus(5), app.UploadOptions{Table: "pyq_questions"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.Upserted != 5 {
		t.Fatalf("expected 5 upserts, got %d", report.Upserted)
	}
	n, err := store.Count(ctx, "UPSC", 2024)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 rows, got %d", n)
	}
}

func TestUploadRollsBackOnFailingRow(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDB(t, ctx, pgURL, "questions")

	store, err := postgres.Connect(ctx, pgURL, "questions")
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer store.Close(ctx)

	c := enrichedCorpus(10)
	// Out of range for the INTEGER column, so the seventh statement fails
	// after six rows were already written in the transaction.
	c.Questions[6].ChunkNumber = 1 << 40

	report, err := app.NewUploader(store).Upload(ctx, c, app.UploadOptions{Table: "questions"})
	var serr *domain.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if report.FailedQuestion != 7 {
		t.Fatalf("expected failed question 7, got %d", report.FailedQuestion)
	}
	n, err := store.Count(ctx, "UPSC", 2024)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", n)
	}
}

func TestRedisRunLock(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, cleanup := startRedis(t, ctx)
	defer cleanup()
	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	lock := infraredis.NewRunLock(client, "/corpus/upsc_2024.json", time.Minute)
	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lock.Acquire(ctx); !errors.Is(err, domain.ErrCorpusLocked) {
		t.Fatalf("expected ErrCorpusLocked, got %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	release, err = lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = release()
}

type rowState struct {
	content   string
	createdAt time.Time
	updatedAt time.Time
}

func snapshot(t *testing.T, ctx context.Context, dsn string) map[int]rowState {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	defer sqldb.Close()

	rows, err := sqldb.QueryContext(ctx, `
SELECT question_number, question_text || '|' || coalesce(explanation, '') || '|' || coalesce(options::text, ''), created_at, updated_at
FROM questions WHERE exam_type = 'UPSC' AND year = 2024`)
	if err != nil {
		t.Fatalf("snapshot query: %v", err)
	}
	defer rows.Close()
	out := map[int]rowState{}
	for rows.Next() {
		var n int
		var s rowState
		if err := rows.Scan(&n, &s.content, &s.createdAt, &s.updatedAt); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out[n] = s
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func enrichedCorpus(n int) *domain.CorpusFile {
	c := &domain.CorpusFile{Metadata: domain.Metadata{Source: "test", ExamType: "UPSC", Year: 2024, Section: "GS1"}}
	stamp := "2024-06-01T10:00:00Z"
	source := "offline/test"
	for i := 1; i <= n; i++ {
		ans := "A"
		expl := fmt.Sprintf("explanation %d", i)
		ptype := "conceptual"
		c.Questions = append(c.Questions, domain.QuestionRecord{
			QuestionNumber:   i,
			ExamType:         "UPSC",
			Year:             2024,
			Section:          "GS1",
			QuestionText:     fmt.Sprintf("Question %d?", i),
			Options:          domain.Options{"A": {Text: "a"}, "B": {Text: "b"}, "C": {Text: "c"}, "D": {Text: "d"}},
			CorrectAnswer:    &ans,
			OptionsExtracted: true,
			ExtractionOrder:  i,
			ChunkNumber:      1,
			Enrichment: domain.Enrichment{
				Explanation:       &expl,
				PrimaryType:       &ptype,
				KeyConcepts:       []string{"k"},
				WhyOthersAreWrong: map[string]string{"B": "b", "C": "c", "D": "d"},
				AnalysisSource:    &source,
				AnalysisTimestamp: &stamp,
			},
		})
	}
	c.SyncTotal()
	return c
}

func migrateDB(t *testing.T, ctx context.Context, dsn, table string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.New(table), pgmigrations.MigratorOptions(table)...)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "pyq", "POSTGRES_PASSWORD": "pyqpass", "POSTGRES_DB": "pyqdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://pyq:pyqpass@%s:%s/pyqdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
