package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"vlat-exam-service/internal/app"
	"vlat-exam-service/internal/domain"
	pgstore "vlat-exam-service/internal/infra/postgres"
	pgmigrations "vlat-exam-service/internal/infra/postgres/migrations"
	infraredis "vlat-exam-service/internal/infra/redis"
	transport "vlat-exam-service/internal/transport/http"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedTestSet(t, ctx, pgURL, sampleSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	testSets := infraredis.NewTestSetRepository(redisClient, pgstore.NewTestSetLoader(pool), 5*time.Minute)
	cache := infraredis.NewSessionCache(redisClient, "u1", 24*time.Hour)
	ledger := app.NewLedgerService(pgstore.NewProgressRepository(pool))
	adapter := app.NewSyncAdapter(transport.NewLocalLedgerClient(ledger, "u1"), cache, 5*time.Second)

	set, err := testSets.GetTestSet(ctx, 1)
	if err != nil {
		t.Fatalf("load set: %v", err)
	}
	if set.QuestionCount() != 2 {
		t.Fatalf("unexpected set from postgres: %+v", set)
	}
	if set.Title.Resolve("ta") != "மாதிரித் தேர்வு 1" {
		t.Fatalf("localized title lost: %+v", set.Title)
	}

	controller := app.NewSessionController(set, cache, adapter, 3600)
	if _, err := controller.Open(); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := controller.SelectAnswer("q1", "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := controller.SelectAnswer("q2", "b"); err != nil {
		t.Fatalf("select: %v", err)
	}

	view, err := controller.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view == nil || view.Score != 50 || view.Status != domain.StatusCompleted {
		t.Fatalf("unexpected confirmed view: %+v", view)
	}

	// The attempt is durable in Postgres.
	doc, err := ledger.GetProgress(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	latest, ok := doc.LatestAttempt()
	if !ok || latest.AttemptNumber != 1 || latest.Score != 50 {
		t.Fatalf("attempt missing from ledger: %+v", doc)
	}
	if latest.Answers["q2"] != "b" {
		t.Fatalf("answers lost through jsonb round trip: %+v", latest.Answers)
	}

	// The confirmed view is cached in Redis for offline reads.
	cached, ok, err := cache.LoadProgressView(1)
	if err != nil || !ok {
		t.Fatalf("cached view missing: ok=%v err=%v", ok, err)
	}
	if cached.Score != 50 || cached.AttemptsCount != 1 {
		t.Fatalf("unexpected cached view: %+v", cached)
	}

	// Burn the remaining attempts; the cap is enforced in the database.
	for i := 0; i < domain.DefaultMaxAttempts-1; i++ {
		if _, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 60}); err != nil {
			t.Fatalf("submit %d: %v", i+2, err)
		}
	}
	if _, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 60}); !errors.Is(err, domain.ErrAttemptLimit) {
		t.Fatalf("expected attempt limit from postgres, got %v", err)
	}

	doc, err = ledger.GetProgress(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if len(doc.Attempts) != domain.DefaultMaxAttempts {
		t.Fatalf("expected %d attempts stored, got %d", domain.DefaultMaxAttempts, len(doc.Attempts))
	}

	stats, err := ledger.GetStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TestsCompleted != 1 || stats.TotalAttempts != domain.DefaultMaxAttempts || stats.BestScore != 60 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "vlat", "POSTGRES_PASSWORD": "vlatpass", "POSTGRES_DB": "vlatdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://vlat:vlatpass@%s:%s/vlatdb?sslmode=disable", host, port.Port())
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

func seedTestSet(t *testing.T, ctx context.Context, dsn string, set domain.TestSet) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO test_sets (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, set.ID, string(data)); err != nil {
		t.Fatalf("insert test set: %v", err)
	}
}

func sampleSet() domain.TestSet {
	return domain.TestSet{
		ID:    1,
		Title: domain.LocalizedText{ByLanguage: map[string]string{"en": "Mock Test 1", "ta": "மாதிரித் தேர்வு 1"}},
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: domain.LocalizedText{ByLanguage: map[string]string{"en": "First question"}},
				Options: []domain.Option{
					{ID: "a", Text: domain.PlainText("Right")},
					{ID: "b", Text: domain.PlainText("Wrong")},
				},
				CorrectOptionID: "a",
			},
			{
				ID:     "q2",
				Prompt: domain.PlainText("Second question"),
				Options: []domain.Option{
					{ID: "a", Text: domain.PlainText("Right")},
					{ID: "b", Text: domain.PlainText("Wrong")},
				},
				CorrectOptionID: "a",
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
