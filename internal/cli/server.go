package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"vlat-exam-service/internal/app"
	"vlat-exam-service/internal/config"
	"vlat-exam-service/internal/domain"
	"vlat-exam-service/internal/infra/memory"
	pgstore "vlat-exam-service/internal/infra/postgres"
	redisstore "vlat-exam-service/internal/infra/redis"
	transport "vlat-exam-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var progressRepo app.ProgressRepository = memory.NewProgressRepository()
	if pool != nil {
		progressRepo = pgstore.NewProgressRepository(pool)
	}
	ledger := app.NewLedgerService(progressRepo)

	testSetTTL := config.Duration(cfg.Exam.TestSetTTL, 10*time.Minute)
	var testSets app.TestSetRepository
	if redisClient != nil && pool != nil {
		testSets = redisstore.NewTestSetRepository(redisClient, pgstore.NewTestSetLoader(pool), testSetTTL)
	} else if pool != nil {
		testSets = memory.NewTestSetRepository(pgstore.NewTestSetLoader(pool), testSetTTL)
	} else {
		testSets = memory.NewTestSetRepository(memory.NewStaticTestSetLoader(sampleCatalog()), testSetTTL)
	}

	sessionCacheTTL := config.Duration(cfg.Exam.SessionCacheTTL, memory.DefaultSessionMaxAge)
	caches := transport.NewUserCaches(func(userID string) app.SessionCache {
		if redisClient != nil {
			return redisstore.NewSessionCache(redisClient, userID, sessionCacheTTL)
		}
		return memory.NewSessionCache(sessionCacheTTL)
	})

	sessionDuration := int(config.Duration(cfg.Exam.SessionDuration, domain.DefaultSessionDuration*time.Second).Seconds())
	remoteTimeout := config.Duration(cfg.Exam.RemoteTimeout, 10*time.Second)

	handler := transport.NewHandler(ledger, testSets, caches, remoteTimeout, cfg.ReviewGateEnabled())
	wsHandler := transport.NewWSHandler(ledger, testSets, caches, sessionDuration, remoteTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	handler.Register(mux)
	mux.HandleFunc("/ws/session", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting exam service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides placeholder exam content for running without a
// database. Real deployments load the catalog from Postgres.
func sampleCatalog() map[int]domain.TestSet {
	questions := []domain.Question{
		{
			ID: "q1",
			Prompt: domain.LocalizedText{ByLanguage: map[string]string{
				"en": "Which article of the Constitution of India abolishes untouchability?",
				"ta": "இந்திய அரசியலமைப்பின் எந்தப் பிரிவு தீண்டாமையை ஒழிக்கிறது?",
			}},
			Options: []domain.Option{
				{ID: "a", Text: domain.LocalizedText{Plain: "Article 14"}},
				{ID: "b", Text: domain.LocalizedText{Plain: "Article 17"}},
				{ID: "c", Text: domain.LocalizedText{Plain: "Article 19"}},
				{ID: "d", Text: domain.LocalizedText{Plain: "Article 21"}},
			},
			CorrectOptionID: "b",
		},
		{
			ID: "q2",
			Prompt: domain.LocalizedText{ByLanguage: map[string]string{
				"en": "The writ of habeas corpus protects which right?",
				"ta": "ஆட்கொணர்வு நீதிப்பேராணை எந்த உரிமையைப் பாதுகாக்கிறது?",
			}},
			Options: []domain.Option{
				{ID: "a", Text: domain.LocalizedText{Plain: "Right to property"}},
				{ID: "b", Text: domain.LocalizedText{Plain: "Right to personal liberty"}},
				{ID: "c", Text: domain.LocalizedText{Plain: "Right to education"}},
				{ID: "d", Text: domain.LocalizedText{Plain: "Right to vote"}},
			},
			CorrectOptionID: "b",
		},
	}

	catalog := make(map[int]domain.TestSet, domain.CatalogSize)
	for setID := 1; setID <= domain.CatalogSize; setID++ {
		catalog[setID] = domain.TestSet{
			ID: setID,
			Title: domain.LocalizedText{ByLanguage: map[string]string{
				"en": fmt.Sprintf("Mock Test %d", setID),
				"ta": fmt.Sprintf("மாதிரித் தேர்வு %d", setID),
			}},
			Questions: questions,
		}
	}
	return catalog
}
