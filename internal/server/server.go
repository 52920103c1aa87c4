package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/identity"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
	"github.com/victornm/livequiz/internal/live"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/ws"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level  string
		Format string
	}

	Auth struct {
		Secret string
		Issuer string
	}

	WS struct {
		SendBuffer     int
		AllowedOrigins []string
	}

	Quiz struct {
		// SeedFile is read into an in-memory quiz store when no Postgres address is configured.
		SeedFile string
	}

	Redis struct {
		Leaderboard struct {
			Addrs     []string
			Pass      string
			Prefix    string
			Retention time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Quiz struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	AMQP struct {
		// URL enables lifecycle publishing when set.
		URL      string
		Exchange string
	}
}

// DefaultConfig returns the configuration used for values absent from the file and environment.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Auth.Issuer = "livequiz"
	c.WS.SendBuffer = 64
	c.Redis.Leaderboard.Addrs = []string{"localhost:6379"}
	c.Redis.Leaderboard.Prefix = "livequiz"
	c.Redis.Leaderboard.Retention = time.Hour
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "livequiz"
	c.AMQP.Exchange = lifecycle.DefaultExchange
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			quiz *pgxpool.Pool
		}

		amqp struct {
			conn    *amqp.Connection
			channel *amqp.Channel
		}
	}

	service struct {
		quizzes     live.QuizStore
		router      *live.Router
		hub         *ws.Hub
		leaderboard *leaderboard.Service
		lifecycle   *lifecycle.Publisher
		results     *score.Service
		metrics     *telemetry.Metrics
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	if c.Auth.Secret == "" {
		return nil, fmt.Errorf("server: auth secret is required")
	}

	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := s.initAMQP(); err != nil {
		return fmt.Errorf("amqp: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	pc := s.c.Postgres.Quiz
	if pc.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return fmt.Errorf("quiz: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("quiz: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("quiz: %w", err)
	}

	if _, err := db.Exec(ctx, score.Schema); err != nil {
		db.Close()
		return fmt.Errorf("results schema: %w", err)
	}

	s.infra.postgres.quiz = db
	return nil
}

func (s *Server) initAMQP() (err error) {
	if s.c.AMQP.URL == "" {
		return nil
	}

	s.infra.amqp.conn, s.infra.amqp.channel, err = lifecycle.Dial(s.c.AMQP.URL)
	return err
}

func (s *Server) initService() error {
	if s.infra.postgres.quiz != nil {
		s.service.quizzes = quiz.NewPostgres(quiz.Config{DB: s.infra.postgres.quiz})
		s.service.results = score.NewService(score.Config{EventBus: s.eb, DB: s.infra.postgres.quiz})
	} else {
		m := quiz.NewMemory()
		if s.c.Quiz.SeedFile != "" {
			var err error
			if m, err = quiz.LoadSeedFile(s.c.Quiz.SeedFile); err != nil {
				return fmt.Errorf("quiz: %w", err)
			}
		}
		slog.Warn("server: no postgres configured, serving quizzes from memory", "seed", s.c.Quiz.SeedFile)
		s.service.quizzes = m
	}

	s.service.hub = ws.NewHub(s.c.WS.SendBuffer)
	s.service.router = live.NewRouter(live.Config{
		Registry: live.NewRegistry(live.CodeGenerator{}),
		Groups:   s.service.hub,
		Quizzes:  s.service.quizzes,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:  s.eb,
		Redis:     s.infra.redis.leaderboard,
		Prefix:    s.c.Redis.Leaderboard.Prefix,
		Retention: s.c.Redis.Leaderboard.Retention,
	})

	if s.infra.amqp.channel != nil {
		p, err := lifecycle.NewPublisher(lifecycle.Config{
			EventBus: s.eb,
			Channel:  s.infra.amqp.channel,
			Exchange: s.c.AMQP.Exchange,
		})
		if err != nil {
			return err
		}
		s.service.lifecycle = p
	}

	m, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Registerer:  prometheus.DefaultRegisterer,
		EventBus:    s.eb,
		Connections: s.service.hub.Len,
	})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	s.service.metrics = m

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), cors.New(s.corsConfig()))

	e.GET("/up", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	e.GET("/ws", gin.WrapH(ws.NewHandler(ws.Config{
		Hub:            s.service.hub,
		Router:         s.service.router,
		Resolver:       identity.NewJWT(identity.JWTConfig{Secret: s.c.Auth.Secret, Issuer: s.c.Auth.Issuer}),
		AllowedOrigins: s.c.WS.AllowedOrigins,
	})))

	ac := api.Config{
		Router:       e,
		EventBus:     s.eb,
		Registry:     s.service.router.Registry(),
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.service.results != nil {
		ac.Results = s.service.results
	}
	api.New(ac)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) corsConfig() cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowHeaders = append(cc.AllowHeaders, "Authorization")

	for _, o := range s.c.WS.AllowedOrigins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}

	if len(s.c.WS.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
		return cc
	}

	cc.AllowOrigins = s.c.WS.AllowedOrigins
	return cc
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Websocket connections are hijacked and outlive the HTTP server, their sessions end here.
	s.service.router.Shutdown(ctx)
	s.grpc.GracefulStop()

	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	if s.infra.amqp.conn != nil {
		if err := s.infra.amqp.conn.Close(); err != nil {
			slog.Error("server: close amqp failed", "error", err)
		}
	}

	if s.infra.postgres.quiz != nil {
		s.infra.postgres.quiz.Close()
	}

	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.Error("server: close redis failed", "error", err)
		}
	}
}
