package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"syncstart/internal/archive"
	"syncstart/internal/config"
	"syncstart/internal/database/db_client"
	"syncstart/internal/database/migrations"
	"syncstart/internal/events"
	"syncstart/internal/events/kafkasink"
	"syncstart/internal/events/redisstream"
	"syncstart/internal/http/http_server"
	"syncstart/internal/redis/redis_client"
	"syncstart/internal/roomid"
	"syncstart/internal/services/room"
	"syncstart/internal/sweep"
	"syncstart/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var recorders events.Multi
	var roomService room.IRoomService

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Production() {
		Log, err = zap.NewProduction()
		if err != nil {
			panic(err)
		}
		zap.ReplaceGlobals(Log)
		gin.SetMode(gin.ReleaseMode)
	}
	defer Log.Sync()
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis stream journal
	var redisClient *redis.Client
	if cfg.RedisEventsEnabled {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		recorders = append(recorders, redisstream.New(redisClient, cfg.RedisEventsStream, cfg.RedisEventsMaxLen))
		Log.Debug("Redis event stream enabled", zap.String("stream", cfg.RedisEventsStream))
	}

	// 4. Kafka journal
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafkasink.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		recorders = append(recorders, producer)
		Log.Debug("Kafka event sink enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	// 5. Postgres archive
	var pgDb *sql.DB
	if cfg.ArchiveEnabled {
		pgDb, err = db_client.Open(db_client.DSN(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb))
		if err != nil {
			Log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		if err := migrations.Up(pgDb); err != nil {
			Log.Fatal("pg-migrate", zap.Error(err))
		}
		recorders = append(recorders, archive.New(pgDb))
	}

	// 6. Event journal worker. It outlives ctx so departures during shutdown
	// are still recorded.
	var publisher events.Publisher = events.Nop{}
	var journal *events.Async
	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()
	if len(recorders) > 0 {
		journal = events.NewAsync(recorders, cfg.EventQueueSize)
		publisher = journal
		go journal.Run(journalCtx)
	}

	// 7. Room registry
	roomService = room.NewRoomService(roomid.New(nil), cfg.RoomTTL)
	Log.Debug("Room registry ready", zap.Duration("ttl", roomService.TTL()))

	// 8. Initialize the WS server
	wsSrv := ws.NewWsServer(roomService, publisher, ws.Options{
		ReadLimit:      cfg.WsReadLimit,
		SendBuffer:     cfg.WsSendBuffer,
		AllowedOrigins: cfg.WsAllowedOrigins,
	})

	// 9. Background: room sweep + connection liveness
	sweep.Run(ctx, "rooms", cfg.RoomSweepInterval, sweep.Func(wsSrv.SweepRooms))
	sweep.Run(ctx, "conns", cfg.WsPingInterval, sweep.Func(wsSrv.SweepConns))

	// 10. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.Port, wsSrv, roomService, cfg.RoomsAPIEnabled)
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Start() }()

	select {
	case <-ctx.Done():
		Log.Info("shutdown.signal")
	case err := <-serveErr:
		if err != nil {
			Log.Error("Failed to start HTTP server", zap.Error(err))
		}
		stop()
	}

	// 11. Graceful shutdown: connections first, then drain the journal
	if err := httpServer.Dispose(); err != nil {
		Log.Warn("shutdown.http", zap.Error(err))
	}
	stopJournal()
	if journal != nil {
		waitJournal(journal, 5*time.Second)
		Log.Info("shutdown.journal", zap.Uint64("dropped", journal.Dropped()))
	}
}

func waitJournal(j *events.Async, limit time.Duration) {
	done := make(chan struct{})
	go func() {
		j.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(limit):
		zap.L().Warn("shutdown.journal_timeout")
	}
}
