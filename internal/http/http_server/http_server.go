package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abrar71/swaggerfilesv2" // swagger embed files

	"syncstart/internal/http/roomhandler"
	"syncstart/internal/services/room"
	"syncstart/internal/ws"
)

const (
	bannerText  = "syncstart signaling server"
	disposeWait = 10 * time.Second
)

type httpServer struct {
	listenPort  uint16
	srv         http.Server
	ln          net.Listener
	roomService room.IRoomService
	roomsAPI    bool
	wsSrv       *ws.WsServer
	ctx         context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, wsSrv *ws.WsServer, roomService room.IRoomService, roomsAPI bool) *httpServer {
	return &httpServer{
		listenPort:  listenPort,
		wsSrv:       wsSrv,
		roomService: roomService,
		roomsAPI:    roomsAPI,
		ctx:         ctx,
	}
}

// Handler builds the routing engine. Start serves it; tests drive it directly.
func (h *httpServer) Handler() http.Handler {
	routerEngine := gin.New()
	routerEngine.Use(ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/healthz"},
	}))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Swagger UI and API specs
	routerEngine.StaticFS("/swagger-apis", http.FS(swaggerfilesv2.FS))
	routerEngine.Static("/api-specs", "api_specs")

	routerEngine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// websocket endpoint
	routerEngine.GET("/ws", h.wsSrv.Handle)

	// REST API
	if h.roomsAPI {
		roomhandler.New(h.roomService).Register(routerEngine)
	}

	// Upgrades are accepted on any path; everything else gets the banner.
	routerEngine.NoRoute(func(c *gin.Context) {
		if isUpgrade(c.Request) {
			h.wsSrv.Handle(c)
			return
		}
		c.String(http.StatusOK, bannerText)
	})
	routerEngine.NoMethod(func(c *gin.Context) {
		c.String(http.StatusOK, bannerText)
	})
	routerEngine.HandleMethodNotAllowed = true

	return routerEngine
}

func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	zap.L().Info("http.listen", zap.String("addr", h.ln.Addr().String()))

	h.srv = http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server and its websocket connections down.
// It waits up to 10 s for both.
func (h *httpServer) Dispose() error {
	// The root context is usually already cancelled here, so the deadline
	// must not derive from it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), disposeWait)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	wsErr := h.wsSrv.Shutdown(ctx)
	if wsErr != nil {
		zap.L().Error("ws_dispose", zap.Error(wsErr))
	}

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err // e.g. active conns didn’t finish in time
	}
	return wsErr
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
