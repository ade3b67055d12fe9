// Package gateway exposes the registry over a WebSocket JSON-RPC transport
// and a small authenticated REST surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"croncat/internal/domain"
	"croncat/internal/infra/middleware"
)

// RPCHandler handles a single RPC method call. The caller identity is on ctx.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// ServerConfig holds gateway listener settings.
type ServerConfig struct {
	Addr              string
	RequestsPerSecond float64 // per connection; 0 disables limiting
	Burst             int
	TrustedProxies    []string
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	info      *ClientInfo
	ws        *websocket.Conn
	limiter   *rate.Limiter // nil = unlimited
	sendCh    chan Frame    // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	schemas    map[string]*jsonschema.Schema
	logger     *slog.Logger
	cfg        ServerConfig
	metrics    *Metrics
	nextID     atomic.Uint64
	httpRoutes []httpRoute

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
	ready     chan struct{}
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, cfg ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		schemas:  make(map[string]*jsonschema.Schema),
		logger:   logger,
		cfg:      cfg,
		metrics:  &Metrics{},
		ready:    make(chan struct{}),
	}
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterSchema makes requests for method validate against schema before
// the handler runs.
func (s *Server) RegisterSchema(method string, schema *jsonschema.Schema) {
	s.handlersMu.Lock()
	s.schemas[method] = schema
	s.handlersMu.Unlock()
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Metrics returns the gateway counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}

	var handler http.Handler = mux
	if s.cfg.RequestsPerSecond > 0 {
		handler = middleware.NewIPLimiter(ctx, s.cfg.RequestsPerSecond, s.cfg.Burst, s.cfg.TrustedProxies...).Handler(handler)
	}
	handler = middleware.SecurityHeaders(handler)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	unsub := s.bus.SubscribeAll(s.forwardEvent)

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.unsubAll = unsub
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// forwardEvent pushes a bus event to every connected client. Slow clients
// lose events rather than stall the bus.
func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
			s.metrics.EventsForwarded.Add(1)
		default:
			s.metrics.EventsDropped.Add(1)
			s.logger.Warn("gateway: dropped event for slow client", "conn_id", cc.id, "event", string(event.Type))
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub, srv := s.unsubAll, s.httpSrv
	s.unsubAll = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the actual address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(tokenFromRequest(r))
	if err != nil {
		s.metrics.AuthFailures.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &clientConn{
		id:     s.nextID.Add(1),
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	if s.cfg.RequestsPerSecond > 0 {
		cc.limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), max(s.cfg.Burst, 1))
	}
	s.clients.Store(cc.id, cc)
	s.metrics.ClientsConnected.Add(1)

	s.logger.Info("gateway client connected", "conn_id", cc.id, "client", clientInfo.Name, "account", clientInfo.Account)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(cc.id)
	s.metrics.ClientsConnected.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", cc.id)
}

// readLoop handles requests of one connection in arrival order.
func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		if cc.limiter != nil && !cc.limiter.Allow() {
			s.metrics.RPCRateLimited.Add(1)
			s.sendResponse(cc, frame.ID, nil, domain.ErrRateLimit)
			continue
		}
		s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	schema := s.schemas[req.Method]
	s.handlersMu.RUnlock()

	s.metrics.RPCCallsTotal.Add(1)
	if !ok {
		s.metrics.RPCErrorsTotal.Add(1)
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError("gateway", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	var result json.RawMessage
	var err error
	if schema != nil {
		err = validatePayload(schema, req.Payload)
	}
	if err == nil {
		ctx = domain.ContextWithCaller(ctx, cc.info.Account)
		result, err = handler(ctx, cc.info, req.Payload)
	}
	if err != nil {
		s.metrics.RPCErrorsTotal.Add(1)
		s.logger.Debug("rpc rejected", "method", req.Method, "account", cc.info.Account, "code", string(domain.ErrorCodeOf(err)))
	}
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Payload = nil
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
