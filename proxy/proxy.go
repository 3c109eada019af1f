// Package proxy serves the chat relay over HTTP: it accepts user turns,
// streams the model's reply back as plain text, and exposes the conversation
// reset and inspection endpoints.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/logger"
	"github.com/Venkie07/kyla-api/pkg/memory"
	"github.com/Venkie07/kyla-api/relay"
)

// HeaderSessionID carries the conversation key on requests and responses.
const HeaderSessionID = "X-Session-ID"

// Proxy is the HTTP front of the relay. Each chat request runs as its own
// fasthttp handler; conversation state lives in the relay.
type Proxy struct {
	config Config
	relay  *relay.Relay
	logger *zap.Logger
	server *fiber.App

	// base is cancelled on Shutdown so in-flight upstream calls stop.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a new Proxy.
func New(config Config, r *relay.Relay, logger *zap.Logger) *Proxy {
	if config.ServiceName == "" {
		config.ServiceName = "Kyla"
	}
	if config.AllowOrigins == "" {
		config.AllowOrigins = "*"
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	base, cancel := context.WithCancel(context.Background())

	p := &Proxy{
		config: config,
		relay:  r,
		logger: logger,
		server: app,
		base:   base,
		cancel: cancel,
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  config.AllowOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, " + HeaderSessionID,
		ExposeHeaders: HeaderSessionID,
	}))

	p.registerRoutes(app)

	return p
}

func (p *Proxy) registerRoutes(app *fiber.App) {
	app.Get("/", p.handleRoot)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(llm.StatusResponse{Status: "ok"})
	})

	app.Post("/chat", p.handleChat)
	app.Post("/reset", p.handleReset)
	app.Get("/history", p.handleHistory)

	app.Post("/sessions", p.handleNewSession)
	app.Delete("/sessions/:id", p.handleDeleteSession)

	app.Get("/debug/vars", debugVarsHandler())
}

// Run starts the server on the configured listening address.
func (p *Proxy) Run() error {
	p.logger.Info("starting relay server", zap.String("listen", p.config.ListenAddr))

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the server on an existing listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting relay server", zap.String("listen", listener.Addr().String()))

	return p.server.Listener(listener)
}

// Shutdown cancels in-flight turns and stops the server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.cancel()
	return p.server.ShutdownWithContext(ctx)
}

func (p *Proxy) handleRoot(c *fiber.Ctx) error {
	return c.JSON(llm.StatusResponse{Status: p.config.ServiceName + " backend is running"})
}

// handleChat relays one user turn. Once the request body is accepted the
// response is always a 200 plain-text stream: upstream failures are reported
// by a terminal error line rather than a status code.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()

	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		p.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	if req.Message == nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "message is required"})
	}
	message := *req.Message

	sessionID := sessionFrom(c, req.SessionID)

	p.logger.Debug("received chat request",
		zap.String("session", sessionID),
		zap.String("content_preview", logger.Preview(message, 50)),
	)

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(HeaderSessionID, sessionID)

	stats.Add(statChatTurns, 1)

	ctx, cancel := context.WithCancel(p.base)
	turn := p.relay.HandleTurn(ctx, sessionID, message)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for fragment, err := range turn {
			if err != nil {
				stats.Add(statChatErrors, 1)
				fmt.Fprintf(w, "%s%s\n", llm.StreamErrorPrefix, err)
				if flushErr := w.Flush(); flushErr != nil {
					p.logger.Debug("client gone before error marker", zap.Error(flushErr))
				}
				return
			}

			if _, err := w.WriteString(fragment); err != nil {
				stats.Add(statDisconnects, 1)
				p.logger.Info("client disconnected", zap.String("session", sessionID), zap.Error(err))
				return
			}
			if err := w.Flush(); err != nil {
				stats.Add(statDisconnects, 1)
				p.logger.Info("client disconnected", zap.String("session", sessionID), zap.Error(err))
				return
			}
		}

		p.logger.Debug("chat stream finished",
			zap.String("session", sessionID),
			zap.Duration("duration", time.Since(startTime)),
		)
	}))

	return nil
}

func (p *Proxy) handleReset(c *fiber.Ctx) error {
	p.relay.Reset(sessionFrom(c, ""))
	stats.Add(statResets, 1)
	return c.JSON(llm.StatusResponse{Status: "chat memory cleared"})
}

func (p *Proxy) handleHistory(c *fiber.Ctx) error {
	id, messages := p.relay.History(sessionFrom(c, ""))
	return c.JSON(llm.HistoryResponse{
		SessionID: id,
		Messages:  messages,
		Depth:     len(messages),
	})
}

func (p *Proxy) handleNewSession(c *fiber.Ctx) error {
	id := p.relay.NewSession()
	stats.Add(statSessionsOpened, 1)
	c.Set(HeaderSessionID, id)
	return c.Status(fiber.StatusCreated).JSON(llm.SessionResponse{SessionID: id})
}

func (p *Proxy) handleDeleteSession(c *fiber.Ctx) error {
	id := strings.Clone(c.Params("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "session id required"})
	}
	if !p.relay.DeleteSession(id) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "session not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// sessionFrom resolves the session for a request: the body value, then the
// header, then the session_id query parameter, then the default session.
// Header and query values are copied because fiber reuses their memory once
// the handler returns, and the stream writer outlives it.
func sessionFrom(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := c.Get(HeaderSessionID); h != "" {
		return strings.Clone(h)
	}
	if q := c.Query("session_id"); q != "" {
		return strings.Clone(q)
	}
	return memory.DefaultSessionID
}
