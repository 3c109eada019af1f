package proxy

import (
	"expvar"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
)

// stats is published once per process under /debug/vars.
var stats = expvar.NewMap("kyla")

const (
	statChatTurns      = "chat_turns"
	statChatErrors     = "chat_errors"
	statDisconnects    = "client_disconnects"
	statResets         = "resets"
	statSessionsOpened = "sessions_opened"
)

func debugVarsHandler() fiber.Handler {
	return adaptor.HTTPHandler(expvar.Handler())
}
