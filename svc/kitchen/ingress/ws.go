package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/config"
	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/clients"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/lobby"

	"github.com/mileusna/useragent"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	// Action messages beyond this rate are dropped. The simulation only
	// consumes one action per player per tick anyway.
	ACTION_RATE  = 20
	ACTION_BURST = 30
)

type WSIngress struct {
	registry   *clients.Registry
	matchmaker *lobby.Matchmaker
	settings   config.ServerSettings
	httpServer *http.Server
}

func NewWSIngress(
	registry *clients.Registry,
	matchmaker *lobby.Matchmaker,
	settings config.ServerSettings,
) *WSIngress {
	return &WSIngress{
		registry:   registry,
		matchmaker: matchmaker,
		settings:   settings,
	}
}

func WriteTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, msg)
}

func (server *WSIngress) sendFailure(connection *clients.Connection, err error) {
	bytes, _ := protocol.Marshal(protocol.CreationFailedMessage{
		Op:    protocol.CreationFailedOp,
		Error: err.Error(),
	})
	connection.Send(bytes)
}

func (server *WSIngress) handleMessage(connection *clients.Connection, decoded interface{}) {
	switch message := decoded.(type) {
	case protocol.CreateMessage:
		request, err := lobby.BuildRequest(
			server.settings,
			message.GameName,
			message.Params,
			message.CreateIfNotFound,
		)
		if err != nil {
			server.sendFailure(connection, err)
			return
		}
		server.matchmaker.Submit(connection, request, false)

	case protocol.JoinMessage:
		params := protocol.GameParams{}
		anyCompatible := message.Params == nil
		if message.Params != nil {
			params = *message.Params
		}

		request, err := lobby.BuildRequest(server.settings, message.GameName, params, false)
		if err != nil {
			server.sendFailure(connection, err)
			return
		}
		server.matchmaker.Submit(connection, request, anyCompatible)

	case protocol.GenericMessage:
		if message.Op == protocol.LeaveOp {
			server.matchmaker.Leave(connection)
		}
	}
}

func (server *WSIngress) HandleClient(ctx context.Context, c *websocket.Conn, host string, agent string) error {
	connection := clients.NewConnection(ctx, host, agent)
	id, err := server.registry.Register(connection)
	if err != nil {
		log.Error().Err(err).Msg("failed to accept ws client")
		return err
	}
	defer server.registry.MarkDead(id)

	connection.SetCloseSlow(func() {
		c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
	})

	logger := connection.Logger()
	logger.Info().Str("agent", agent).Msg("client connected")

	actions := rate.NewLimiter(rate.Limit(ACTION_RATE), ACTION_BURST)

	receive := make(chan []byte)

	go func() {
		defer close(receive)

		for {
			if ctx.Err() != nil {
				return
			}

			typ, message, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}

			select {
			case receive <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-receive:
			if !ok {
				logger.Info().Msg("client disconnected")
				return nil
			}

			decoded, err := protocol.Decode(msg)
			if err != nil {
				logger.Debug().Err(err).Msg("dropping unintelligible message")
				continue
			}

			// Actions arrive every keystroke; keep them off the slow path.
			if action, isAction := decoded.(protocol.ActionMessage); isAction {
				if !actions.Allow() {
					continue
				}
				if game := connection.Game(); game != nil {
					game.EnqueueAction(connection, action.Action)
				}
				continue
			}

			server.handleMessage(connection, decoded)
		case data := <-connection.Outgoing():
			err := WriteTimeout(ctx, time.Second*5, c, data)
			if err != nil {
				logger.Error().Msg("client missed write timeout; disconnecting")
				return err
			}
		case <-connection.Ctx().Done():
			// Marked dead elsewhere, usually by shutdown.
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (server *WSIngress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})

	if err != nil {
		log.Error().Err(err).Msg("error accepting client connection")
		return
	}

	defer c.Close(websocket.StatusInternalError, "operational fault during relay")

	// We use nginx for ingress everywhere, so check this first
	hostname := r.RemoteAddr

	original, ok := r.Header["X-Forwarded-For"]
	if ok {
		hostname = original[0]
	}

	ua := useragent.Parse(r.UserAgent())
	agent := strings.TrimSpace(fmt.Sprintf("%s %s", ua.Name, ua.Version))

	err = server.HandleClient(r.Context(), c, hostname, agent)
	if errors.Is(err, context.Canceled) {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to close client port")
		return
	}
}

func (server *WSIngress) Serve(ctx context.Context, port int) error {
	listen, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		log.Error().Err(err).Msg("failed to bind WebSocket port")
		return err
	}

	log.Printf("listening on http://%v", listen.Addr())

	httpServer := &http.Server{
		Handler: server,
	}

	server.httpServer = httpServer

	return httpServer.Serve(listen)
}

func (server *WSIngress) Shutdown(ctx context.Context) {
	server.httpServer.Shutdown(ctx)
}
