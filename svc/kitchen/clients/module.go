// Package clients tracks every live connection and the role it currently
// occupies. The registry is shared between the ingress, the lobby, and
// sessions; it never blocks on session-internal logic.
package clients

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/margaritaradeva/OvercookedAI/pkg/utils"

	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

const (
	CONNECTION_MESSAGE_LIMIT int = 16
)

type ID uint16

type Role uint8

const (
	RoleIdle Role = iota
	RolePlayer
	RoleSpectator
	RoleAgent
)

// Game is the session-side surface a connection interacts with while seated.
type Game interface {
	Reference() string
	EnqueueAction(connection *Connection, action string)
}

type Connection struct {
	utils.Session

	id    ID
	host  string
	agent string
	role  Role

	send      chan []byte
	closeSlow func()

	mutex     deadlock.Mutex
	game      Game
	onDeath   func(*Connection)
	deathOnce sync.Once
}

func NewConnection(ctx context.Context, host string, agent string) *Connection {
	return &Connection{
		Session: utils.NewSession(ctx),
		host:    host,
		agent:   agent,
		send:    make(chan []byte, CONNECTION_MESSAGE_LIMIT),
	}
}

func (c *Connection) Id() ID {
	return c.id
}

func (c *Connection) Host() string {
	return c.host
}

func (c *Connection) Agent() string {
	return c.agent
}

func (c *Connection) Reference() string {
	return fmt.Sprintf("ws:%d", c.id)
}

func (c *Connection) Logger() zerolog.Logger {
	return log.With().
		Uint16("connection", uint16(c.id)).
		Str("host", c.host).
		Logger()
}

func (c *Connection) SetCloseSlow(closeSlow func()) {
	c.closeSlow = closeSlow
}

// Send queues data for delivery without blocking. A connection that cannot
// keep up is disconnected rather than allowed to stall the caller.
func (c *Connection) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		if c.closeSlow != nil {
			go c.closeSlow()
		}
		return false
	}
}

// Outgoing is consumed by the transport's write pump.
func (c *Connection) Outgoing() <-chan []byte {
	return c.send
}

func (c *Connection) SetRole(role Role) {
	c.mutex.Lock()
	c.role = role
	c.mutex.Unlock()
}

func (c *Connection) Role() Role {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.role
}

func (c *Connection) SetGame(game Game) {
	c.mutex.Lock()
	c.game = game
	c.mutex.Unlock()
}

func (c *Connection) Game() Game {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.game
}

// OnDeath installs the handler notified when this connection is marked
// dead. The handler fires at most once per connection, whichever one is
// installed at the time of death.
func (c *Connection) OnDeath(handler func(*Connection)) {
	c.mutex.Lock()
	c.onDeath = handler
	c.mutex.Unlock()
}

func (c *Connection) die() {
	c.deathOnce.Do(func() {
		c.mutex.Lock()
		handler := c.onDeath
		c.mutex.Unlock()

		c.Cancel()

		if handler != nil {
			handler(c)
		}
	})
}

type Registry struct {
	mutex       deadlock.Mutex
	connections map[ID]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[ID]*Connection),
	}
}

func (r *Registry) newConnectionID() (ID, error) {
	for attempts := 0; attempts < math.MaxUint16; attempts++ {
		number, _ := rand.Int(rand.Reader, big.NewInt(math.MaxUint16))
		truncated := ID(number.Uint64())

		if _, taken := r.connections[truncated]; taken {
			continue
		}

		return truncated, nil
	}

	return 0, errors.New("failed to assign connection ID")
}

func (r *Registry) Register(connection *Connection) (ID, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id, err := r.newConnectionID()
	if err != nil {
		return 0, err
	}

	connection.id = id
	r.connections[id] = connection

	return id, nil
}

func (r *Registry) Lookup(id ID) opt.Option[*Connection] {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if connection, ok := r.connections[id]; ok {
		return opt.Some(connection)
	}

	return opt.None[*Connection]()
}

// MarkDead removes the connection and fires its death handler exactly once.
// The handler runs outside all registry locks so session teardown can take
// as long as it needs.
func (r *Registry) MarkDead(id ID) {
	r.mutex.Lock()
	connection, ok := r.connections[id]
	if ok {
		delete(r.connections, id)
	}
	r.mutex.Unlock()

	if !ok {
		return
	}

	connection.die()
}

func (r *Registry) DetachFromSession(id ID) {
	r.mutex.Lock()
	connection, ok := r.connections[id]
	r.mutex.Unlock()

	if !ok {
		return
	}

	connection.SetGame(nil)
	connection.SetRole(RoleIdle)
}

func (r *Registry) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.connections)
}
