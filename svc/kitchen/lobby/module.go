// Package lobby queues connections awaiting a session, matches them
// first-enqueued-first-served, and promotes filled sessions to active play.
// Wait deadlines are swept by a single background task per matchmaker.
package lobby

import (
	"context"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/clients"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

// Entry is one connection waiting for a compatible session.
type Entry struct {
	Connection *clients.Connection
	Request    sessions.Request
	// Empty when the connection will take any open session.
	Key        string
	EnqueuedAt time.Time
	Deadline   time.Time
}

type Matchmaker struct {
	manager     *sessions.Manager
	waitTimeout time.Duration

	mutex deadlock.Mutex
	// FIFO; never reordered by anything other than compatibility.
	queue []*Entry
	open  []*sessions.GameSession

	queueEvent chan struct{}
}

func NewMatchmaker(manager *sessions.Manager, waitTimeout time.Duration) *Matchmaker {
	return &Matchmaker{
		manager:     manager,
		waitTimeout: waitTimeout,
		queue:       make([]*Entry, 0),
		open:        make([]*sessions.GameSession, 0),
		queueEvent:  make(chan struct{}, 1),
	}
}

func (m *Matchmaker) send(connection *clients.Connection, message interface{}) {
	data, err := protocol.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal lobby message")
		return
	}
	connection.Send(data)
}

func (m *Matchmaker) signal() {
	select {
	case m.queueEvent <- struct{}{}:
	default:
	}
}

// Submit routes a create or join request. A connection already seated in a
// session is ignored. anyCompatible marks a bare join that takes any open
// session regardless of parameters.
func (m *Matchmaker) Submit(
	connection *clients.Connection,
	request sessions.Request,
	anyCompatible bool,
) {
	if connection.Game() != nil {
		return
	}

	// Tutorial and predefined sequences always play alone; they never
	// join strangers.
	if request.Mode != sessions.ModeStandard {
		m.mutex.Lock()
		m.createLocked(connection, request)
		m.mutex.Unlock()
		return
	}

	key := request.CompatKey()
	if anyCompatible {
		key = ""
	}

	// The find -> seat -> activate sequence stays inside one critical
	// section so two joiners can never both claim the last slot.
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if session := m.findOpenLocked(key); session != nil {
		m.seatLocked(connection, session)
		return
	}

	// Prefer joining an open compatible session over creating a new one;
	// only when none exists does create_if_not_found matter.
	if request.CreateIfNotFound {
		m.createLocked(connection, request)
		return
	}

	now := time.Now()
	entry := &Entry{
		Connection: connection,
		Request:    request,
		Key:        key,
		EnqueuedAt: now,
		Deadline:   now.Add(m.waitTimeout),
	}

	m.queue = append(m.queue, entry)

	connection.OnDeath(m.handleDeath)
	m.send(connection, protocol.WaitingMessage{Op: protocol.WaitingOp, InGame: false})
	m.signal()

	logger := connection.Logger()
	logger.Info().Msg("queued for a game")
}

func (m *Matchmaker) findOpenLocked(key string) *sessions.GameSession {
	for _, session := range m.open {
		if session.Joinable(key) {
			return session
		}
	}
	return nil
}

func (m *Matchmaker) removeOpenLocked(session *sessions.GameSession) {
	cleaned := make([]*sessions.GameSession, 0, len(m.open))
	for _, open := range m.open {
		if open == session {
			continue
		}
		cleaned = append(cleaned, open)
	}
	m.open = cleaned
}

func (m *Matchmaker) removeQueuedLocked(connection *clients.Connection) *Entry {
	var removed *Entry
	cleaned := make([]*Entry, 0, len(m.queue))
	for _, entry := range m.queue {
		if entry.Connection == connection {
			removed = entry
			continue
		}
		cleaned = append(cleaned, entry)
	}
	m.queue = cleaned
	return removed
}

// createLocked builds a brand-new session for the requester. On failure the
// lobby is rolled back as if the request was never submitted and only the
// requester hears about it.
func (m *Matchmaker) createLocked(connection *clients.Connection, request sessions.Request) {
	session, err := m.manager.NewSession(request)
	if err != nil {
		logger := connection.Logger()
		logger.Error().Err(err).Msg("session creation failed")
		m.send(connection, protocol.CreationFailedMessage{
			Op:    protocol.CreationFailedOp,
			Error: err.Error(),
		})
		return
	}

	m.seatLocked(connection, session)
	m.drainQueueLocked(session)
}

// seatLocked attaches the connection as a player, or as a spectator when
// every slot is already taken (the creator of an all-agent game watches
// their own match).
func (m *Matchmaker) seatLocked(connection *clients.Connection, session *sessions.GameSession) {
	if _, err := session.AddPlayer(connection); err != nil {
		session.AddSpectator(connection)
	}

	connection.OnDeath(m.handleDeath)

	if session.IsReady() {
		m.activateLocked(session)
		return
	}

	m.removeOpenLocked(session)
	m.open = append(m.open, session)

	m.broadcastWaiting(session)
}

// drainQueueLocked seats queued entries, oldest first, while the session
// still has room.
func (m *Matchmaker) drainQueueLocked(session *sessions.GameSession) {
	for {
		var next *Entry
		for _, entry := range m.queue {
			if entry.Connection.IsDone() {
				continue
			}
			if session.Joinable(entry.Key) {
				next = entry
				break
			}
		}

		if next == nil {
			return
		}

		m.removeQueuedLocked(next.Connection)

		logger := next.Connection.Logger()
		logger.Info().
			Str("session", session.Id).
			Msg("matched from queue")

		m.seatLocked(next.Connection, session)
	}
}

func (m *Matchmaker) broadcastWaiting(session *sessions.GameSession) {
	message := protocol.WaitingMessage{Op: protocol.WaitingOp, InGame: true}
	data, err := protocol.Marshal(message)
	if err != nil {
		return
	}
	for _, connection := range session.Attached() {
		connection.Send(data)
	}
}

func (m *Matchmaker) activateLocked(session *sessions.GameSession) {
	m.removeOpenLocked(session)

	if err := session.Activate(); err != nil {
		// The session never started; this is a construction failure as
		// far as the waiting connections are concerned.
		logger := session.Logger()
		logger.Error().Err(err).Msg("activation failed")

		message := protocol.CreationFailedMessage{
			Op:    protocol.CreationFailedOp,
			Error: err.Error(),
		}
		for _, connection := range session.Attached() {
			m.send(connection, message)
		}

		session.Discard()
		return
	}

	session.InstallDeathHandlers()
}

// Leave removes a connection from the queue or its session. Repeated
// leaves are no-ops.
func (m *Matchmaker) Leave(connection *clients.Connection) {
	m.mutex.Lock()

	if removed := m.removeQueuedLocked(connection); removed != nil {
		m.mutex.Unlock()
		m.send(connection, protocol.EndLobbyMessage{Op: protocol.EndLobbyOp})
		return
	}

	game := connection.Game()
	if game == nil {
		m.mutex.Unlock()
		return
	}

	session, ok := game.(*sessions.GameSession)
	if !ok {
		m.mutex.Unlock()
		return
	}

	// Ending an active session publishes its result, which can block on
	// the subscriber; never do that while holding the lobby lock.
	if session.Status() != sessions.StatusLobby {
		m.mutex.Unlock()
		session.Leave(connection)
		return
	}

	anyoneLeft := session.Detach(connection)
	m.send(connection, protocol.EndLobbyMessage{Op: protocol.EndLobbyOp})

	if !anyoneLeft {
		m.removeOpenLocked(session)
		m.mutex.Unlock()
		session.Discard()
		return
	}

	m.broadcastWaiting(session)
	m.mutex.Unlock()
}

func (m *Matchmaker) handleDeath(connection *clients.Connection) {
	logger := connection.Logger()
	logger.Info().Msg("connection died while waiting")
	m.Leave(connection)
}

// Poll sweeps wait deadlines. It sleeps until the earliest deadline or the
// next queue event; a lobby timeout is a normal outcome, not an error.
func (m *Matchmaker) Poll(ctx context.Context) {
	for {
		m.mutex.Lock()
		var earliest time.Time
		for _, entry := range m.queue {
			if earliest.IsZero() || entry.Deadline.Before(earliest) {
				earliest = entry.Deadline
			}
		}
		m.mutex.Unlock()

		wait := time.Hour
		if !earliest.IsZero() {
			wait = time.Until(earliest)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.queueEvent:
			timer.Stop()
			continue
		case <-timer.C:
		}

		now := time.Now()
		expired := make([]*Entry, 0)

		m.mutex.Lock()
		cleaned := make([]*Entry, 0, len(m.queue))
		for _, entry := range m.queue {
			if entry.Connection.IsDone() {
				continue
			}
			if !entry.Deadline.After(now) {
				expired = append(expired, entry)
				continue
			}
			cleaned = append(cleaned, entry)
		}
		m.queue = cleaned
		m.mutex.Unlock()

		for _, entry := range expired {
			logger := entry.Connection.Logger()
			logger.Info().
				Dur("waited", now.Sub(entry.EnqueuedAt)).
				Msg("lobby wait timed out")
			m.send(entry.Connection, protocol.EndLobbyMessage{Op: protocol.EndLobbyOp})
		}
	}
}
