package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/pkg/utils"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/agents"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/clients"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"

	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

// GameSession is one running match. Exactly one simulation state is
// authoritative at any instant and only the tick driver mutates it.
type GameSession struct {
	utils.Session

	Id   string
	Mode Mode

	manager *Manager
	request Request
	adapter sim.Adapter
	compat  string

	mutex      deadlock.RWMutex
	status     Status
	phases     []Phase
	phaseIndex int
	state      sim.State
	score      int
	humanScore int
	tick       int
	phaseStart time.Time

	slots      []*clients.Connection
	agentSlots []bool
	spectators map[*clients.Connection]struct{}
	pending    []sim.Action
	hasPending []bool
	runners    map[int]*agents.Runner

	trajectory []protocol.Transition

	endOnce sync.Once
}

func newGameSession(manager *Manager, request Request, adapter sim.Adapter) (*GameSession, error) {
	players := request.PlayerCount()

	session := &GameSession{
		Session:    utils.NewSession(manager.Ctx()),
		Id:         newSessionID(),
		Mode:       request.Mode,
		manager:    manager,
		request:    request,
		adapter:    adapter,
		compat:     request.CompatKey(),
		status:     StatusLobby,
		phases:     request.Phases,
		slots:      make([]*clients.Connection, players),
		agentSlots: make([]bool, players),
		spectators: make(map[*clients.Connection]struct{}),
		pending:    make([]sim.Action, players),
		hasPending: make([]bool, players),
		runners:    make(map[int]*agents.Runner),
	}

	assignments := []string{request.PlayerZero, request.PlayerOne}
	for slot := 0; slot < players && slot < len(assignments); slot++ {
		name := assignments[slot]
		if name == "" || name == "human" {
			continue
		}

		policy, err := session.findPolicy(name)
		if err != nil {
			return nil, err
		}

		connection := clients.NewConnection(session.Ctx(), "agent", name)
		connection.SetRole(clients.RoleAgent)
		connection.SetGame(session)

		session.slots[slot] = connection
		session.agentSlots[slot] = true
		session.runners[slot] = agents.NewRunner(policy, slot, session)
	}

	return session, nil
}

func (s *GameSession) findPolicy(name string) (agents.Policy, error) {
	// The tutorial partner is always the scripted cook, whatever the
	// client asked for.
	if s.Mode == ModeTutorial {
		return agents.NewScriptedCook(), nil
	}

	policy := agents.FindPolicy(name)
	if opt.IsNone(policy) {
		return nil, fmt.Errorf("error loading agent %q", name)
	}

	return policy.Value, nil
}

func (s *GameSession) Logger() zerolog.Logger {
	return log.With().
		Str("session", s.Id).
		Str("mode", s.Mode.String()).
		Logger()
}

func (s *GameSession) Reference() string {
	return s.Id
}

func (s *GameSession) Status() Status {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

func (s *GameSession) Request() Request {
	return s.request
}

// Joinable reports whether a submit with the given compatibility key can be
// seated here. Only standard sessions still filling their lobby qualify; an
// empty key (a bare join) matches any of them.
func (s *GameSession) Joinable(key string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.status != StatusLobby || s.Mode != ModeStandard {
		return false
	}
	if key != "" && key != s.compat {
		return false
	}

	return s.freeSlotLocked() >= 0
}

func (s *GameSession) freeSlotLocked() int {
	for i, connection := range s.slots {
		if connection == nil {
			return i
		}
	}
	return -1
}

func (s *GameSession) humansLocked() int {
	humans := 0
	for i, connection := range s.slots {
		if connection != nil && !s.agentSlots[i] {
			humans++
		}
	}
	return humans
}

// AddPlayer seats a connection in the first free slot. Slot occupancy never
// exceeds the required player count.
func (s *GameSession) AddPlayer(connection *clients.Connection) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusLobby {
		return -1, fmt.Errorf("cannot add players to a %s session", s.status)
	}

	slot := s.freeSlotLocked()
	if slot < 0 {
		return -1, fmt.Errorf("session %s is full", s.Id)
	}

	s.slots[slot] = connection
	connection.SetRole(clients.RolePlayer)
	connection.SetGame(s)

	return slot, nil
}

func (s *GameSession) AddSpectator(connection *clients.Connection) {
	s.mutex.Lock()
	s.spectators[connection] = struct{}{}
	s.mutex.Unlock()

	connection.SetRole(clients.RoleSpectator)
	connection.SetGame(s)
}

// IsReady reports whether the session can activate: every slot filled and
// at least one human attached (an all-agent game with no audience would
// play for nobody).
func (s *GameSession) IsReady() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.freeSlotLocked() < 0 &&
		(s.humansLocked() > 0 || len(s.spectators) > 0)
}

// Detach removes a connection without ending the session. Used by the lobby
// while the session is still filling. Reports whether any human remains.
func (s *GameSession) Detach(connection *clients.Connection) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.spectators[connection]; ok {
		delete(s.spectators, connection)
	}

	for i, seated := range s.slots {
		if seated == connection {
			s.slots[i] = nil
			s.hasPending[i] = false
		}
	}

	connection.SetGame(nil)
	connection.SetRole(clients.RoleIdle)

	return s.humansLocked() > 0 || len(s.spectators) > 0
}

// Activate fires the lobby -> active transition: phase 0 is initialized,
// every attached connection learns whether it is spectating, and the tick
// driver starts.
func (s *GameSession) Activate() error {
	s.mutex.Lock()

	if s.status != StatusLobby {
		s.mutex.Unlock()
		return fmt.Errorf("cannot activate a %s session", s.status)
	}

	state, err := s.adapter.Reset(s.phases[0].Params)
	if err != nil {
		s.mutex.Unlock()
		return fmt.Errorf("adapter reset failed: %w", err)
	}

	s.status = StatusActive
	s.state = state
	s.score = 0
	s.humanScore = 0
	s.tick = 0
	s.phaseStart = time.Now()

	for _, runner := range s.runners {
		runner.ResetPolicy()
		runner.Offer(state)
		go runner.Run(s.Ctx())
	}

	for i, connection := range s.slots {
		if connection == nil || s.agentSlots[i] {
			continue
		}
		s.sendLocked(connection, protocol.StartGameMessage{
			Op:         protocol.StartGameOp,
			StartInfo:  state,
			Spectating: false,
		})
	}
	for connection := range s.spectators {
		s.sendLocked(connection, protocol.StartGameMessage{
			Op:         protocol.StartGameOp,
			StartInfo:  state,
			Spectating: true,
		})
	}

	s.mutex.Unlock()

	logger := s.Logger()
	logger.Info().Msg("session activated")

	go s.run(s.Ctx())

	return nil
}

// EnqueueAction implements clients.Game. The most recent action per slot
// wins; actions outside the active state are silently discarded.
func (s *GameSession) EnqueueAction(connection *clients.Connection, action string) {
	parsed, err := sim.ParseAction(action)
	if err != nil {
		logger := s.Logger()
		logger.Debug().Err(err).Msg("dropping invalid action")
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusActive {
		return
	}

	for i, seated := range s.slots {
		if seated == connection && !s.agentSlots[i] {
			s.pending[i] = parsed
			s.hasPending[i] = true
			return
		}
	}
}

// EnqueueAgentAction implements agents.Game.
func (s *GameSession) EnqueueAgentAction(slot int, action sim.Action) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusActive {
		return
	}
	if slot < 0 || slot >= len(s.pending) || !s.agentSlots[slot] {
		return
	}

	s.pending[slot] = action
	s.hasPending[slot] = true
}

// Leave handles both voluntary leaves and connection deaths. A session that
// loses a required player cannot continue; spectators detach freely.
// Repeated leaves from an already-detached connection are no-ops.
func (s *GameSession) Leave(connection *clients.Connection) {
	s.mutex.Lock()

	if _, ok := s.spectators[connection]; ok {
		delete(s.spectators, connection)
		connection.SetGame(nil)
		connection.SetRole(clients.RoleIdle)

		empty := s.humansLocked() == 0 && len(s.spectators) == 0
		s.mutex.Unlock()

		if empty {
			s.End(protocol.StatusInactive)
		}
		return
	}

	seated := false
	for i, slot := range s.slots {
		if slot == connection && !s.agentSlots[i] {
			seated = true
		}
	}

	if !seated || s.status == StatusEnded {
		s.mutex.Unlock()
		return
	}

	s.mutex.Unlock()

	logger := s.Logger()
	logger.Info().
		Uint16("connection", uint16(connection.Id())).
		Msg("required player left, ending session")

	s.End(protocol.StatusInactive)
}

// InstallDeathHandlers points every attached human connection's death
// notification at this session. Called once on activation; the notification
// itself fires at most once per connection.
func (s *GameSession) InstallDeathHandlers() {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	handler := func(connection *clients.Connection) {
		s.Leave(connection)
	}

	for i, connection := range s.slots {
		if connection == nil || s.agentSlots[i] {
			continue
		}
		connection.OnDeath(handler)
	}
	for connection := range s.spectators {
		connection.OnDeath(handler)
	}
}

// End is the single terminal transition. Idempotent: the first caller wins,
// later calls (driver, disconnects, shutdown) are no-ops.
func (s *GameSession) End(status string) {
	s.endOnce.Do(func() {
		s.mutex.Lock()

		s.status = StatusEnded
		data := s.takeDataLocked()
		connections := s.attachedLocked()
		score := s.score
		duration := time.Since(s.Started())

		s.broadcastLocked(connections, protocol.EndGameMessage{
			Op:     protocol.EndGameOp,
			Status: status,
			Data:   data,
		})

		s.mutex.Unlock()

		// No tick may run after this point.
		s.Cancel()

		for _, connection := range connections {
			connection.SetGame(nil)
			connection.SetRole(clients.RoleIdle)
		}

		result := Result{
			SessionID: s.Id,
			Mode:      s.Mode,
			Status:    status,
			Score:     score,
			Duration:  duration,
		}

		s.persist(result, data)
		s.manager.remove(s)
		s.manager.results.Publish(result)

		logger := s.Logger()
		logger.Info().
			Str("status", status).
			Int("score", score).
			Msg("session ended")
	})
}

// Discard drops a session that never activated. No end_game is broadcast;
// the lobby signals end_lobby to anyone still waiting.
func (s *GameSession) Discard() {
	s.endOnce.Do(func() {
		s.mutex.Lock()
		s.status = StatusEnded
		connections := s.attachedLocked()
		s.mutex.Unlock()

		s.Cancel()

		for _, connection := range connections {
			connection.SetGame(nil)
			connection.SetRole(clients.RoleIdle)
		}

		s.manager.remove(s)

		logger := s.Logger()
		logger.Info().Msg("session discarded before start")
	})
}

// Attached returns every human connection currently in the session.
func (s *GameSession) Attached() []*clients.Connection {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.attachedLocked()
}

func (s *GameSession) attachedLocked() []*clients.Connection {
	connections := make([]*clients.Connection, 0, len(s.slots)+len(s.spectators))
	for i, connection := range s.slots {
		if connection == nil || s.agentSlots[i] {
			continue
		}
		connections = append(connections, connection)
	}
	for connection := range s.spectators {
		connections = append(connections, connection)
	}
	return connections
}

func (s *GameSession) sendLocked(connection *clients.Connection, message interface{}) {
	data, err := protocol.Marshal(message)
	if err != nil {
		logger := s.Logger()
		logger.Error().Err(err).Msg("failed to marshal message")
		return
	}
	connection.Send(data)
}

func (s *GameSession) broadcastLocked(connections []*clients.Connection, message interface{}) {
	data, err := protocol.Marshal(message)
	if err != nil {
		logger := s.Logger()
		logger.Error().Err(err).Msg("failed to marshal broadcast")
		return
	}

	// Send never blocks; a slow connection is closed rather than allowed
	// to hold up the rest of the session.
	for _, connection := range connections {
		connection.Send(data)
	}
}

func (s *GameSession) takeDataLocked() *protocol.GameData {
	if len(s.trajectory) == 0 {
		return nil
	}

	data := &protocol.GameData{
		UID:        fmt.Sprintf("%s-%d", s.Id, s.phaseIndex),
		Trajectory: s.trajectory,
	}
	s.trajectory = nil

	return data
}

func (s *GameSession) persist(result Result, data *protocol.GameData) {
	s.persistTrajectory(s.phaseIndexNow(), data)

	if s.manager.Summaries == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.manager.Ctx(), 5*time.Second)
		defer cancel()

		if err := s.manager.Summaries.SaveSummary(ctx, result); err != nil {
			logger := s.Logger()
			logger.Error().Err(err).Msg("failed to save game summary")
		}
	}()
}

func (s *GameSession) persistTrajectory(phase int, data *protocol.GameData) {
	if data == nil || s.manager.Trajectories == nil || !s.request.DataCollection {
		return
	}

	record := TrajectoryRecord{
		SessionID: s.Id,
		Phase:     phase,
		Layout:    s.phases[phase].Params.Layout,
		GameType:  gameType(s.request),
		Data:      data,
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.manager.Ctx(), 5*time.Second)
		defer cancel()

		if err := s.manager.Trajectories.SaveTrajectory(ctx, record); err != nil {
			logger := s.Logger()
			logger.Error().Err(err).Msg("failed to save trajectory")
		}
	}()
}

func (s *GameSession) phaseIndexNow() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.phaseIndex
}

// gameType encodes the player assignment: H for human, A for agent.
func gameType(request Request) string {
	letter := func(name string) string {
		if name == "" || name == "human" {
			return "H"
		}
		return "A"
	}
	return letter(request.PlayerZero) + letter(request.PlayerOne)
}
