package room

import (
	"context"
	"math/rand"
	"time"

	"undercover/internal/apperr"
	"undercover/internal/bus"
	"undercover/internal/filter"
	"undercover/internal/logging"
	"undercover/internal/metrics"
	"undercover/internal/ratelimit"
	"undercover/internal/store"
	"undercover/internal/wordbank"
)

// commandKind enumerates the public command union of §4.1, plus two
// internal kinds used to fold timer expiry back through the single
// command channel so every mutation — timer-driven or client-driven —
// is serialised the same way (§5 "single logical task").
type commandKind int

const (
	cmdAttach commandKind = iota
	cmdDetach
	cmdJoin
	cmdReady
	cmdDescribe
	cmdVote
	cmdChat
	cmdLeave
	cmdDescribeTimeout
	cmdVoteTimeout
	cmdResultTimeout
	cmdStatus
)

type command struct {
	kind        commandKind
	playerID    string
	displayName string
	content     string
	targetID    string
	ready       bool
	reply       chan commandResult
}

type commandResult struct {
	snapshot Snapshot
	sub      *bus.Subscription
	status   Status
	err      error
}

// Status is the subset of room state the Room Lifecycle Manager and the
// /rooms/status endpoint need, read out through the command channel so
// they never touch *Room concurrently with the owning goroutine (§5).
type Status struct {
	RoomID         string
	PlayerCount    int
	ConnectedCount int
	IsGameOver     bool
	IsEmpty        bool
	LastActivityAt time.Time
	RoundDelay     time.Duration
}

// Engine is the Room Engine (C7): the single writer of one Room's
// state, modeled on the teacher's room.go run loop but driven by a
// typed command union instead of untyped JSON maps.
type Engine struct {
	id    string
	room  *Room
	cmdCh chan command
	stop  chan struct{}

	bus     *bus.Bus
	bank    *wordbank.Bank
	filter  *filter.Filter
	limiter *ratelimit.RoomLimiter
	store   *store.Store

	describeTimer *phaseTimer
	voteTimer     *phaseTimer
	resultTimer   *phaseTimer

	onDelete func(roomID string)
}

// NewEngine builds a room in Lobby phase, ready to Run.
func NewEngine(id string, cfg Config, bank *wordbank.Bank, filt *filter.Filter, st *store.Store, onDelete func(string)) *Engine {
	return &Engine{
		id:            id,
		room:          NewRoom(id, cfg),
		cmdCh:         make(chan command, 32),
		stop:          make(chan struct{}),
		bus:           bus.New(),
		bank:          bank,
		filter:        filt,
		limiter:       ratelimit.NewRoomLimiter(ratelimit.DefaultRules),
		store:         st,
		describeTimer: newPhaseTimer(),
		voteTimer:     newPhaseTimer(),
		resultTimer:   newPhaseTimer(),
		onDelete:      onDelete,
	}
}

// restoreFromStore recovers a previously persisted snapshot for this
// room, if one exists, before the engine starts serving commands (§4.8
// "Read on registry miss when a client supplies a known room_id"; C9
// crash-recovery). Must be called before Run — the engine's own
// goroutine has not started yet, so mutating e.room directly here is
// still single-writer-safe.
func (e *Engine) restoreFromStore(ctx context.Context) {
	restored := &Room{}
	if !e.store.LoadSnapshot(ctx, e.id, restored) {
		return
	}
	restored.ID = e.id
	e.room = restored
	e.resumeTimerForPhase()
	logging.Info(ctx, "room restored from persisted snapshot",
		logging.Str("room_id", e.id), logging.Str("phase", string(e.room.State)))
}

// resumeTimerForPhase restarts whichever phase timer matches a freshly
// restored room's state. Remaining time isn't part of the persisted
// snapshot, so a restored in-progress phase resumes with a fresh
// full-length countdown rather than the exact time left before the crash.
func (e *Engine) resumeTimerForPhase() {
	switch e.room.State {
	case PhaseDescribe:
		e.describeTimer.Start(int(e.room.Config.DescribeTimeLimit/time.Second), nil, func() {
			e.postInternal(cmdDescribeTimeout)
		})
	case PhaseVote:
		e.voteTimer.Start(int(e.room.Config.VoteTimeLimit/time.Second), nil, func() {
			e.postInternal(cmdVoteTimeout)
		})
	case PhaseResult:
		e.resultTimer.Start(int(e.room.Config.RoundDelay/time.Second), nil, func() {
			e.postInternal(cmdResultTimeout)
		})
	}
}

// ID returns the room id.
func (e *Engine) ID() string { return e.id }

// Bus exposes the event bus so the connection handler can subscribe
// without routing every subscribe through the command channel.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Run is the engine's single goroutine: the owning task of §5. It
// exits when Close is called.
func (e *Engine) Run() {
	for {
		select {
		case <-e.stop:
			return
		case cmd := <-e.cmdCh:
			e.dispatch(cmd)
		}
	}
}

// Close cancels outstanding timers, closes the event bus (subscribers
// observe end-of-stream) and stops the run loop (§4.2, §5 "Cancellation").
func (e *Engine) Close() {
	close(e.stop)
	e.describeTimer.Stop()
	e.voteTimer.Stop()
	e.resultTimer.Stop()
	e.bus.Close()
}

// send posts a command and awaits its reply, honoring ctx cancellation.
// In-flight commands not yet accepted by the loop are simply abandoned
// on ctx/stop (§5 "dropped with no reply").
func (e *Engine) send(ctx context.Context, cmd command) (Snapshot, *bus.Subscription, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return Snapshot{}, nil, ctx.Err()
	case <-e.stop:
		return Snapshot{}, nil, apperr.New(apperr.InternalError, "room closed")
	}
	select {
	case res := <-cmd.reply:
		return res.snapshot, res.sub, res.err
	case <-ctx.Done():
		return Snapshot{}, nil, ctx.Err()
	}
}

// Attach opens a bus subscription and returns the caller's projected
// snapshot (§4.1, §4.4).
func (e *Engine) Attach(ctx context.Context, playerID string) (Snapshot, *bus.Subscription, error) {
	return e.send(ctx, command{kind: cmdAttach, playerID: playerID})
}

// Detach marks a player disconnected without removing their seat.
func (e *Engine) Detach(ctx context.Context, playerID string) error {
	_, _, err := e.send(ctx, command{kind: cmdDetach, playerID: playerID})
	return err
}

// Join registers or rebinds a player.
func (e *Engine) Join(ctx context.Context, playerID, displayName string) (Snapshot, error) {
	snap, _, err := e.send(ctx, command{kind: cmdJoin, playerID: playerID, displayName: displayName})
	return snap, err
}

// SetReady toggles a lobby player's readiness.
func (e *Engine) SetReady(ctx context.Context, playerID string, ready bool) error {
	_, _, err := e.send(ctx, command{kind: cmdReady, playerID: playerID, ready: ready})
	return err
}

// Describe submits the current turn player's description.
func (e *Engine) Describe(ctx context.Context, playerID, content string) error {
	_, _, err := e.send(ctx, command{kind: cmdDescribe, playerID: playerID, content: content})
	return err
}

// Vote casts or replaces a ballot.
func (e *Engine) Vote(ctx context.Context, playerID, targetID string) error {
	_, _, err := e.send(ctx, command{kind: cmdVote, playerID: playerID, targetID: targetID})
	return err
}

// Chat posts a chat message, when the current phase allows it.
func (e *Engine) Chat(ctx context.Context, playerID, content string) error {
	_, _, err := e.send(ctx, command{kind: cmdChat, playerID: playerID, content: content})
	return err
}

// Leave removes (Lobby) or disconnects (in-game) a player.
func (e *Engine) Leave(ctx context.Context, playerID string) error {
	_, _, err := e.send(ctx, command{kind: cmdLeave, playerID: playerID})
	return err
}

// ReadStatus reports the room's deletability inputs for C8/C9 (§4.2,
// §6 "/rooms/status") without any component touching *Room directly.
func (e *Engine) ReadStatus(ctx context.Context) (Status, error) {
	cmd := command{kind: cmdStatus, reply: make(chan commandResult, 1)}
	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-e.stop:
		return Status{}, apperr.New(apperr.InternalError, "room closed")
	}
	select {
	case res := <-cmd.reply:
		return res.status, res.err
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (e *Engine) dispatch(cmd command) {
	var res commandResult
	switch cmd.kind {
	case cmdAttach:
		res = e.handleAttach(cmd)
	case cmdDetach:
		res = e.handleDetach(cmd)
	case cmdJoin:
		res = e.handleJoin(cmd)
	case cmdReady:
		res = e.handleReady(cmd)
	case cmdDescribe:
		res = e.handleDescribe(cmd)
	case cmdVote:
		res = e.handleVote(cmd)
	case cmdChat:
		res = e.handleChat(cmd)
	case cmdLeave:
		res = e.handleLeave(cmd)
	case cmdStatus:
		res = e.handleStatus()
	case cmdDescribeTimeout:
		e.onDescribeTimeout()
	case cmdVoteTimeout:
		e.onVoteTimeout()
	case cmdResultTimeout:
		e.onResultTimeout()
	}

	if kind, ok := commandMetricKind[cmd.kind]; ok {
		outcome := "ok"
		if res.err != nil {
			outcome = "error"
		}
		metrics.CommandsTotal.WithLabelValues(kind, outcome).Inc()
	}
	if cmd.reply != nil {
		cmd.reply <- res
	}
}

var commandMetricKind = map[commandKind]string{
	cmdAttach:   "attach",
	cmdDetach:   "detach",
	cmdJoin:     "join",
	cmdReady:    "ready",
	cmdDescribe: "describe",
	cmdVote:     "vote",
	cmdChat:     "chat",
	cmdLeave:    "leave",
}

// postInternal feeds a timer-fired transition back through the command
// channel from the timer's own goroutine, preserving single-writer
// semantics (§5).
func (e *Engine) postInternal(kind commandKind) {
	select {
	case e.cmdCh <- command{kind: kind}:
	case <-e.stop:
	}
}

func (e *Engine) touch() {
	e.room.LastActivityAt = time.Now()
}

func (e *Engine) persistActive() {
	if e.room.State == PhaseLobby || e.room.State == PhaseGameOver {
		return
	}
	e.store.SaveSnapshot(context.Background(), e.id, e.room)
}

func (e *Engine) broadcastState() {
	for _, p := range e.room.Players {
		e.bus.PublishJSON(bus.KindStateUpdate, ProjectSnapshot(e.room, p.ID))
	}
}

func (e *Engine) handleStatus() commandResult {
	return commandResult{status: Status{
		RoomID:         e.room.ID,
		PlayerCount:    len(e.room.Players),
		ConnectedCount: e.room.ConnectedCount(),
		IsGameOver:     e.room.State == PhaseGameOver,
		IsEmpty:        e.room.ConnectedCount() == 0,
		LastActivityAt: e.room.LastActivityAt,
		RoundDelay:     e.room.Config.RoundDelay,
	}}
}

// --- Lobby -------------------------------------------------------------

func (e *Engine) handleAttach(cmd command) commandResult {
	if p := e.room.PlayerByID(cmd.playerID); p != nil {
		p.Connected = true
		e.touch()
	}
	sub := e.bus.Subscribe()
	return commandResult{snapshot: ProjectSnapshot(e.room, cmd.playerID), sub: sub}
}

func (e *Engine) handleDetach(cmd command) commandResult {
	p := e.room.PlayerByID(cmd.playerID)
	if p == nil {
		return commandResult{}
	}
	p.Connected = false
	e.migrateHostIfNeeded()
	e.touch()
	e.persistActive()
	e.broadcastState()
	return commandResult{}
}

// migrateHostIfNeeded hands the host seat to the first remaining
// connected player, seat-order, when the current host has disconnected
// (teacher's hub.go handleDisconnect). A no-op if the host is still
// connected or no connected player remains.
func (e *Engine) migrateHostIfNeeded() {
	host := e.room.PlayerByID(e.room.HostID)
	if host != nil && host.Connected {
		return
	}
	for _, p := range e.room.Players {
		if p.Connected {
			if host != nil {
				host.IsHost = false
			}
			p.IsHost = true
			e.room.HostID = p.ID
			return
		}
	}
}

func (e *Engine) handleJoin(cmd command) commandResult {
	if existing := e.room.PlayerByID(cmd.playerID); existing != nil {
		existing.Connected = true
		if cmd.displayName != "" {
			existing.DisplayName = cmd.displayName
		}
		e.touch()
		e.persistActive()
		e.broadcastState()
		return commandResult{snapshot: ProjectSnapshot(e.room, cmd.playerID)}
	}

	if e.room.State != PhaseLobby {
		return commandResult{err: apperr.New(apperr.GameStarted, "game already in progress")}
	}
	if len(e.room.Players) >= e.room.Config.MaxPlayers {
		return commandResult{err: apperr.New(apperr.RoomFull, "room is full")}
	}

	isHost := len(e.room.Players) == 0
	p := &Player{
		ID:           cmd.playerID,
		DisplayName:  cmd.displayName,
		IsAlive:      true,
		Connected:    true,
		IsHost:       isHost,
		LastActionAt: time.Now(),
	}
	e.room.Players = append(e.room.Players, p)
	if isHost {
		e.room.HostID = p.ID
	}
	e.touch()
	e.broadcastState()
	return commandResult{snapshot: ProjectSnapshot(e.room, cmd.playerID)}
}

func (e *Engine) handleReady(cmd command) commandResult {
	p := e.room.PlayerByID(cmd.playerID)
	if p == nil {
		return commandResult{err: apperr.New(apperr.PlayerNotFound, "player not found")}
	}

	if e.room.State == PhaseGameOver {
		e.resetToLobby()
		e.touch()
		e.broadcastState()
		return commandResult{}
	}

	if e.room.State != PhaseLobby {
		return commandResult{err: apperr.New(apperr.InvalidState, "ready is only valid in Lobby")}
	}
	if p.IsReady == cmd.ready {
		return commandResult{} // §8 idempotence: no-op, no event
	}
	p.IsReady = cmd.ready
	e.touch()
	e.broadcastState()

	if e.lobbyReadyToStart() {
		e.enterRoleAssignment()
	}
	return commandResult{}
}

func (e *Engine) lobbyReadyToStart() bool {
	n := len(e.room.Players)
	if n < e.room.Config.MinPlayers || n > e.room.Config.MaxPlayers {
		return false
	}
	for _, p := range e.room.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

func (e *Engine) resetToLobby() {
	e.room.State = PhaseLobby
	e.room.RoundNo = 0
	e.room.Descriptions = make(map[string]Description)
	e.room.Votes = make(map[string]Vote)
	e.room.Winner = ""
	e.room.LastEliminatedID = ""
	e.room.NoEliminationThisRound = false
	for _, p := range e.room.Players {
		p.IsAlive = true
		p.IsReady = false
		p.Role = ""
		p.Word = ""
	}
}

// --- RoleAssignment ------------------------------------------------------

func (e *Engine) enterRoleAssignment() {
	e.room.State = PhaseRoleAssignment
	e.room.RoundNo = 1
	for _, p := range e.room.Players {
		p.IsAlive = true
	}

	pair, err := e.bank.DrawRandom()
	if err != nil {
		logging.Error(context.Background(), "word bank exhausted, aborting game", logging.Err(err), logging.Str("room_id", e.id))
		e.room.State = PhaseGameOver
		e.bus.PublishJSON(bus.KindNotification, map[string]string{"message": "word bank unavailable, game aborted"})
		e.broadcastState()
		return
	}
	e.room.CurrentWordPair = pair

	n := len(e.room.Players)
	quota := UndercoverQuota(n)
	undercoverIdx := make(map[int]bool, quota)
	for _, i := range rand.Perm(n)[:quota] {
		undercoverIdx[i] = true
	}
	for i, p := range e.room.Players {
		if undercoverIdx[i] {
			p.Role = RoleUndercover
			p.Word = pair.UndercoverWord
		} else {
			p.Role = RoleCivilian
			p.Word = pair.CivilianWord
		}
	}

	e.room.Descriptions = make(map[string]Description)
	e.room.Votes = make(map[string]Vote)
	e.room.LastEliminatedID = ""
	e.room.NoEliminationThisRound = false
	e.room.TurnIndex = e.room.nextAliveIndex(0)

	e.persistActive()
	e.broadcastState()
	e.enterDescribePhase()
}

// --- DescribePhase ---------------------------------------------------------

func (e *Engine) enterDescribePhase() {
	e.room.State = PhaseDescribe
	e.describeTimer.Start(int(e.room.Config.DescribeTimeLimit/time.Second), nil, func() {
		e.postInternal(cmdDescribeTimeout)
	})
	e.broadcastState()
}

func (e *Engine) handleDescribe(cmd command) commandResult {
	if e.room.State != PhaseDescribe {
		return commandResult{err: apperr.New(apperr.InvalidState, "not in DescribePhase")}
	}
	current := e.room.Players[e.room.TurnIndex]
	if current.ID != cmd.playerID {
		return commandResult{err: apperr.New(apperr.NotYourTurn, "it is not your turn")}
	}
	if !e.limiter.Allow(cmd.playerID, "describe") {
		return commandResult{err: apperr.New(apperr.RateLimitExceeded, "describe rate limit exceeded")}
	}
	clean, err := e.filter.Scan(cmd.content)
	if err != nil {
		return commandResult{err: err}
	}

	e.recordDescription(cmd.playerID, clean, false)
	e.describeTimer.Stop()
	e.advanceOrEndDescribe()
	return commandResult{}
}

func (e *Engine) onDescribeTimeout() {
	if e.room.State != PhaseDescribe {
		return
	}
	current := e.room.Players[e.room.TurnIndex]
	e.recordDescription(current.ID, "", true)
	e.advanceOrEndDescribe()
}

func (e *Engine) recordDescription(playerID, content string, timedOut bool) {
	e.room.Descriptions[playerID] = Description{
		PlayerID:    playerID,
		Content:     content,
		SubmittedAt: time.Now(),
		TimedOut:    timedOut,
	}
	e.touch()
	e.bus.PublishJSON(bus.KindDescription, e.room.Descriptions[playerID])
}

func (e *Engine) advanceOrEndDescribe() {
	if len(e.room.Descriptions) >= e.room.AliveCount() {
		e.enterVotePhase()
		return
	}
	e.room.TurnIndex = e.room.nextAliveIndex(e.room.TurnIndex + 1)
	e.describeTimer.Start(int(e.room.Config.DescribeTimeLimit/time.Second), nil, func() {
		e.postInternal(cmdDescribeTimeout)
	})
	e.broadcastState()
}

// --- VotePhase -------------------------------------------------------------

func (e *Engine) enterVotePhase() {
	e.room.State = PhaseVote
	e.room.Votes = make(map[string]Vote)
	e.persistActive()
	e.voteTimer.Start(int(e.room.Config.VoteTimeLimit/time.Second), nil, func() {
		e.postInternal(cmdVoteTimeout)
	})
	e.broadcastState()
}

func (e *Engine) handleVote(cmd command) commandResult {
	if e.room.State != PhaseVote {
		return commandResult{err: apperr.New(apperr.InvalidState, "not in VotePhase")}
	}
	voter := e.room.PlayerByID(cmd.playerID)
	target := e.room.PlayerByID(cmd.targetID)
	if voter == nil || target == nil {
		return commandResult{err: apperr.New(apperr.PlayerNotFound, "voter or target not found")}
	}
	if !voter.IsAlive || !target.IsAlive {
		return commandResult{err: apperr.New(apperr.InvalidVote, "voter and target must be alive")}
	}
	if !e.limiter.Allow(cmd.playerID, "vote") {
		return commandResult{err: apperr.New(apperr.RateLimitExceeded, "vote rate limit exceeded")}
	}

	prior, hadVote := e.room.Votes[cmd.playerID]
	if hadVote && prior.TargetID == cmd.targetID {
		return commandResult{} // §8 idempotence: no-op
	}
	e.room.Votes[cmd.playerID] = Vote{VoterID: cmd.playerID, TargetID: cmd.targetID}
	e.touch()

	kind := "VoteAdded"
	if hadVote {
		kind = "VoteChanged"
	}
	e.bus.PublishJSON(bus.KindVote, map[string]string{
		"voter_id": cmd.playerID, "target_id": cmd.targetID, "change": kind,
	})
	return commandResult{}
}

func (e *Engine) onVoteTimeout() {
	if e.room.State != PhaseVote {
		return
	}
	e.enterResultPhase()
}

// --- ResultPhase -----------------------------------------------------------

func (e *Engine) enterResultPhase() {
	tallyStart := time.Now()
	defer func() { metrics.VoteTallyDuration.Observe(time.Since(tallyStart).Seconds()) }()

	e.room.State = PhaseResult

	tally := make(map[string]int)
	for _, v := range e.room.Votes {
		tally[v.TargetID]++
	}
	eliminated, ok := strictPlurality(tally)
	e.room.NoEliminationThisRound = !ok
	e.room.LastEliminatedID = ""
	if ok {
		for _, p := range e.room.Players {
			if p.ID == eliminated {
				p.IsAlive = false
				e.room.LastEliminatedID = p.ID
				break
			}
		}
	}

	winner, _ := e.checkWinCondition()
	e.room.Winner = winner

	e.persistActive()
	e.broadcastState()

	e.resultTimer.Start(int(e.room.Config.RoundDelay/time.Second), nil, func() {
		e.postInternal(cmdResultTimeout)
	})
}

// strictPlurality returns the single strictly-highest-count target and
// true, or ("", false) when there are no votes or a tie for first (§4.1
// ResultPhase, §8 property: tie => no elimination).
func strictPlurality(tally map[string]int) (string, bool) {
	best, bestCount, ties := "", 0, 0
	for target, count := range tally {
		switch {
		case count > bestCount:
			best, bestCount, ties = target, count, 1
		case count == bestCount:
			ties++
		}
	}
	if bestCount == 0 || ties != 1 {
		return "", false
	}
	return best, true
}

func (e *Engine) checkWinCondition() (winner string, over bool) {
	aliveCivilians, aliveUndercovers := 0, 0
	for _, p := range e.room.Players {
		if !p.IsAlive {
			continue
		}
		if p.Role == RoleUndercover {
			aliveUndercovers++
		} else {
			aliveCivilians++
		}
	}
	if aliveUndercovers == 0 {
		return "civilian", true
	}
	if aliveUndercovers >= aliveCivilians {
		return "undercover", true
	}
	return "", false
}

func (e *Engine) onResultTimeout() {
	if e.room.State != PhaseResult {
		return
	}
	if e.room.Winner != "" {
		e.enterGameOver()
		return
	}
	e.room.RoundNo++
	resetFrom := 0
	for i, p := range e.room.Players {
		if p.ID == e.room.LastEliminatedID {
			resetFrom = i + 1
			break
		}
	}
	e.room.TurnIndex = e.room.nextAliveIndex(resetFrom)
	e.room.Descriptions = make(map[string]Description)
	e.enterDescribePhase()
}

func (e *Engine) enterGameOver() {
	e.room.State = PhaseGameOver
	e.touch()
	e.store.RecordGameHistory(context.Background(), e.id, gameHistoryRecord(e.room))
	e.persistActive()
	e.broadcastState()
}

func gameHistoryRecord(r *Room) map[string]interface{} {
	return map[string]interface{}{
		"room_id":    r.ID,
		"winner":     r.Winner,
		"ended_at":   time.Now(),
		"word_pair":  r.CurrentWordPair,
		"players":    r.Players,
	}
}

// --- GameOver / Chat / Leave ------------------------------------------------

func (e *Engine) handleChat(cmd command) commandResult {
	switch e.room.State {
	case PhaseLobby, PhaseVote, PhaseGameOver:
	default:
		return commandResult{err: apperr.New(apperr.InvalidAction, "chat is not allowed in this phase")}
	}
	p := e.room.PlayerByID(cmd.playerID)
	if p == nil {
		return commandResult{err: apperr.New(apperr.PlayerNotFound, "player not found")}
	}
	if !e.limiter.Allow(cmd.playerID, "chat") {
		return commandResult{err: apperr.New(apperr.RateLimitExceeded, "chat rate limit exceeded")}
	}
	clean, err := e.filter.Scan(cmd.content)
	if err != nil {
		return commandResult{err: err}
	}

	msg := ChatMessage{PlayerID: p.ID, DisplayName: p.DisplayName, Content: clean, SentAt: time.Now()}
	e.room.ChatLog = append(e.room.ChatLog, msg)
	if limit := e.room.Config.ChatHistoryLimit; limit > 0 && len(e.room.ChatLog) > limit {
		e.room.ChatLog = e.room.ChatLog[len(e.room.ChatLog)-limit:]
	}
	e.touch()
	e.bus.PublishJSON(bus.KindChat, msg)
	return commandResult{}
}

func (e *Engine) handleLeave(cmd command) commandResult {
	p := e.room.PlayerByID(cmd.playerID)
	if p == nil {
		return commandResult{}
	}

	if e.room.State == PhaseLobby {
		kept := e.room.Players[:0]
		for _, other := range e.room.Players {
			if other.ID != cmd.playerID {
				kept = append(kept, other)
			}
		}
		e.room.Players = kept
		if e.room.HostID == cmd.playerID && len(e.room.Players) > 0 {
			e.room.Players[0].IsHost = true
			e.room.HostID = e.room.Players[0].ID
		}
		e.limiter.Forget(cmd.playerID)
		e.touch()
		e.broadcastState()
		return commandResult{}
	}

	p.Connected = false
	e.migrateHostIfNeeded()
	e.touch()

	if e.room.State != PhaseGameOver && e.room.ConnectedCount() < e.room.Config.MinPlayers {
		e.room.State = PhaseGameOver
		e.describeTimer.Stop()
		e.voteTimer.Stop()
		e.resultTimer.Stop()
		e.room.Winner = ""
		e.bus.PublishJSON(bus.KindNotification, map[string]string{"message": "game aborted: too few connected players"})
	}
	e.persistActive()
	e.broadcastState()
	return commandResult{}
}
