// internal/engine/engine_test.go
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohlushko/unobot/internal/config"
	"github.com/ohlushko/unobot/internal/database"
	"github.com/ohlushko/unobot/internal/models"
)

// fakeStore is an in-memory SessionStore with real version checking, so the
// retry loop is exercised against the same conflict semantics as the SQL
// repo. Sessions round-trip through the JSON codec on every load, like rows
// would.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[int64]*models.Session
	nextID    int64
	failSaves int // upcoming saves to fail with a version conflict
	saves     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[int64]*models.Session{}}
}

func cloneSession(s *models.Session) (*models.Session, error) {
	raw, err := models.EncodeState(s.State)
	if err != nil {
		return nil, err
	}
	st, err := models.DecodeState(raw)
	if err != nil {
		return nil, err
	}
	return &models.Session{ID: s.ID, ChatID: s.ChatID, Status: s.Status, Version: s.Version, State: st}, nil
}

func (f *fakeStore) put(sess *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ChatID] = sess
}

func (f *fakeStore) get(chatID int64) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[chatID]
}

func (f *fakeStore) GetByChat(_ context.Context, chatID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[chatID]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess)
}

func (f *fakeStore) CreateLobby(_ context.Context, chatID int64, title string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sess := &models.Session{
		ID:      f.nextID,
		ChatID:  chatID,
		Status:  models.StatusLobby,
		Version: 0,
		State:   models.NewLobbyState(title),
	}
	f.sessions[chatID] = sess
	return cloneSession(sess)
}

func (f *fakeStore) Save(_ context.Context, sess *models.Session, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSaves > 0 {
		f.failSaves--
		return database.ErrVersionConflict
	}
	stored, ok := f.sessions[sess.ChatID]
	if !ok || stored.Version != expectedVersion {
		return database.ErrVersionConflict
	}
	clone, err := cloneSession(sess)
	if err != nil {
		return err
	}
	clone.Version = expectedVersion + 1
	f.sessions[sess.ChatID] = clone
	sess.Version = expectedVersion + 1
	return nil
}

func (f *fakeStore) Delete(_ context.Context, sess *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sess.ChatID)
	return nil
}

type schedJob struct {
	id     string
	fireAt time.Time
	fn     func()
}

// recordingScheduler captures jobs instead of running them; tests fire the
// captured callbacks by hand.
type recordingScheduler struct {
	mu      sync.Mutex
	jobs    []schedJob
	cancels []string
}

func (r *recordingScheduler) Schedule(jobID string, fireAt time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, schedJob{id: jobID, fireAt: fireAt, fn: fn})
}

func (r *recordingScheduler) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, jobID)
	return true
}

func (r *recordingScheduler) last(jobID string) *schedJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.jobs) - 1; i >= 0; i-- {
		if r.jobs[i].id == jobID {
			return &r.jobs[i]
		}
	}
	return nil
}

func (r *recordingScheduler) scheduled(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.id == jobID {
			n++
		}
	}
	return n
}

func (r *recordingScheduler) cancelled(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.cancels {
		if id == jobID {
			return true
		}
	}
	return false
}

// recordingMessenger collects outbound events.
type recordingMessenger struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingMessenger) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingMessenger) find(t models.EventType) *models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].Type == t {
			return &r.events[i]
		}
	}
	return nil
}

type fakeRewards struct {
	calls int
}

func (f *fakeRewards) ApplyIfNeeded(_ context.Context, gs *models.GameState) (map[string]models.LevelUp, error) {
	f.calls++
	if gs.RewardsApplied {
		return gs.LevelUps, nil
	}
	gs.RewardsApplied = true
	winner := models.Key(gs.Placements[0])
	gs.LevelUps = map[string]models.LevelUp{winner: {Gained: 1, Level: 2}}
	return gs.LevelUps, nil
}

func testCfg() config.Settings {
	return config.Settings{
		TurnSeconds:      30,
		UnoSeconds:       10,
		PlusTwoCards:     2,
		PlusFourCards:    4,
		TurnPenaltyCards: 2,
		UnoPenaltyCards:  2,
		MaxHand:          25,
	}
}

func newTestEngine(fs *fakeStore, rh RewardHook) (*Engine, *recordingScheduler, *recordingMessenger) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	rs := &recordingScheduler{}
	rm := &recordingMessenger{}
	e := New(Deps{
		Store:     fs,
		Scheduler: rs,
		Messenger: rm,
		Rewards:   rh,
		Config:    testCfg(),
		Log:       log,
	})
	return e, rs, rm
}

func num(color models.CardColor, value int) models.Card {
	return models.Card{Kind: models.KindNumber, Value: value, Color: color}
}

func wild() models.Card {
	return models.Card{Kind: models.KindWild, Color: models.ColorWild}
}

// seedPlaying stores a deterministic running session: given players, first
// player's turn, red 4 on the table and a green-card stocked deck.
func seedPlaying(fs *fakeStore, chatID int64, hands map[int64][]models.Card, players ...int64) {
	gs := models.NewLobbyState("room")
	gs.Status = string(models.StatusPlaying)
	gs.Players = append([]int64{}, players...)
	top := num(models.ColorRed, 4)
	gs.TopCard = &top
	gs.CurrentColor = models.ColorRed
	for uid, h := range hands {
		gs.Hands[models.Key(uid)] = append([]models.Card{}, h...)
	}
	for i := 0; i < 12; i++ {
		gs.Deck = append(gs.Deck, num(models.ColorGreen, 5))
	}
	fs.put(&models.Session{ID: chatID, ChatID: chatID, Status: models.StatusPlaying, Version: 5, State: gs})
}

func TestJoinStartLifecycle(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	ctx := context.Background()
	chat := int64(100)

	res, err := e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionJoin, Name: "A", Title: "room"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionJoin})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, CodeAlreadyJoined, res.Code)

	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionStart})
	require.NoError(t, err)
	assert.Equal(t, CodeTooFewPlayers, res.Code)

	_, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 2, Type: ActionJoin, Name: "B"})
	require.NoError(t, err)

	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionStart})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, models.StatusPlaying, stored.Status)
	assert.Len(t, stored.State.Hand(1), 7)
	assert.Len(t, stored.State.Hand(2), 7)
	require.True(t, stored.State.Timers.Turn.Armed())
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)))
	require.NotNil(t, rm.find(models.EventGameStarted))

	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionStart})
	require.NoError(t, err)
	assert.Equal(t, CodeGameRunning, res.Code)
}

func TestPlayCardCommitsAndReArmsDeadline(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1), num(models.ColorBlue, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, 6, stored.Version, "exactly one version bump per committed action")
	assert.Equal(t, num(models.ColorRed, 7), *stored.State.TopCard)
	require.True(t, stored.State.Timers.Turn.Armed())
	assert.Equal(t, int64(2), stored.State.Timers.Turn.PlayerID)
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)))

	move := rm.find(models.EventMove)
	require.NotNil(t, move)
	assert.Equal(t, int64(1), move.Actor)
	assert.Equal(t, int64(2), move.NextPlayer)
}

func TestVersionConflictIsRetriedOnFreshState(t *testing.T) {
	fs := newFakeStore()
	e, _, _ := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1), num(models.ColorBlue, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)
	fs.failSaves = 1

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 2, fs.saves, "one lost race, one committed save")
	assert.Equal(t, 6, fs.get(chat).Version)
}

func TestRetriesExhaustedCommitsNothing(t *testing.T) {
	fs := newFakeStore()
	e, _, _ := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1), num(models.ColorBlue, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)
	fs.failSaves = 3

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	assert.ErrorIs(t, err, ErrContention)
	assert.Equal(t, CodeTryAgainLater, res.Code)

	stored := fs.get(chat)
	assert.Equal(t, 5, stored.Version)
	assert.Equal(t, num(models.ColorRed, 4), *stored.State.TopCard, "nothing committed")
}

func TestMissingSessionIsStructuralError(t *testing.T) {
	fs := newFakeStore()
	e, _, _ := newTestEngine(fs, nil)

	_, err := e.HandleAction(context.Background(), Action{ChatID: 42, PlayerID: 1, Type: ActionPlayCard})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTurnDeadlinePenalizesAndMovesOn(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1), num(models.ColorBlue, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	_, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)

	job := rs.last(turnJobID(chat))
	require.NotNil(t, job)
	job.fn() // player 2 sat out their 30 seconds

	stored := fs.get(chat)
	assert.Equal(t, 7, stored.Version)
	assert.Len(t, stored.State.Hand(2), 4, "stalled player drew the penalty")
	assert.Equal(t, int64(1), stored.State.Timers.Turn.PlayerID, "rotation moved on")
	assert.Equal(t, 2, rs.scheduled(turnJobID(chat)), "fresh deadline armed")

	ev := rm.find(models.EventTurnTimeout)
	require.NotNil(t, ev)
	assert.Equal(t, int64(2), ev.Actor)
	assert.Equal(t, int64(1), ev.NextPlayer)
	assert.Equal(t, 2, ev.Cards)
}

func TestStaleTurnDeadlineIsNoOp(t *testing.T) {
	fs := newFakeStore()
	e, rs, _ := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1), num(models.ColorBlue, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	_, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	staleJob := rs.last(turnJobID(chat))
	require.NotNil(t, staleJob)

	staleJob.fn()
	afterFirst := fs.get(chat).Version

	// the first firing re-armed with a fresh token; replaying the old
	// callback must change nothing
	staleJob.fn()
	assert.Equal(t, afterFirst, fs.get(chat).Version, "stale token writes nothing")
}

func TestUnoTimeoutPenalizesSilentOwner(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorRed, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	_, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)

	stored := fs.get(chat)
	require.True(t, stored.State.UnoPending.Open())
	require.True(t, stored.State.Timers.Uno.Armed())
	require.NotNil(t, rm.find(models.EventUnoPrompt))

	job := rs.last(unoJobID(chat, 1))
	require.NotNil(t, job)
	job.fn()

	stored = fs.get(chat)
	assert.Len(t, stored.State.Hand(1), 3, "silent owner drew the penalty")
	assert.False(t, stored.State.UnoPending.Open())
	assert.True(t, stored.State.Penalties[models.Key(1)].SkipNextTurn, "off-turn owner skips their next turn instead")

	ev := rm.find(models.EventUnoTimeout)
	require.NotNil(t, ev)
	assert.Equal(t, int64(1), ev.Actor)
}

func TestCalloutStopsThePenalty(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorRed, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	_, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	staleUno := rs.last(unoJobID(chat, 1))
	require.NotNil(t, staleUno)

	// only the window owner counts
	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 2, Type: ActionCallout})
	require.NoError(t, err)
	assert.Equal(t, CodeNoCallout, res.Code)

	res, err = e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionCallout})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.True(t, stored.State.UnoPending.Said)
	assert.False(t, stored.State.UnoPending.Open())
	assert.False(t, stored.State.Timers.Uno.Armed())
	assert.True(t, rs.cancelled(unoJobID(chat, 1)))
	require.NotNil(t, rm.find(models.EventUnoSaid))

	// the already-fired-or-cancelled job finds a cleared slot and no-ops
	before := stored.Version
	staleUno.fn()
	assert.Equal(t, before, fs.get(chat).Version)
	assert.Len(t, fs.get(chat).State.Hand(1), 1, "no penalty after a confirmed callout")
}

func TestPendingColorHoldsAllDeadlines(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {wild(), num(models.ColorBlue, 1), num(models.ColorBlue, 9)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.True(t, stored.State.PendingColor.Blocking())
	assert.False(t, stored.State.Timers.Turn.Armed(), "no deadline while the chooser decides")
	assert.True(t, rs.cancelled(turnJobID(chat)))
	require.NotNil(t, rm.find(models.EventColorPrompt))

	res, err = e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionChooseColor, Color: models.ColorGreen})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored = fs.get(chat)
	assert.False(t, stored.State.PendingColor.Blocking())
	assert.Equal(t, models.ColorGreen, stored.State.CurrentColor)
	assert.Equal(t, int64(2), stored.State.Timers.Turn.PlayerID)
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)))
	require.NotNil(t, rm.find(models.EventColorChosen))
}

func TestDrawAndPassRefreshesOwnDeadline(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorBlue, 1)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionDrawAndPass})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Len(t, stored.State.Hand(1), 2)
	assert.Equal(t, int64(1), stored.State.Timers.Turn.PlayerID, "turn stays with the drawer")
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)))

	ev := rm.find(models.EventDraw)
	require.NotNil(t, ev)
	assert.Equal(t, int64(1), ev.Actor)
	assert.Equal(t, int64(1), ev.NextPlayer)
}

func TestWinFinishesPaysAndCancelsDeadlines(t *testing.T) {
	fs := newFakeStore()
	rh := &fakeRewards{}
	e, rs, rm := newTestEngine(fs, rh)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, models.StatusFinished, stored.Status)
	assert.Equal(t, []int64{1, 2}, stored.State.Placements)
	assert.True(t, stored.State.RewardsApplied)
	assert.Equal(t, 1, rh.calls)
	assert.True(t, rs.cancelled(turnJobID(chat)))

	fin := rm.find(models.EventGameFinished)
	require.NotNil(t, fin)
	assert.Equal(t, []int64{1, 2}, fin.Placements)
	lu := rm.find(models.EventLevelUp)
	require.NotNil(t, lu)
	assert.Equal(t, int64(1), lu.Actor)
	assert.Equal(t, 2, lu.Level)
}

func TestRestartAfterFinish(t *testing.T) {
	fs := newFakeStore()
	e, rs, _ := newTestEngine(fs, nil)
	ctx := context.Background()
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, models.StatusFinished, fs.get(chat).Status)

	// the finished room is not dead: rejoin and deal the next round
	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionJoin, Name: "A"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 2, Type: ActionJoin, Name: "B"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = e.HandleAction(ctx, Action{ChatID: chat, PlayerID: 1, Type: ActionStart})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, models.StatusPlaying, stored.Status)
	assert.Len(t, stored.State.Hand(1), 7)
	assert.Len(t, stored.State.Hand(2), 7)
	assert.Empty(t, stored.State.Placements)
	require.True(t, stored.State.Timers.Turn.Armed())
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)))
}

func TestLeaveDuringGameKeepsPlayMoving(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
		3: {num(models.ColorGreen, 6), num(models.ColorGreen, 8)},
	}, 1, 2, 3)

	_, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionPlayCard, CardIndex: 0})
	require.NoError(t, err) // turn to player 2, deadline armed

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 3, Type: ActionLeave})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, models.StatusPlaying, stored.Status)
	assert.Equal(t, []int64{1, 2}, stored.State.Players)
	assert.Equal(t, int64(2), stored.State.Timers.Turn.PlayerID, "running clock untouched")
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)), "no re-arm for a bystander quit")

	ev := rm.find(models.EventPlayerLeft)
	require.NotNil(t, ev)
	assert.Equal(t, int64(3), ev.Actor)
}

func TestLeaveDuringGameByCurrentPassesTurn(t *testing.T) {
	fs := newFakeStore()
	e, rs, _ := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
		3: {num(models.ColorGreen, 6), num(models.ColorGreen, 8)},
	}, 1, 2, 3)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionLeave})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, []int64{2, 3}, stored.State.Players)
	assert.Equal(t, int64(2), stored.State.Timers.Turn.PlayerID, "successor gets a fresh deadline")
	assert.Equal(t, 1, rs.scheduled(turnJobID(chat)))
}

func TestLeaveDuringGameOfSecondToLastFinishes(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 2, Type: ActionLeave})
	require.NoError(t, err)
	require.True(t, res.OK)

	stored := fs.get(chat)
	assert.Equal(t, models.StatusFinished, stored.Status)
	assert.Equal(t, []int64{1}, stored.State.Placements, "survivor placed, not the quitter")
	assert.True(t, rs.cancelled(turnJobID(chat)))
	require.NotNil(t, rm.find(models.EventGameFinished))
}

func TestStopDeletesSessionAndJobs(t *testing.T) {
	fs := newFakeStore()
	e, rs, rm := newTestEngine(fs, nil)
	chat := int64(100)
	seedPlaying(fs, chat, map[int64][]models.Card{
		1: {num(models.ColorRed, 7), num(models.ColorBlue, 1)},
		2: {num(models.ColorGreen, 3), num(models.ColorGreen, 4)},
	}, 1, 2)

	res, err := e.HandleAction(context.Background(), Action{ChatID: chat, PlayerID: 1, Type: ActionStop})
	require.NoError(t, err)
	require.True(t, res.OK)

	assert.Nil(t, fs.get(chat))
	assert.True(t, rs.cancelled(turnJobID(chat)))
	require.NotNil(t, rm.find(models.EventGameStopped))
}
