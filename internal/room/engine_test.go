package room

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"undercover/internal/apperr"
	"undercover/internal/filter"
	"undercover/internal/store"
	"undercover/internal/wordbank"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewWithClient(rdb)
}

func testBank() *wordbank.Bank {
	return wordbank.NewFromPairs([]wordbank.Pair{
		{CivilianWord: "苹果", UndercoverWord: "梨", Similarity: 0.8, Difficulty: wordbank.Medium, Category: "food"},
	})
}

func fastConfig() Config {
	return Config{
		MinPlayers:        3,
		MaxPlayers:        12,
		DescribeTimeLimit: 60 * time.Second,
		VoteTimeLimit:     30 * time.Second,
		RoundDelay:        1 * time.Second,
		ChatHistoryLimit:  20,
	}
}

func newTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()
	st := testStore(t)
	filt := filter.New([]string{"badword"}, filter.Reject, "")
	eng := NewEngine("TESTID", fastConfig(), testBank(), filt, st, func(string) {})
	go eng.Run()
	return eng, func() { eng.Close() }
}

// fireInternal posts a timer-fired transition through the same command
// channel the engine's own goroutine uses, so tests never touch *Room
// concurrently with Run (§5 single-writer).
func fireInternal(t *testing.T, eng *Engine, kind commandKind) {
	t.Helper()
	reply := make(chan commandResult, 1)
	eng.cmdCh <- command{kind: kind, reply: reply}
	<-reply
}

func joinAndReady(t *testing.T, eng *Engine, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		_, err := eng.Join(ctx, id, "player-"+id)
		require.NoError(t, err)
	}
	for _, id := range ids {
		require.NoError(t, eng.SetReady(ctx, id, true))
	}
}

func TestGoroutineLeakOnClose(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/alicebob/miniredis/v2.(*Miniredis).Start.func1"),
	)
	eng, closeFn := newTestEngine(t)
	joinAndReady(t, eng, "a", "b", "c")
	closeFn()
	time.Sleep(50 * time.Millisecond)
}

func TestLobbyToRoleAssignmentOnAllReady(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")

	snap, _, err := eng.Attach(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, PhaseDescribe, snap.State)
	assert.NotEmpty(t, snap.MyRole)
	assert.NotEmpty(t, snap.MyWord)
}

func TestUndercoverQuotaForFourPlayers(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c", "d")

	undercovers := 0
	for _, p := range eng.room.Players {
		if p.Role == RoleUndercover {
			undercovers++
		}
	}
	assert.Equal(t, 2, undercovers) // ceil(4*0.30) = 2, §8 property 3
	assert.NotEqual(t, eng.room.CurrentWordPair.CivilianWord, eng.room.CurrentWordPair.UndercoverWord)
}

func TestSnapshotHidesOtherPlayersRoleAndWord(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")

	snapA, _, err := eng.Attach(context.Background(), "a")
	require.NoError(t, err)
	for _, pv := range snapA.Players {
		if pv.ID != "a" {
			assert.Empty(t, pv.Role, "role of other player must be hidden before GameOver")
			assert.Empty(t, pv.Word, "word of other player must be hidden before GameOver")
		}
	}
}

func TestDescribeOnlyCurrentTurnPlayer(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")
	ctx := context.Background()

	current := eng.room.Players[eng.room.TurnIndex].ID
	var other string
	for _, id := range []string{"a", "b", "c"} {
		if id != current {
			other = id
			break
		}
	}

	err := eng.Describe(ctx, other, "hello")
	require.Error(t, err)
	code, ok := apperr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.NotYourTurn, code)

	require.NoError(t, eng.Describe(ctx, current, "my description"))
}

func TestDescribePhaseAdvancesThroughAllAlive(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		current := eng.room.Players[eng.room.TurnIndex].ID
		if eng.room.State != PhaseDescribe {
			break
		}
		require.NoError(t, eng.Describe(ctx, current, "desc"))
	}
	assert.Equal(t, PhaseVote, eng.room.State)
	assert.Len(t, eng.room.Descriptions, 3)
}

func TestVoteTieProducesNoElimination(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c", "d")
	ctx := context.Background()

	for eng.room.State == PhaseDescribe {
		current := eng.room.Players[eng.room.TurnIndex].ID
		require.NoError(t, eng.Describe(ctx, current, "desc"))
	}
	require.Equal(t, PhaseVote, eng.room.State)

	require.NoError(t, eng.Vote(ctx, "a", "b"))
	require.NoError(t, eng.Vote(ctx, "b", "a"))
	require.NoError(t, eng.Vote(ctx, "c", "d"))
	require.NoError(t, eng.Vote(ctx, "d", "c"))

	eng.voteTimer.Stop()
	fireInternal(t, eng, cmdVoteTimeout)

	assert.Equal(t, PhaseResult, eng.room.State)
	assert.True(t, eng.room.NoEliminationThisRound)
	assert.Empty(t, eng.room.LastEliminatedID)
	for _, p := range eng.room.Players {
		assert.True(t, p.IsAlive)
	}
}

func TestVoteChangeOnlyCountsLatestTarget(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")
	ctx := context.Background()
	for eng.room.State == PhaseDescribe {
		current := eng.room.Players[eng.room.TurnIndex].ID
		require.NoError(t, eng.Describe(ctx, current, "desc"))
	}

	require.NoError(t, eng.Vote(ctx, "b", "a"))
	// The vote rate limit (one per 10s) would reject an immediate re-vote;
	// clearing b's bucket stands in for waiting out the window.
	eng.limiter.Forget("b")
	require.NoError(t, eng.Vote(ctx, "b", "c"))

	assert.Equal(t, "c", eng.room.Votes["b"].TargetID)
	assert.Len(t, eng.room.Votes, 1)
}

func TestLeaveDuringLobbyRemovesSeat(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()
	ctx := context.Background()

	_, err := eng.Join(ctx, "a", "alice")
	require.NoError(t, err)
	_, err = eng.Join(ctx, "b", "bob")
	require.NoError(t, err)

	require.NoError(t, eng.Leave(ctx, "a"))
	assert.Nil(t, eng.room.PlayerByID("a"))
	assert.Equal(t, "b", eng.room.HostID)
}

func TestChatForbiddenDuringDescribePhase(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")
	ctx := context.Background()
	require.Equal(t, PhaseDescribe, eng.room.State)

	err := eng.Chat(ctx, "a", "hi")
	require.Error(t, err)
	code, _ := apperr.CodeOf(err)
	assert.Equal(t, apperr.InvalidAction, code)
}

func TestContentFilterRejectsBannedWord(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()

	joinAndReady(t, eng, "a", "b", "c")
	ctx := context.Background()
	current := eng.room.Players[eng.room.TurnIndex].ID

	err := eng.Describe(ctx, current, "this has a badword in it")
	require.Error(t, err)
	code, _ := apperr.CodeOf(err)
	assert.Equal(t, apperr.WordBankError, code)
}

func TestDuplicateReadyIsNoopNoError(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()
	ctx := context.Background()

	_, err := eng.Join(ctx, "a", "alice")
	require.NoError(t, err)
	require.NoError(t, eng.SetReady(ctx, "a", true))
	require.NoError(t, eng.SetReady(ctx, "a", true))
	assert.True(t, eng.room.PlayerByID("a").IsReady)
}

func TestGameOverThenReadyResetsToLobby(t *testing.T) {
	eng, closeFn := newTestEngine(t)
	defer closeFn()
	ctx := context.Background()

	joinAndReady(t, eng, "a", "b", "c")
	for eng.room.State == PhaseDescribe {
		current := eng.room.Players[eng.room.TurnIndex].ID
		require.NoError(t, eng.Describe(ctx, current, "desc"))
	}

	// With 3 players there is exactly one undercover; both civilians vote
	// for them so the civilians win and the round ends in GameOver.
	var undercoverID string
	for _, p := range eng.room.Players {
		if p.Role == RoleUndercover {
			undercoverID = p.ID
		}
	}
	for _, p := range eng.room.Players {
		if p.ID != undercoverID {
			require.NoError(t, eng.Vote(ctx, p.ID, undercoverID))
		}
	}
	eng.voteTimer.Stop()
	fireInternal(t, eng, cmdVoteTimeout)
	require.Equal(t, PhaseResult, eng.room.State)

	eng.resultTimer.Stop()
	fireInternal(t, eng, cmdResultTimeout)
	require.Equal(t, PhaseGameOver, eng.room.State)

	require.NoError(t, eng.SetReady(ctx, "a", true))
	assert.Equal(t, PhaseLobby, eng.room.State)
	assert.Equal(t, 0, eng.room.RoundNo)
	for _, p := range eng.room.Players {
		assert.True(t, p.IsAlive)
		assert.False(t, p.IsReady)
		assert.Empty(t, p.Role)
	}
}
