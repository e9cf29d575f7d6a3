package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nigamk1/tutorboard/ai"
	"github.com/nigamk1/tutorboard/conversation"
	"github.com/nigamk1/tutorboard/coordinator"
	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/hub"
	"github.com/nigamk1/tutorboard/policy"
	"github.com/nigamk1/tutorboard/protocol"
	"github.com/nigamk1/tutorboard/session"
	"github.com/nigamk1/tutorboard/store"
	"github.com/nigamk1/tutorboard/tests/helpers"
)

type fakeTutor struct {
	mu    sync.Mutex
	reply *ai.TutorReply
	err   error
	delay time.Duration
	calls int
}

func (f *fakeTutor) Respond(ctx context.Context, req ai.TutorRequest) (*ai.TutorReply, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeTutor) Summarize(ctx context.Context, session *domain.Session, turns []domain.Turn) (string, error) {
	return "test summary", nil
}

type fixture struct {
	store store.Store
	hub   *hub.Hub
	coord *coordinator.Coordinator
}

func newFixture(t *testing.T, tutor ai.Tutor, gate *policy.Engine, aiTimeout time.Duration) *fixture {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t)
	logger := helpers.NewTestLogger()

	h := hub.NewHub(logger)
	go h.Run()

	window := conversation.NewWindow(st, 5, logger)
	lifecycle := session.NewManager(st, nil, logger)
	coord := coordinator.New(st, h, window, lifecycle, tutor, nil, gate, aiTimeout, logger)

	return &fixture{store: st, hub: h, coord: coord}
}

func (f *fixture) startSession(t *testing.T) string {
	t.Helper()
	sess, err := f.coord.StartSession(context.Background(), session.StartOptions{OwnerID: "user_1", Language: "en"})
	require.NoError(t, err)
	return sess.SessionID
}

func recv(t *testing.T, conn *hub.Connection) []byte {
	t.Helper()
	select {
	case data := <-conn.Send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestJoinDeliversCurrentState(t *testing.T) {
	f := newFixture(t, &fakeTutor{}, nil, time.Second)
	sessionID := f.startSession(t)

	conn := f.hub.NewConnection(nil)
	f.hub.Register(conn)
	require.NoError(t, f.coord.Join(context.Background(), conn, sessionID))

	var msg protocol.JoinedMessage
	require.NoError(t, json.Unmarshal(recv(t, conn), &msg))
	require.Equal(t, protocol.TypeJoined, msg.Type)
	require.Equal(t, sessionID, msg.Session.SessionID)
	require.NotNil(t, msg.Whiteboard)
	require.Equal(t, 1, msg.Whiteboard.Version)
}

func TestJoinUnknownSession(t *testing.T) {
	f := newFixture(t, &fakeTutor{}, nil, time.Second)

	conn := f.hub.NewConnection(nil)
	err := f.coord.Join(context.Background(), conn, "sess_missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestApplyCommandsPersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t, &fakeTutor{}, nil, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	conn := f.hub.NewConnection(nil)
	f.hub.Register(conn)
	require.NoError(t, f.coord.Join(ctx, conn, sessionID))
	recv(t, conn) // joined

	err := f.coord.ApplyCommands(ctx, sessionID, domain.OriginUser, []domain.Command{
		{Action: domain.ActionAdd, ID: "e1", Kind: domain.KindLine},
	})
	require.NoError(t, err)

	var msg protocol.DocumentUpdatedMessage
	require.NoError(t, json.Unmarshal(recv(t, conn), &msg))
	require.Equal(t, protocol.TypeDocumentUpdated, msg.Type)
	require.Equal(t, 2, msg.Version)
	require.Len(t, msg.ChangedElements, 1)

	snap, err := f.store.GetWhiteboard(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 2, snap.Version)
	require.Len(t, snap.Elements, 1)
}

func TestConcurrentBatchesSerializePerSession(t *testing.T) {
	f := newFixture(t, &fakeTutor{}, nil, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- f.coord.ApplyCommands(ctx, sessionID, domain.OriginUser, []domain.Command{
				{Action: domain.ActionAdd, ID: fmt.Sprintf("e%d", i), Kind: domain.KindCircle},
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := f.store.GetWhiteboard(ctx, sessionID)
	require.NoError(t, err)
	// Every batch changed the element list, so each bumped the version once.
	require.Equal(t, 1+workers, snap.Version)
	require.Len(t, snap.Elements, workers)
	require.Equal(t, workers, snap.Actions)
}

func TestUserTurnGetsAIReply(t *testing.T) {
	tutor := &fakeTutor{reply: &ai.TutorReply{
		SpokenText: "Four. Watch the board.",
		Topic:      "addition",
		Commands: []domain.Command{
			{Action: domain.ActionAdd, ID: "e1", Kind: domain.KindText, Props: map[string]any{"text": "2+2=4"}},
		},
	}}
	f := newFixture(t, tutor, nil, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	err := f.coord.HandleTurn(ctx, sessionID, domain.OriginUser, "What is 2+2?", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		turns, err := f.store.GetTurns(ctx, sessionID, 0, "")
		if err != nil {
			return false
		}
		for _, turn := range turns {
			if turn.Origin == domain.OriginAI {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "AI turn never recorded")

	turns, err := f.store.GetTurns(ctx, sessionID, 0, "")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, domain.OriginUser, turns[0].Origin)
	require.Equal(t, domain.OriginAI, turns[1].Origin)
	require.Equal(t, "Four. Watch the board.", turns[1].Text)
	require.Len(t, turns[1].Commands, 1)

	// The reply's command batch landed on the whiteboard.
	snap, err := f.store.GetWhiteboard(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Version)

	sess, err := f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, []string{"addition"}, sess.Topics)
	require.Equal(t, 2, sess.MessageCount)
	require.Equal(t, 1, sess.QuestionCount)
}

func TestAIFailureRecordsSystemTurn(t *testing.T) {
	tutor := &fakeTutor{err: errors.New("model unavailable")}
	f := newFixture(t, tutor, nil, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	require.NoError(t, f.coord.HandleTurn(ctx, sessionID, domain.OriginUser, "hello?", ""))

	require.Eventually(t, func() bool {
		turns, err := f.store.GetTurns(ctx, sessionID, 0, "")
		if err != nil {
			return false
		}
		for _, turn := range turns {
			if turn.Origin == domain.OriginSystem && turn.Text == coordinator.ProcessingFailedText {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "failure turn never recorded")
}

func TestAIFailureBroadcastsUpstreamError(t *testing.T) {
	tutor := &fakeTutor{err: errors.New("model unavailable")}
	f := newFixture(t, tutor, nil, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	conn := f.hub.NewConnection(nil)
	f.hub.Register(conn)
	require.NoError(t, f.coord.Join(ctx, conn, sessionID))
	recv(t, conn) // joined

	require.NoError(t, f.coord.HandleTurn(ctx, sessionID, domain.OriginUser, "hello?", ""))

	// The user's turn comes back first, then the session-wide failure and
	// the system turn explaining it.
	var errMsg protocol.ErrorMessage
	for i := 0; i < 4; i++ {
		data := recv(t, conn)
		var base protocol.BaseMessage
		require.NoError(t, json.Unmarshal(data, &base))
		if base.Type == protocol.TypeError {
			require.NoError(t, json.Unmarshal(data, &errMsg))
			break
		}
	}
	require.Equal(t, protocol.ErrorCodeUpstream, errMsg.Code)
}

func TestAITimeoutDoesNotBlockSession(t *testing.T) {
	tutor := &fakeTutor{delay: 5 * time.Second, reply: &ai.TutorReply{SpokenText: "late"}}
	f := newFixture(t, tutor, nil, 50*time.Millisecond)
	sessionID := f.startSession(t)
	ctx := context.Background()

	require.NoError(t, f.coord.HandleTurn(ctx, sessionID, domain.OriginUser, "slow question?", ""))

	// The slot is free while the AI call is in flight; other traffic proceeds.
	err := f.coord.ApplyCommands(ctx, sessionID, domain.OriginUser, []domain.Command{
		{Action: domain.ActionAdd, ID: "e1", Kind: domain.KindLine},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		turns, err := f.store.GetTurns(ctx, sessionID, 0, "")
		if err != nil {
			return false
		}
		for _, turn := range turns {
			if turn.Origin == domain.OriginSystem {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "timeout turn never recorded")
}

func TestPolicyBlocksUserBatch(t *testing.T) {
	gate, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	f := newFixture(t, &fakeTutor{}, gate, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	err = f.coord.ApplyCommands(ctx, sessionID, domain.OriginUser, []domain.Command{
		{Action: domain.ActionAdd, ID: "e1", Kind: domain.KindImage},
	})
	require.ErrorIs(t, err, domain.ErrCommandBlocked)

	// A blocked batch never reaches the document.
	snap, err := f.store.GetWhiteboard(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Version)
	require.Equal(t, 0, snap.Actions)
}

func TestEndBroadcastsFinalStatus(t *testing.T) {
	f := newFixture(t, &fakeTutor{}, nil, time.Second)
	sessionID := f.startSession(t)
	ctx := context.Background()

	conn := f.hub.NewConnection(nil)
	f.hub.Register(conn)
	require.NoError(t, f.coord.Join(ctx, conn, sessionID))
	recv(t, conn) // joined

	sess, err := f.coord.End(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, sess.Status)
	require.NotNil(t, sess.DurationMinutes)
	require.Equal(t, session.SummaryFallback, sess.Summary)

	var msg protocol.StatusChangedMessage
	require.NoError(t, json.Unmarshal(recv(t, conn), &msg))
	require.Equal(t, protocol.TypeStatusChanged, msg.Type)
	require.Equal(t, domain.StatusCompleted, msg.Status)

	_, err = f.coord.End(ctx, sessionID)
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}
