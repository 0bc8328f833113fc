package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/zappai-client/internal/client"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/tokenstore"
)

// fakeAuth answers Me and Login from canned results and counts calls.
type fakeAuth struct {
	mu        sync.Mutex
	meCalls   int
	meErr     error
	meSession *models.Session
	loginTok  string
	loginErr  error
	onMe      func(ctx context.Context)
}

func (f *fakeAuth) Me(ctx context.Context) (*models.Session, error) {
	f.mu.Lock()
	f.meCalls++
	hook := f.onMe
	err, sess := f.meErr, f.meSession
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (f *fakeAuth) Login(_ context.Context, _, _ string) (string, error) {
	return f.loginTok, f.loginErr
}

func (f *fakeAuth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meCalls
}

var alice = &models.Session{UserID: "u1", Username: "alice"}

func storeWith(t *testing.T, token string) *tokenstore.MemoryStore {
	t.Helper()
	s := tokenstore.NewMemoryStore()
	if token != "" {
		require.NoError(t, s.Write(context.Background(), token))
	}
	return s
}

func TestResolve_AbsentTokenMakesNoCall(t *testing.T) {
	api := &fakeAuth{meSession: alice}
	r := NewResolver(api, tokenstore.NewMemoryStore(), nil)

	sess, err := r.Resolve(context.Background(), "", false)
	require.NoError(t, err)
	require.Nil(t, sess)
	require.Zero(t, api.calls())
}

func TestResolve_Success(t *testing.T) {
	api := &fakeAuth{meSession: alice}
	r := NewResolver(api, storeWith(t, "tok"), nil)

	sess, err := r.Resolve(context.Background(), "tok", true)
	require.NoError(t, err)
	require.Equal(t, alice, sess)
}

func TestResolve_AuthInvalidClearsToken(t *testing.T) {
	store := storeWith(t, "stale")
	api := &fakeAuth{meErr: client.ErrAuthInvalid}
	r := NewResolver(api, store, nil)

	sess, err := r.Resolve(context.Background(), "stale", true)
	require.NoError(t, err)
	require.Nil(t, sess)

	_, ok, err := store.Read(context.Background())
	require.NoError(t, err)
	require.False(t, ok, "rejected token must be cleared")
}

func TestResolve_TransportErrorKeepsToken(t *testing.T) {
	store := storeWith(t, "tok")
	api := &fakeAuth{meErr: &client.TransportError{Op: "me", StatusCode: 503, Err: client.ErrUpstreamFailure}}
	r := NewResolver(api, store, nil)

	sess, err := r.Resolve(context.Background(), "tok", true)
	require.Nil(t, sess)
	require.ErrorIs(t, err, client.ErrTransport)

	tok, ok, _ := store.Read(context.Background())
	require.True(t, ok)
	require.Equal(t, "tok", tok)
}

func TestResolve_UnclassifiedErrorBecomesTransport(t *testing.T) {
	boom := errors.New("boom")
	r := NewResolver(&fakeAuth{meErr: boom}, storeWith(t, "tok"), nil)

	_, err := r.Resolve(context.Background(), "tok", true)
	require.ErrorIs(t, err, client.ErrTransport)
	require.ErrorIs(t, err, boom)
}

func TestState_TransitionsAndOrderedNotification(t *testing.T) {
	st := NewState(nil)
	require.Equal(t, PhaseUnresolved, st.Snapshot().Phase)

	var got []string
	unsubA := st.Subscribe(func(s Snapshot) { got = append(got, "a:"+s.Phase.String()) })
	st.Subscribe(func(s Snapshot) { got = append(got, "b:"+s.Phase.String()) })

	require.True(t, st.BeginResolve())
	require.False(t, st.BeginResolve(), "resolution starts once")
	require.True(t, st.Publish(alice))
	require.False(t, st.Publish(nil), "publish happens once")

	snap := st.Snapshot()
	require.True(t, snap.Authenticated())
	require.Equal(t, "alice", snap.Session.Username)

	unsubA()
	unsubA()
	st.Expire("logout")

	require.Equal(t, []string{
		"a:resolving", "b:resolving",
		"a:resolved", "b:resolved",
		"b:resolved",
	}, got)
	require.Nil(t, st.Snapshot().Session)
}

func TestState_SnapshotIsCopy(t *testing.T) {
	st := NewState(nil)
	st.SetSession(alice)
	snap := st.Snapshot()
	snap.Session.Username = "mallory"
	require.Equal(t, "alice", st.Snapshot().Session.Username)
}

func TestState_ExpireWhileResolvingWinsOverPublish(t *testing.T) {
	st := NewState(nil)
	var notified int
	st.Subscribe(func(Snapshot) { notified++ })

	st.BeginResolve()
	st.Expire("auth_invalid")
	require.Equal(t, PhaseResolving, st.Snapshot().Phase, "expiry is held while resolving")

	st.Publish(alice)
	snap := st.Snapshot()
	require.Equal(t, PhaseResolved, snap.Phase)
	require.Nil(t, snap.Session)
	require.Equal(t, 2, notified)
}

func TestState_ExpireAbsentIsQuiet(t *testing.T) {
	st := NewState(nil)
	st.BeginResolve()
	st.Publish(nil)

	var notified int
	st.Subscribe(func(Snapshot) { notified++ })
	st.Expire("auth_invalid")
	require.Zero(t, notified)
}

func TestState_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	st := NewState(nil)
	st.BeginResolve()
	st.Publish(alice)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := st.Snapshot()
				if s.Session != nil && s.Phase != PhaseResolved {
					t.Errorf("snapshot has session in phase %v", s.Phase)
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		st.SetSession(alice)
		st.Expire("logout")
	}
	wg.Wait()
}

func TestManager_StartupWithoutToken(t *testing.T) {
	api := &fakeAuth{}
	m := NewManager(api, tokenstore.NewMemoryStore(), NewState(nil), nil)

	snap, err := m.Startup(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseResolved, snap.Phase)
	require.Nil(t, snap.Session)
	require.Zero(t, api.calls())
}

func TestManager_StartupTransportErrorStaysResolving(t *testing.T) {
	api := &fakeAuth{meErr: &client.TransportError{Op: "me", Err: errors.New("connection refused")}}
	store := storeWith(t, "tok")
	m := NewManager(api, store, NewState(nil), nil)

	snap, err := m.Startup(context.Background())
	require.ErrorIs(t, err, client.ErrTransport)
	require.Equal(t, PhaseResolving, snap.Phase, "transport failure must not be published as logged out")

	_, ok, _ := store.Read(context.Background())
	require.True(t, ok)
}

func TestManager_StartupRetriesAfterTransportError(t *testing.T) {
	api := &fakeAuth{meErr: &client.TransportError{Op: "me", Err: errors.New("connection refused")}}
	m := NewManager(api, storeWith(t, "tok"), NewState(nil), nil)

	_, err := m.Startup(context.Background())
	require.ErrorIs(t, err, client.ErrTransport)

	api.mu.Lock()
	api.meErr, api.meSession = nil, alice
	api.mu.Unlock()

	snap, err := m.Startup(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseResolved, snap.Phase)
	require.Equal(t, "alice", snap.Session.Username)
	require.Equal(t, 2, api.calls())

	snap, err = m.Startup(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseResolved, snap.Phase)
	require.Equal(t, 2, api.calls(), "a resolved session is not resolved again")
}

func TestManager_StartupWaitsForAttemptInProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAuth{meSession: alice}
	api.onMe = func(context.Context) {
		close(entered)
		<-release
	}
	m := NewManager(api, storeWith(t, "tok"), NewState(nil), nil)

	first := make(chan error, 1)
	go func() {
		_, err := m.Startup(context.Background())
		first <- err
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := m.Startup(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, PhaseResolving, snap.Phase)

	close(release)
	require.NoError(t, <-first)
	snap, err = m.Startup(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Authenticated())
	require.Equal(t, 1, api.calls())
}

func TestManager_StartupWithInvalidTokenThroughHook(t *testing.T) {
	store := storeWith(t, "stale")
	st := NewState(nil)
	api := &fakeAuth{meErr: client.ErrAuthInvalid}
	m := NewManager(api, store, st, nil)
	api.onMe = m.HandleAuthInvalid

	snap, err := m.Startup(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseResolved, snap.Phase)
	require.Nil(t, snap.Session)
}

func TestManager_LoginLogout(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	api := &fakeAuth{loginTok: "fresh", meSession: alice}
	st := NewState(nil)
	m := NewManager(api, store, st, nil)
	ctx := context.Background()

	_, err := m.Startup(ctx)
	require.NoError(t, err)
	require.False(t, st.Snapshot().Authenticated())

	sess, err := m.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", sess.Username)
	require.True(t, st.Snapshot().Authenticated())
	tok, ok, _ := store.Read(ctx)
	require.True(t, ok)
	require.Equal(t, "fresh", tok)

	require.NoError(t, m.Logout(ctx))
	require.False(t, st.Snapshot().Authenticated())
	_, ok, _ = store.Read(ctx)
	require.False(t, ok)
}

func TestManager_LoginErrors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		api      *fakeAuth
		wantErr  error
		wantCall bool
	}{
		{"missing username", "  ", "secret", &fakeAuth{}, ErrMissingCredentials, false},
		{"missing password", "alice", "", &fakeAuth{}, ErrMissingCredentials, false},
		{"rejected", "alice", "wrong", &fakeAuth{loginErr: client.ErrAuthInvalid}, ErrInvalidCredentials, false},
		{"backend down", "alice", "secret", &fakeAuth{loginErr: &client.TransportError{Op: "login", StatusCode: 502, Err: client.ErrUpstreamFailure}}, client.ErrTransport, false},
		{"identity lookup fails", "alice", "secret", &fakeAuth{loginTok: "t", meErr: &client.TransportError{Op: "me", StatusCode: 500, Err: client.ErrUpstreamFailure}}, client.ErrTransport, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tokenstore.NewMemoryStore()
			st := NewState(nil)
			m := NewManager(tt.api, store, st, nil)

			_, err := m.Login(context.Background(), tt.user, tt.pass)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantCall, tt.api.calls() > 0)
			require.False(t, st.Snapshot().Authenticated())
			_, ok, _ := store.Read(context.Background())
			require.False(t, ok, "no token persisted on failed login")
		})
	}
}

func TestManager_HandleAuthInvalid(t *testing.T) {
	store := storeWith(t, "tok")
	st := NewState(nil)
	st.SetSession(alice)
	m := NewManager(&fakeAuth{}, store, st, nil)

	var seen []Snapshot
	st.Subscribe(func(s Snapshot) { seen = append(seen, s) })

	m.HandleAuthInvalid(context.Background())
	require.Len(t, seen, 1)
	require.Equal(t, PhaseResolved, seen[0].Phase)
	require.Nil(t, seen[0].Session)
	_, ok, _ := store.Read(context.Background())
	require.False(t, ok)
}
