package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatvault/internal/adapter/blobstore"
	"github.com/xiaot623/gogo/chatvault/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
	"github.com/xiaot623/gogo/chatvault/internal/policy"
	"github.com/xiaot623/gogo/chatvault/internal/repository"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type fixture struct {
	svc    *Service
	repo   repository.SessionRepository
	llm    *llm.MockClient
	store  blobstore.Store
	events *recorder
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	f := &fixture{repo: repo, llm: llm.NewMockClient(), store: store, events: &recorder{}}
	opts := Options{
		Policy:          engine,
		Events:          f.events,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxPublishBytes: 1 << 20,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = New(repo, f.llm, store, opts)
	return f
}

func roles(s *domain.Session) []domain.Role {
	out := make([]domain.Role, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.Role
	}
	return out
}

func TestConverseScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A: a new session is created with one turn.
	res, err := f.svc.Converse(ctx, "", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.Reply)
	assert.Equal(t, 2, res.MessageCount)
	s1 := res.SessionID

	sess, err := f.svc.GetSession(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant}, roles(sess))
	assert.Equal(t, "hello", sess.Messages[0].Content)
	assert.Equal(t, res.Reply, sess.Messages[1].Content)

	// B: a second turn is appended in order.
	res, err = f.svc.Converse(ctx, s1, "again")
	require.NoError(t, err)
	assert.Equal(t, s1, res.SessionID)
	sess, err = f.svc.GetSession(ctx, s1)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, "hello", sess.Messages[0].Content)
	assert.Equal(t, "again", sess.Messages[2].Content)

	// C: a published snapshot stays frozen.
	pub, err := f.svc.Publish(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, 4, pub.MessageCount)

	_, err = f.svc.Converse(ctx, s1, "later")
	require.NoError(t, err)

	snap, err := f.svc.Retrieve(ctx, pub.Address)
	require.NoError(t, err)
	assert.Equal(t, sess, snap)

	live, err := f.svc.GetSession(ctx, s1)
	require.NoError(t, err)
	assert.Len(t, live.Messages, 6)

	// D: unknown ids and addresses.
	_, err = f.svc.GetSession(ctx, "unknown-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Retrieve(ctx, "unknown-address")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// E: empty text is rejected without touching the session.
	calls := len(f.llm.Calls())
	_, err = f.svc.Converse(ctx, s1, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Len(t, f.llm.Calls(), calls)
	after, err := f.svc.GetSession(ctx, s1)
	require.NoError(t, err)
	assert.Len(t, after.Messages, 6)
}

func TestConverseRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"", "   \n\t", string([]byte{0xff, 0xfe})} {
		_, err := f.svc.Converse(ctx, "", text)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%q", text)
	}
	_, err := f.svc.Converse(ctx, "../escape", "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, f.llm.Calls())
}

func TestConverseInferenceFailureAppendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Converse(ctx, "s-fail", "first")
	require.NoError(t, err)

	f.llm.FailWith(errors.New("LLM API error [503]: overloaded"))
	_, err = f.svc.Converse(ctx, res.SessionID, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInferenceFailure)
	assert.Contains(t, err.Error(), "overloaded")

	sess, err := f.svc.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	_, err = f.svc.GetSession(ctx, "never-created")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// cancellingBackend cancels the caller's context just before replying.
type cancellingBackend struct {
	cancel context.CancelFunc
}

func (b *cancellingBackend) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b.cancel()
	return &llm.CompletionResponse{Completion: "late reply", Model: "test"}, nil
}

func TestConverseKeepsTurnWhenCallerCancelsAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.llm = &cancellingBackend{cancel: cancel}

	res, err := f.svc.Converse(ctx, "s-cancel", "hi")
	require.NoError(t, err)
	assert.Equal(t, "late reply", res.Reply)

	sess, err := f.svc.GetSession(context.Background(), "s-cancel")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestConverseCancelledBeforeCompletion(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Converse(ctx, "s-abort", "hi")
	assert.ErrorIs(t, err, domain.ErrInferenceFailure)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.svc.GetSession(context.Background(), "s-abort")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentConverseKeepsPairsTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 16

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Converse(ctx, "shared", fmt.Sprintf("msg-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sess, err := f.svc.GetSession(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2*n)
	for i := 0; i < len(sess.Messages); i += 2 {
		user, reply := sess.Messages[i], sess.Messages[i+1]
		assert.Equal(t, domain.RoleUser, user.Role)
		assert.Equal(t, domain.RoleAssistant, reply.Role)
		assert.Contains(t, reply.Content, fmt.Sprintf("%q", user.Content))
		if i > 0 {
			assert.False(t, user.Timestamp.Before(sess.Messages[i-1].Timestamp))
		}
	}
}

func TestConverseSendsHistory(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.HistoryTurns = 1 })
	ctx := context.Background()

	_, err := f.svc.Converse(ctx, "s-hist", "one")
	require.NoError(t, err)
	_, err = f.svc.Converse(ctx, "s-hist", "two")
	require.NoError(t, err)
	_, err = f.svc.Converse(ctx, "s-hist", "three")
	require.NoError(t, err)

	calls := f.llm.Calls()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].History)
	require.Len(t, calls[2].History, 2)
	assert.Equal(t, "two", calls[2].History[0].Content)
	assert.Equal(t, "three", calls[2].Prompt)
}

func TestConverseAndPublishEmitEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Converse(ctx, "s-events", "hi")
	require.NoError(t, err)
	pub, err := f.svc.Publish(ctx, "s-events")
	require.NoError(t, err)

	events := f.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeTurnAppended, events[0].Type)
	assert.Equal(t, 2, events[0].MessageCount)
	assert.Equal(t, domain.EventTypeSnapshotPublished, events[1].Type)
	assert.Equal(t, pub.Address, events[1].Address)
}

func TestPublishDeterministicAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Converse(ctx, "s-det", "hi")
	require.NoError(t, err)

	a, err := f.svc.Publish(ctx, "s-det")
	require.NoError(t, err)
	b, err := f.svc.Publish(ctx, "s-det")
	require.NoError(t, err)
	assert.Equal(t, a.Address, b.Address)
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Publish(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("torn turn denied", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.repo.CreateOrAppend(ctx, "s-odd", []domain.Message{{Role: domain.RoleUser, Content: "alone"}})
		require.NoError(t, err)

		_, err = f.svc.Publish(ctx, "s-odd")
		assert.ErrorIs(t, err, domain.ErrPublicationFailure)
		assert.ErrorIs(t, err, domain.ErrPublishDenied)
		assert.Contains(t, err.Error(), "odd message count")
		assert.Equal(t, domain.CodePublishDenied, domain.Classify(err))
	})

	t.Run("oversize denied", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.MaxPublishBytes = 16 })
		_, err := f.svc.Converse(ctx, "s-big", "hi")
		require.NoError(t, err)

		_, err = f.svc.Publish(ctx, "s-big")
		assert.ErrorIs(t, err, domain.ErrPublishDenied)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Converse(ctx, "s-store", "hi")
		require.NoError(t, err)
		f.svc.store = failingStore{err: errors.New("IPFS add failed: connection refused")}

		_, err = f.svc.Publish(ctx, "s-store")
		assert.ErrorIs(t, err, domain.ErrPublicationFailure)
		assert.NotErrorIs(t, err, domain.ErrPublishDenied)
		assert.Contains(t, err.Error(), "connection refused")

		sess, err := f.svc.GetSession(ctx, "s-store")
		require.NoError(t, err)
		assert.Len(t, sess.Messages, 2)
	})
}

type failingStore struct {
	err error
}

func (s failingStore) Put(context.Context, []byte) (string, error) { return "", s.err }
func (s failingStore) Get(context.Context, string) ([]byte, error) { return nil, s.err }

func TestRetrieveErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Retrieve(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	addr, err := f.store.Put(ctx, []byte(`{"not":"a session"}`))
	require.NoError(t, err)
	_, err = f.svc.Retrieve(ctx, addr)
	assert.ErrorIs(t, err, domain.ErrMalformedSnapshot)

	addr, err = f.store.Put(ctx, []byte("plain text"))
	require.NoError(t, err)
	_, err = f.svc.Retrieve(ctx, addr)
	assert.ErrorIs(t, err, domain.ErrMalformedSnapshot)

	f.svc.store = failingStore{err: fmt.Errorf("%w: tampered", blobstore.ErrCorrupt)}
	_, err = f.svc.Retrieve(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrMalformedSnapshot)

	f.svc.store = failingStore{err: errors.New("IPFS cat failed: connection refused")}
	_, err = f.svc.Retrieve(ctx, "QmSomething")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
}

func TestRetrieveDoesNotImportSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Converse(ctx, "s-src", "hi")
	require.NoError(t, err)
	pub, err := f.svc.Publish(ctx, "s-src")
	require.NoError(t, err)

	other := newFixture(t)
	other.svc.store = f.store
	snap, err := other.svc.Retrieve(ctx, pub.Address)
	require.NoError(t, err)
	assert.Equal(t, "s-src", snap.SessionID)

	_, err = other.svc.GetSession(ctx, "s-src")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
