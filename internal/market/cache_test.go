package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelab/poolrunner/internal/domain"
)

// stubAdapter is a VenueAdapter whose State call is scripted per test.
type stubAdapter struct {
	id    string
	state domain.Venue
	err   error
}

func (s *stubAdapter) VenueID() string { return s.id }

func (s *stubAdapter) State(context.Context) (domain.Venue, error) {
	if s.err != nil {
		return domain.Venue{}, s.err
	}
	return s.state, nil
}

func (s *stubAdapter) GetQuote(context.Context, domain.AssetPair, float64) (domain.Quote, error) {
	return domain.Quote{}, nil
}

func (s *stubAdapter) BuildOperation(context.Context, domain.AssetPair, float64, float64) (domain.Instruction, error) {
	return domain.Instruction{}, nil
}

func (s *stubAdapter) Submit(context.Context, domain.Instruction) (domain.SubmissionHandle, error) {
	return domain.SubmissionHandle{}, nil
}

func (s *stubAdapter) AwaitConfirmation(context.Context, domain.SubmissionHandle, time.Time) (domain.Outcome, error) {
	return domain.Outcome{}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubVenue(id string, price float64, seq uint64) domain.Venue {
	return domain.Venue{ID: id, Base: "WETH", Quote: "USDC", Price: price, Depth: 1000, Seq: seq}
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)}
	b := &stubAdapter{id: "pool-b", state: stubVenue("pool-b", 103, 1)}
	c := NewCache([]domain.VenueAdapter{a, b}, time.Second, discard())

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Version)
	require.Len(t, snap.Venues, 2)
	assert.Equal(t, "pool-a", snap.Venues[0].ID) // sorted by ID
	assert.Empty(t, snap.Stale)
	assert.Equal(t, snap, c.Latest())
}

func TestRefreshKeepsStateOnVenueFailure(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)}
	b := &stubAdapter{id: "pool-b", state: stubVenue("pool-b", 103, 1)}
	c := NewCache([]domain.VenueAdapter{a, b}, time.Second, discard())

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// pool-b goes dark; its old state stays, flagged stale.
	b.err = domain.ErrVenueUnavailable
	a.state = stubVenue("pool-a", 101, 2)

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.IsStale("pool-b"))
	assert.False(t, snap.IsStale("pool-a"))
	assert.InDelta(t, 101, snap.Price("pool-a"), 1e-9)
	assert.InDelta(t, 103, snap.Price("pool-b"), 1e-9)

	// The venue recovers and the stale flag clears.
	b.err = nil
	b.state = stubVenue("pool-b", 104, 2)
	snap, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.IsStale("pool-b"))
	assert.InDelta(t, 104, snap.Price("pool-b"), 1e-9)
}

func TestRefreshCancelled(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)}
	c := NewCache([]domain.VenueAdapter{a}, time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Refresh(ctx)
	assert.Error(t, err)
}

func TestApplyUpdateSeqMonotonic(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 5)}
	c := NewCache([]domain.VenueAdapter{a}, time.Second, discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, c.ApplyUpdate(domain.VenueUpdate{VenueID: "pool-a", Price: 102, Seq: 6, At: at}))
	assert.InDelta(t, 102, c.Latest().Price("pool-a"), 1e-9)

	// Stale and replayed sequence numbers are dropped.
	assert.False(t, c.ApplyUpdate(domain.VenueUpdate{VenueID: "pool-a", Price: 99, Seq: 6, At: at}))
	assert.False(t, c.ApplyUpdate(domain.VenueUpdate{VenueID: "pool-a", Price: 99, Seq: 3, At: at}))
	assert.InDelta(t, 102, c.Latest().Price("pool-a"), 1e-9)

	// Unknown venues are ignored.
	assert.False(t, c.ApplyUpdate(domain.VenueUpdate{VenueID: "ghost", Price: 1, Seq: 1, At: at}))
}

func TestApplyUpdateBumpsSnapshotVersion(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)}
	c := NewCache([]domain.VenueAdapter{a}, time.Second, discard())
	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)

	require.True(t, c.ApplyUpdate(domain.VenueUpdate{VenueID: "pool-a", Price: 101, Seq: 2, At: time.Now()}))
	assert.Greater(t, c.Latest().Version, snap.Version)
}

func TestRefreshKeepsNewerPushState(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)}
	c := NewCache([]domain.VenueAdapter{a}, time.Second, discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// A push update races ahead of the next poll; the poll must not regress.
	require.True(t, c.ApplyUpdate(domain.VenueUpdate{VenueID: "pool-a", Price: 105, Seq: 9, At: time.Now()}))
	a.state = stubVenue("pool-a", 100, 2)

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 105, snap.Price("pool-a"), 1e-9)
}

func TestVenueIDsSorted(t *testing.T) {
	c := NewCache([]domain.VenueAdapter{
		&stubAdapter{id: "pool-c"},
		&stubAdapter{id: "pool-a"},
		&stubAdapter{id: "pool-b"},
	}, time.Second, discard())
	assert.Equal(t, []string{"pool-a", "pool-b", "pool-c"}, c.VenueIDs())
}

type failingRemote struct{ calls int }

func (f *failingRemote) SetVenue(context.Context, domain.Venue) error {
	f.calls++
	return errors.New("redis down")
}

func (f *failingRemote) GetVenue(context.Context, string) (domain.Venue, error) {
	return domain.Venue{}, domain.ErrNotFound
}

func (f *failingRemote) GetVenues(context.Context, []string) (map[string]domain.Venue, error) {
	return nil, nil
}

func TestRemoteWriteFailureDoesNotFailRefresh(t *testing.T) {
	a := &stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)}
	remote := &failingRemote{}
	c := NewCache([]domain.VenueAdapter{a}, time.Second, discard(), WithRemote(remote))

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Venues, 1)
	assert.Equal(t, 1, remote.calls)
}

type flakyRemote struct {
	failID  string
	written []string
}

func (f *flakyRemote) SetVenue(_ context.Context, v domain.Venue) error {
	if v.ID == f.failID {
		return errors.New("redis down")
	}
	f.written = append(f.written, v.ID)
	return nil
}

func (f *flakyRemote) GetVenue(context.Context, string) (domain.Venue, error) {
	return domain.Venue{}, domain.ErrNotFound
}

func (f *flakyRemote) GetVenues(context.Context, []string) (map[string]domain.Venue, error) {
	return nil, nil
}

func TestRemoteWriteFailureSkipsOnlyThatVenue(t *testing.T) {
	remote := &flakyRemote{failID: "pool-b"}
	c := NewCache([]domain.VenueAdapter{
		&stubAdapter{id: "pool-a", state: stubVenue("pool-a", 100, 1)},
		&stubAdapter{id: "pool-b", state: stubVenue("pool-b", 101, 1)},
		&stubAdapter{id: "pool-c", state: stubVenue("pool-c", 102, 1)},
	}, time.Second, discard(), WithRemote(remote))

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	sort.Strings(remote.written)
	assert.Equal(t, []string{"pool-a", "pool-c"}, remote.written)
}
