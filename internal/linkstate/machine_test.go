package linkstate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acc_linker/internal/domain"
)

type testItem struct {
	ts   int64
	text string
}

func (i testItem) Timestamp() time.Time { return time.Unix(i.ts, 0) }
func (i testItem) Text() string         { return i.text }
func (i testItem) Summary() string      { return i.text }
func (i testItem) HTML() string         { return i.text }

type adapterFunc func(ctx context.Context, specifier string) ([]domain.Item, error)

func (f adapterFunc) Poll(ctx context.Context, specifier string) ([]domain.Item, error) {
	return f(ctx, specifier)
}

func returning(items ...domain.Item) Adapter {
	return adapterFunc(func(context.Context, string) ([]domain.Item, error) {
		return items, nil
	})
}

func at(ts ...int64) []domain.Item {
	items := make([]domain.Item, len(ts))
	for i, t := range ts {
		items[i] = testItem{ts: t, text: "comment"}
	}
	return items
}

func timestamps(items []domain.Item) []int64 {
	var out []int64
	for _, item := range items {
		out = append(out, item.Timestamp().Unix())
	}
	return out
}

func newMachine() *Machine {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewMachine(domain.ChallengePhrase, logger)
}

func freshLink() *domain.Link {
	return &domain.Link{
		UpstreamKind: "Matrix",
		ChatID:       "!room:matrix.org",
		UserID:       "@alice:matrix.org",
		AdapterKind:  domain.LinuxOrgRu,
		LinkedUserID: "alice",
	}
}

func TestPoll_BaselineSkip(t *testing.T) {
	link := freshLink()

	outcome := newMachine().Poll(context.Background(), link, returning(at(10, 20, 30)...))

	assert.Empty(t, outcome.NewItems)
	assert.False(t, outcome.Transitioned)
	assert.Equal(t, time.Unix(30, 0), link.LastUpdate)
}

func TestPoll_StrictlyNewerItems(t *testing.T) {
	link := freshLink()
	link.LastUpdate = time.Unix(30, 0)

	outcome := newMachine().Poll(context.Background(), link, returning(at(25, 30, 40, 50)...))

	assert.Equal(t, []int64{40, 50}, timestamps(outcome.NewItems))
	assert.Equal(t, time.Unix(50, 0), link.LastUpdate)
}

func TestPoll_NoChangeYieldsNothing(t *testing.T) {
	link := freshLink()
	link.LastUpdate = time.Unix(30, 0)

	outcome := newMachine().Poll(context.Background(), link, returning(at(10, 30, 30)...))

	assert.Empty(t, outcome.NewItems)
	assert.Equal(t, time.Unix(30, 0), link.LastUpdate)
}

func TestPoll_NeverMovesBackwards(t *testing.T) {
	link := freshLink()
	link.LastUpdate = time.Unix(100, 0)

	outcome := newMachine().Poll(context.Background(), link, returning(at(10, 20)...))

	assert.Empty(t, outcome.NewItems)
	assert.Equal(t, time.Unix(100, 0), link.LastUpdate)
}

func TestPoll_Empty(t *testing.T) {
	link := freshLink()

	outcome := newMachine().Poll(context.Background(), link, returning())

	assert.Empty(t, outcome.NewItems)
	assert.NoError(t, outcome.Err)
	assert.True(t, link.LastUpdate.IsZero())
}

func TestPoll_AdapterErrorLeavesLinkUntouched(t *testing.T) {
	link := freshLink()
	link.LastUpdate = time.Unix(30, 0)
	failing := adapterFunc(func(context.Context, string) ([]domain.Item, error) {
		return nil, errors.New("timeout")
	})

	outcome := newMachine().Poll(context.Background(), link, failing)

	require.Error(t, outcome.Err)
	assert.Empty(t, outcome.NewItems)
	assert.False(t, outcome.Transitioned)
	assert.Equal(t, time.Unix(30, 0), link.LastUpdate)
	assert.False(t, link.Verified)
}

func TestPoll_PassesSpecifier(t *testing.T) {
	var got string
	adapter := adapterFunc(func(_ context.Context, specifier string) ([]domain.Item, error) {
		got = specifier
		return nil, nil
	})

	newMachine().Poll(context.Background(), freshLink(), adapter)

	assert.Equal(t, "alice", got)
}

func TestPoll_VerifiesOnFirstPoll(t *testing.T) {
	link := freshLink()
	items := []domain.Item{testItem{ts: 100, text: "well, I love lor-bot! indeed"}}

	outcome := newMachine().Poll(context.Background(), link, returning(items...))

	assert.True(t, outcome.Transitioned)
	assert.True(t, link.Verified)
	assert.Empty(t, outcome.NewItems)
	assert.Equal(t, time.Unix(100, 0), link.LastUpdate)
}

func TestPoll_VerifiesFromOldItem(t *testing.T) {
	link := freshLink()
	link.LastUpdate = time.Unix(100, 0)
	items := []domain.Item{
		testItem{ts: 90, text: "I love lor-bot!"},
		testItem{ts: 100, text: "other"},
	}

	outcome := newMachine().Poll(context.Background(), link, returning(items...))

	assert.True(t, outcome.Transitioned)
	assert.True(t, link.Verified)
	assert.Empty(t, outcome.NewItems)
}

func TestPoll_ChallengeIsCaseSensitive(t *testing.T) {
	link := freshLink()
	items := []domain.Item{testItem{ts: 100, text: "i love LOR-BOT!"}}

	outcome := newMachine().Poll(context.Background(), link, returning(items...))

	assert.False(t, outcome.Transitioned)
	assert.False(t, link.Verified)
}

func TestPoll_VerificationIsOneWay(t *testing.T) {
	link := freshLink()
	link.Verified = true
	link.LastUpdate = time.Unix(100, 0)

	outcome := newMachine().Poll(context.Background(), link, returning(at(150)...))

	assert.False(t, outcome.Transitioned)
	assert.True(t, link.Verified)
	assert.Equal(t, []int64{150}, timestamps(outcome.NewItems))

	outcome = newMachine().Poll(context.Background(), link, returning(testItem{ts: 200, text: "I love lor-bot!"}))

	assert.False(t, outcome.Transitioned)
	assert.True(t, link.Verified)
}
