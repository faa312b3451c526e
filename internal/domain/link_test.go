package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLink_SameAsIgnoresStateFields(t *testing.T) {
	a := Link{
		UpstreamKind: "Matrix",
		ChatID:       "!room:matrix.org",
		UserID:       "@alice:matrix.org",
		AdapterKind:  LinuxOrgRu,
		LinkedUserID: "alice",
	}
	b := a
	b.ID = 42
	b.LastUpdate = time.Unix(100, 0)
	b.Verified = true

	assert.True(t, a.SameAs(b))
	assert.True(t, b.SameAs(a))
}

func TestLink_SameAsDiffersOnIdentity(t *testing.T) {
	base := Link{
		UpstreamKind: "Matrix",
		ChatID:       "!room:matrix.org",
		UserID:       "@alice:matrix.org",
		AdapterKind:  LinuxOrgRu,
		LinkedUserID: "alice",
	}

	variants := map[string]func(*Link){
		"upstream":    func(l *Link) { l.UpstreamKind = "Other" },
		"chat":        func(l *Link) { l.ChatID = "!other:matrix.org" },
		"user":        func(l *Link) { l.UserID = "@bob:matrix.org" },
		"adapter":     func(l *Link) { l.AdapterKind = "Other" },
		"linked user": func(l *Link) { l.LinkedUserID = "bob" },
	}

	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			other := base
			mutate(&other)
			assert.False(t, base.SameAs(other))
		})
	}
}

func TestOwnedBy(t *testing.T) {
	match := OwnedBy("Matrix", "@alice:matrix.org")

	assert.True(t, match(Link{UpstreamKind: "Matrix", UserID: "@alice:matrix.org", LinkedUserID: "x"}))
	assert.False(t, match(Link{UpstreamKind: "Matrix", UserID: "@bob:matrix.org"}))
	assert.False(t, match(Link{UpstreamKind: "Other", UserID: "@alice:matrix.org"}))
}

func TestParseAdapterKind(t *testing.T) {
	kind, err := ParseAdapterKind("LinuxOrgRu")
	require.NoError(t, err)
	assert.Equal(t, LinuxOrgRu, kind)

	_, err = ParseAdapterKind("linuxorgru")
	assert.Error(t, err)
}
