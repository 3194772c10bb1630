package region

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supercheck-io/supercheck/pkg/queue"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"recognized us-east", USEast, USEast},
		{"recognized global", Global, Global},
		{"unrecognized falls back to global", "mars-central", Global},
		{"empty falls back to global", "", Global},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.in, slog.Default()))
		})
	}
}

func TestQueueFor(t *testing.T) {
	require.Equal(t, "playwright-exec-us-east", QueueFor(queue.KindPlaywright, USEast))
	require.Equal(t, "k6-exec-global", QueueFor(queue.KindK6, Global))
}

func TestRouter_Accept(t *testing.T) {
	t.Run("filtering disabled accepts everything", func(t *testing.T) {
		r := NewRouter(false, USEast)
		require.True(t, r.Accept(USEast))
		require.True(t, r.Accept(EUCentral))
	})
	t.Run("filtering enabled only accepts pinned region", func(t *testing.T) {
		r := NewRouter(true, USEast)
		require.True(t, r.Accept(USEast))
		require.False(t, r.Accept(EUCentral))
	})
}
