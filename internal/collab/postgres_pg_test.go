package collab

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/db/dbtest"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_ResolveTier(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	now := dbtest.Now()
	d := NewDirectory(pool)
	d.now = func() time.Time { return now }

	active, lapsed, forever := dbtest.User("active"), dbtest.User("lapsed"), dbtest.User("forever")
	_, err := pool.Exec(ctx, "insert into subscriptions (user_id, tier, expires_at) values ($1,'pro',$4), ($2,'pro',$5), ($3,'basic',null)",
		active, lapsed, forever, now.Add(time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		user string
		want types.Tier
	}{
		{active, types.TierPro},
		{lapsed, types.TierFree},
		{forever, types.TierBasic},
		{dbtest.User("nobody"), types.TierFree},
	}
	for _, tt := range tests {
		got, err := d.ResolveTier(ctx, tt.user)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.user)
	}
}

func TestDirectory_GetAsset(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	d := NewDirectory(pool)
	id := dbtest.Asset(t, pool, "DIR")

	a, err := d.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.True(t, strings.HasPrefix(a.Symbol, "DIR-"))
	assert.True(t, a.IsActive())

	_, err = d.GetAsset(ctx, "not-a-uuid")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = d.GetAsset(ctx, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEventStore_Writes(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	s := NewEventStore(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	user := dbtest.User("audited")
	now := dbtest.Now()

	require.NoError(t, s.Record(ctx, AuditEntry{
		UserID: user, Action: AuditOrderPlaced, EntityID: uuid.NewString(),
		Attributes: map[string]any{"side": "buy"}, CorrelationID: "corr-1", At: now,
	}))
	require.NoError(t, s.RecordViolation(ctx, Violation{
		UserID: user, Kind: "validation", Reason: "missing required field: price", Payload: "{}", CorrelationID: "corr-2", At: now,
	}))

	var side string
	require.NoError(t, pool.QueryRow(ctx, "select attributes->>'side' from audit_events where user_id = $1", user).Scan(&side))
	assert.Equal(t, "buy", side)
	var reason string
	require.NoError(t, pool.QueryRow(ctx, "select reason from security_events where user_id = $1", user).Scan(&reason))
	assert.Equal(t, "missing required field: price", reason)
}
