package blacklist

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/campuskit/authcore/testutils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, 15*time.Minute, nil), mr
}

func TestCache_MarkRevoked(t *testing.T) {
	cache, mr := setupTestCache(t)

	t.Run("marks jti with cache ttl", func(t *testing.T) {
		cache.MarkRevoked("jti-1", time.Hour)

		revoked, err := cache.IsRevoked("jti-1")
		require.NoError(t, err)
		assert.True(t, revoked)
		assert.InDelta(t, 15*time.Minute, mr.TTL(cacheKeyPrefix+"jti-1"), float64(time.Second))
	})

	t.Run("shorter token ttl wins", func(t *testing.T) {
		cache.MarkRevoked("jti-2", 5*time.Minute)
		assert.InDelta(t, 5*time.Minute, mr.TTL(cacheKeyPrefix+"jti-2"), float64(time.Second))
	})

	t.Run("already expired token is skipped", func(t *testing.T) {
		cache.MarkRevoked("jti-3", -time.Minute)

		revoked, err := cache.IsRevoked("jti-3")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}

func TestCache_IsRevoked(t *testing.T) {
	cache, mr := setupTestCache(t)

	t.Run("unknown jti misses", func(t *testing.T) {
		revoked, err := cache.IsRevoked("unknown")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("entry expires with ttl", func(t *testing.T) {
		cache.MarkRevoked("short", time.Minute)
		mr.FastForward(2 * time.Minute)

		revoked, err := cache.IsRevoked("short")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}

func TestService_IsBlacklisted_CacheIntegration(t *testing.T) {
	cfg := getTestBlacklistConfig()
	db := testutils.SetupTestDB(t, &BlacklistEntry{}, &RevocationRecord{})
	cache, mr := setupTestCache(t)
	service := NewService(db, cfg, nil, cache)

	t.Run("blacklisting populates the cache", func(t *testing.T) {
		_, err := service.Blacklist("cached-jti", TokenTypeAccess, "", 1, time.Now().Add(time.Hour), "test", "system")
		require.NoError(t, err)

		assert.True(t, mr.Exists(cacheKeyPrefix+"cached-jti"))
	})

	t.Run("cache miss falls through to ledger and backfills", func(t *testing.T) {
		entry := &BlacklistEntry{
			JTI:       "ledger-only",
			TokenType: TokenTypeAccess,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, service.AddInTx(db, entry))
		mr.Del(cacheKeyPrefix + "ledger-only")

		revoked, err := service.IsBlacklisted("ledger-only")
		require.NoError(t, err)
		assert.True(t, revoked)
		assert.True(t, mr.Exists(cacheKeyPrefix+"ledger-only"))
	})

	t.Run("cache outage degrades to ledger lookup", func(t *testing.T) {
		_, err := service.Blacklist("outage-jti", TokenTypeAccess, "", 1, time.Now().Add(time.Hour), "test", "system")
		require.NoError(t, err)

		mr.Close()

		revoked, err := service.IsBlacklisted("outage-jti")
		require.NoError(t, err)
		assert.True(t, revoked)
	})
}
