package redis

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"mcs-iot/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	require.NoError(t, Ping(context.Background(), client))
}

func TestScanKeys_MatchesPattern(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	// 超过一个 SCAN 批次
	for i := 0; i < 450; i++ {
		mr.Set(fmt.Sprintf("alarm:debounce:GAS%03d:HIGH", i), "1")
	}
	mr.Set("online:GAS001", "1")

	keys, err := ScanKeys(context.Background(), client, "alarm:debounce:*")
	require.NoError(t, err)

	assert.Len(t, keys, 450)
	sort.Strings(keys)
	assert.Equal(t, "alarm:debounce:GAS000:HIGH", keys[0])
}

func TestScanKeys_Empty(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	keys, err := ScanKeys(context.Background(), client, "alarm:debounce:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
