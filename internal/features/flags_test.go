package features

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagManager_Defaults(t *testing.T) {
	fm := NewFlagManager()

	assert.False(t, fm.IsEnabled(FlagEditSync))
	assert.True(t, fm.IsEnabled(FlagAntiBanThrottle))
	assert.True(t, fm.IsEnabled(FlagSendCircuitBreaker))
	assert.False(t, fm.IsEnabled("does_not_exist"))
	assert.Len(t, fm.ListFlags(), len(DefaultFlags))
}

func TestFlagManager_EnableDisable(t *testing.T) {
	fm := NewFlagManager()

	require.NoError(t, fm.Enable(FlagEditSync))
	assert.True(t, fm.IsEnabled(FlagEditSync))

	require.NoError(t, fm.Disable(FlagEditSync))
	assert.False(t, fm.IsEnabled(FlagEditSync))

	err := fm.Enable("unknown")
	assert.Equal(t, ErrFlagNotFound{Name: "unknown"}, err)
}

func TestFlagManager_Apply(t *testing.T) {
	fm := NewFlagManager()

	unknown := fm.Apply(map[string]bool{
		FlagEditSync:       true,
		FlagRedisRelay:     false,
		"legacy_batching":  true,
		"another_old_flag": false,
	})

	assert.Equal(t, []string{"another_old_flag", "legacy_batching"}, unknown)
	assert.True(t, fm.IsEnabled(FlagEditSync))
	assert.False(t, fm.IsEnabled(FlagRedisRelay))
}

func TestFlagManager_ConcurrentAccess(t *testing.T) {
	fm := NewFlagManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = fm.Set(FlagEditSync, i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			_ = fm.IsEnabled(FlagEditSync)
		}()
	}
	wg.Wait()
}
