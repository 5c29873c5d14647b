package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "tutor", nil)

	var dest map[string]string
	err := repo.Get(context.Background(), "availability:teacher-1", &dest)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "availability:teacher-1", map[string]string{"a": "b"}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "availability:*"))
	assert.NoError(t, repo.Close())
}

func TestCacheRepositoryNamespacesKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	namespaced := NewCacheRepository(client, "tutor", nil)
	assert.Equal(t, "tutor:availability:teacher-1", namespaced.key("availability:teacher-1"))

	bare := NewCacheRepository(client, "", nil)
	require.NotNil(t, bare.logger)
	assert.Equal(t, "availability:teacher-1", bare.key("availability:teacher-1"))
}
