package scm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/autodeploy/internal/cache"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/scm/scmtest"
)

const sha40 = "94b8fd8d152680445ec14241f14d1e4c04b0b5ab"

func TestCachedClient_CachesCommitsByFullSHA(t *testing.T) {
	fake := scmtest.NewFake()
	fake.SetHistory("acme/app", "main", sha40)
	client := scm.NewCachedClient(fake, cache.NewMemoryCache(16, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		commit, err := client.Commit(ctx, "acme/app", sha40)
		require.NoError(t, err)
		assert.Equal(t, sha40, commit.ID)
	}
	assert.Len(t, fake.Calls("Commit"), 1)

	// Branch names move, so they always go to the API.
	for i := 0; i < 2; i++ {
		_, err := client.Commit(ctx, "acme/app", "main")
		require.NoError(t, err)
	}
	assert.Len(t, fake.Calls("Commit"), 3)
}

func TestCachedClient_CachesFilesAtFullSHA(t *testing.T) {
	fake := scmtest.NewFake()
	fake.SetFile("acme/app", sha40, "VERSION", "13.11.0\n")
	client := scm.NewCachedClient(fake, cache.NewMemoryCache(16, time.Hour))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		content, err := client.FileContents(ctx, "acme/app", "VERSION", sha40)
		require.NoError(t, err)
		assert.Equal(t, "13.11.0\n", content)
	}
	assert.Len(t, fake.Calls("FileContents"), 1)
}

func TestCachedClient_DoesNotCacheMissingTags(t *testing.T) {
	fake := scmtest.NewFake()
	client := scm.NewCachedClient(fake, cache.NewMemoryCache(16, time.Hour))
	ctx := context.Background()

	_, err := client.Tag(ctx, "acme/app", "v1.0.0-ee")
	assert.ErrorIs(t, err, scm.ErrNotFound)

	fake.AddTag("acme/app", "v1.0.0-ee", sha40)

	tag, err := client.Tag(ctx, "acme/app", "v1.0.0-ee")
	require.NoError(t, err)
	assert.Equal(t, sha40, tag.Commit.ID)

	_, err = client.Tag(ctx, "acme/app", "v1.0.0-ee")
	require.NoError(t, err)
	assert.Len(t, fake.Calls("Tag"), 2)
}
