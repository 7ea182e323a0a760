package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFactoryBuildsRepositoriesOnce(t *testing.T) {
	f := NewFactory(&gorm.DB{})

	repos := f.Repositories()
	require.NotNil(t, repos)
	assert.Same(t, repos, f.Repositories())
	assert.NotNil(t, repos.User)
	assert.NotNil(t, repos.Connection)
	assert.NotNil(t, repos.OAuthState)
	assert.NotNil(t, repos.Quota)
	assert.NotNil(t, repos.Project)
	assert.NotNil(t, repos.PromptTemplate)
}

func TestGlobalFactoryLifecycle(t *testing.T) {
	_, err := GlobalRepositories()
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, InitializeFactory(nil), ErrNoDatabase)

	first := &gorm.DB{}
	require.NoError(t, InitializeFactory(first))
	require.NoError(t, InitializeFactory(&gorm.DB{}))

	repos, err := GlobalRepositories()
	require.NoError(t, err)
	assert.Same(t, first, globalFactory.db, "the first handle wins")
	again, err := GlobalRepositories()
	require.NoError(t, err)
	assert.Same(t, repos, again)
}
