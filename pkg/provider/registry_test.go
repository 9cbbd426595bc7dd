package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Call(ctx context.Context, request Request) (*Response, error) {
	return &Response{Content: s.name}, nil
}

func (s *stubProvider) Provider() string { return s.name }

func countingFactory(builds *atomic.Int32) Factory {
	return func(ctx context.Context, profile Profile) (LLMProvider, error) {
		builds.Add(1)
		return &stubProvider{name: profile.ID}, nil
	}
}

func TestRegistry_GetDefaultProfile(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry(countingFactory(&builds))
	r.Reload([]Profile{
		{ID: "work", Provider: OpenAI, Model: "gpt-4o-mini"},
		{ID: "home", Provider: Anthropic},
	}, "work")

	p, profile, err := r.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "work", p.Provider())
	assert.Equal(t, "gpt-4o-mini", profile.Model)

	p, _, err = r.Get(context.Background(), "home")
	require.NoError(t, err)
	assert.Equal(t, "home", p.Provider())

	_, _, err = r.Get(context.Background(), "missing")
	assert.EqualError(t, err, "unknown AI profile: missing")

	assert.Len(t, r.Profiles(), 2)
	assert.Equal(t, "home", r.Profiles()[0].ID)
}

func TestRegistry_BuildsOncePerProfile(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry(countingFactory(&builds))
	r.Reload([]Profile{{ID: "work", Provider: OpenAI}}, "work")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Get(context.Background(), "work")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, _, err := r.Get(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())
}

func TestRegistry_ReloadDropsChangedProfiles(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry(countingFactory(&builds))
	r.Reload([]Profile{
		{ID: "a", Provider: OpenAI, APIKey: "k1"},
		{ID: "b", Provider: OpenAI, APIKey: "k1"},
	}, "a")

	_, _, _ = r.Get(context.Background(), "a")
	_, _, _ = r.Get(context.Background(), "b")
	require.Equal(t, int32(2), builds.Load())

	r.Reload([]Profile{
		{ID: "a", Provider: OpenAI, APIKey: "k2"},
		{ID: "b", Provider: OpenAI, APIKey: "k1"},
	}, "a")

	_, _, _ = r.Get(context.Background(), "a")
	_, _, _ = r.Get(context.Background(), "b")
	assert.Equal(t, int32(3), builds.Load())
}

func TestRegistry_NoProfiles(t *testing.T) {
	r := NewRegistry(nil)

	_, _, err := r.Get(context.Background(), "")
	assert.EqualError(t, err, "no AI profile configured")
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry(func(ctx context.Context, profile Profile) (LLMProvider, error) {
		return nil, errors.New("bad key")
	})
	r.Reload([]Profile{{ID: "x", Provider: Gemini}}, "x")

	_, _, err := r.Get(context.Background(), "x")
	assert.EqualError(t, err, "build gemini provider for profile x: bad key")
}
