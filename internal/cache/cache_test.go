package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagged_Get(t *testing.T) {
	c := NewTagged[string](10, time.Hour)
	calls := 0
	load := func() (string, error) {
		calls++
		return "value", nil
	}

	v, err := c.Get("k1", []string{"posts"}, load)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.Get("k1", []string{"posts"}, load)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls, "Второй вызов должен брать значение из кэша")

	_, err = c.Get("k2", nil, func() (string, error) { return "", errors.New("ошибка хранилища") })
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len(), "Ошибки не кэшируются")
}

func TestTagged_Invalidate(t *testing.T) {
	c := NewTagged[int](10, time.Hour)
	c.Set("a", []string{"posts"}, 1)
	c.Set("b", []string{"posts", "other"}, 2)
	c.Set("c", []string{"other"}, 3)

	c.Invalidate("posts")
	_, err := c.Get("a", nil, func() (int, error) { return 10, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len(), "Остаются c и заново загруженный a")

	v, _ := c.Get("c", nil, func() (int, error) { return 30, nil })
	assert.Equal(t, 3, v)

	c.Invalidate("missing")
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestTagged_Expire(t *testing.T) {
	c := NewTagged[int](10, 20*time.Millisecond)
	c.Set("a", []string{"posts"}, 1)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTagged_InvalidateDuringLoad(t *testing.T) {
	c := NewTagged[string](10, time.Hour)
	started, release := make(chan struct{}), make(chan struct{})

	done := make(chan string)
	go func() {
		v, _ := c.Get("list", []string{"bloglist"}, func() (string, error) {
			close(started)
			<-release
			return "old", nil
		})
		done <- v
	}()

	<-started
	c.Invalidate("bloglist")
	close(release)
	assert.Equal(t, "old", <-done, "Текущий вызов получает загруженное значение")

	v, err := c.Get("list", []string{"bloglist"}, func() (string, error) { return "new", nil })
	require.NoError(t, err)
	assert.Equal(t, "new", v, "Значение, загруженное до сброса, не должно кэшироваться")
}

func TestTagged_PurgeDuringLoad(t *testing.T) {
	c := NewTagged[int](10, time.Hour)
	v, err := c.Get("a", []string{"posts"}, func() (int, error) {
		c.Purge()
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, c.Len())
}
