// Package cache - LRU с истечением срока и сбросом по тегам.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Tagged хранит значения по ключам и группирует ключи по тегам,
// чтобы запись сбрасывала все затронутые ей чтения разом.
type Tagged[V any] struct {
	lru *expirable.LRU[string, V]

	mu    sync.Mutex
	tags  map[string]map[string]struct{}
	gens  map[string]uint64 // bumped by Invalidate, per tag
	epoch uint64            // bumped by Purge
	size  int
}

func NewTagged[V any](size int, ttl time.Duration) *Tagged[V] {
	return &Tagged[V]{
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
		tags: make(map[string]map[string]struct{}),
		gens: make(map[string]uint64),
		size: size,
	}
}

// Get возвращает значение из кэша или вызывает fn и кэширует результат под тегами.
// Ошибки не кэшируются. Результат, загруженный во время сброса любого из тегов,
// возвращается, но не кэшируется.
func (c *Tagged[V]) Get(key string, tags []string, fn func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	c.mu.Lock()
	epoch, gens := c.epoch, c.generations(tags)
	c.mu.Unlock()

	v, err := fn()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return v, nil
	}
	for i, tag := range tags {
		if c.gens[tag] != gens[i] {
			return v, nil
		}
	}
	c.set(key, tags, v)
	return v, nil
}

func (c *Tagged[V]) Set(key string, tags []string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, tags, v)
}

func (c *Tagged[V]) set(key string, tags []string, v V) {
	c.lru.Add(key, v)
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
		if c.size > 0 && len(keys) > 2*c.size {
			for k := range keys {
				if !c.lru.Contains(k) {
					delete(keys, k)
				}
			}
		}
	}
}

func (c *Tagged[V]) generations(tags []string) []uint64 {
	gens := make([]uint64, len(tags))
	for i, tag := range tags {
		gens[i] = c.gens[tag]
	}
	return gens
}

// Invalidate сбрасывает все ключи под любым из тегов
func (c *Tagged[V]) Invalidate(tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		for k := range c.tags[tag] {
			c.lru.Remove(k)
		}
		delete(c.tags, tag)
		c.gens[tag]++
	}
}

func (c *Tagged[V]) Len() int { return c.lru.Len() }

func (c *Tagged[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.tags = make(map[string]map[string]struct{})
	c.epoch++
}
