package cache

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Lookup memoizes directory reads for the lifetime of one sync cycle. It is
// created per cycle and dropped afterwards, so it runs without a janitor.
type Lookup struct {
	c *gocache.Cache
}

type entry struct {
	val any
	err error
}

func New(ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lookup{c: gocache.New(ttl, 0)}
}

func (l *Lookup) Len() int {
	return l.c.ItemCount()
}

// Remember returns the cached result for key or calls load. Successful
// results are stored; an error is stored only when it matches one of sticky,
// so a missing rate stays missing for the rest of the cycle while transient
// failures are retried.
func Remember[T any](l *Lookup, key string, load func() (T, error), sticky ...error) (T, error) {
	if l != nil {
		if v, ok := l.c.Get(key); ok {
			e := v.(entry)
			if e.err != nil {
				var zero T
				return zero, e.err
			}
			return e.val.(T), nil
		}
	}
	val, err := load()
	if l == nil {
		return val, err
	}
	if err == nil {
		l.c.Set(key, entry{val: val}, gocache.DefaultExpiration)
		return val, nil
	}
	for _, s := range sticky {
		if errors.Is(err, s) {
			l.c.Set(key, entry{err: err}, gocache.DefaultExpiration)
			break
		}
	}
	return val, err
}
