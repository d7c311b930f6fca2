package inference

import (
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
)

// DefaultClassCacheSize bounds the number of parsed classes a Hierarchy keeps.
const DefaultClassCacheSize = 512

// Hierarchy answers subtype questions over classes loaded on demand. Loaded
// classes are held in a bounded LRU cache and reloaded after eviction.
type Hierarchy struct {
	loader  bytecode.ClassLoader
	classes *cache.StatsCache
}

// NewHierarchy returns a hierarchy reading classes from loader. A cacheSize
// of 0 selects DefaultClassCacheSize.
func NewHierarchy(loader bytecode.ClassLoader, cacheSize int) *Hierarchy {
	if cacheSize <= 0 {
		cacheSize = DefaultClassCacheSize
	}
	return &Hierarchy{
		loader:  loader,
		classes: cache.NewStatsCache(cache.Options{MaxSize: cacheSize}),
	}
}

// Loader returns the class loader backing the hierarchy.
func (h *Hierarchy) Loader() bytecode.ClassLoader { return h.loader }

// Class loads a class. Unknown classes yield *IncompleteClasspathError.
func (h *Hierarchy) Class(name string) (*bytecode.Class, error) {
	if v, ok := h.classes.Get(name); ok {
		return v.(*bytecode.Class), nil
	}
	c, err := h.loader.LoadClass(name)
	if err != nil {
		return nil, classpathError(name, err)
	}
	h.classes.Set(name, c)
	return c, nil
}

// Stats returns the class cache statistics.
func (h *Hierarchy) Stats() cache.Stats {
	return h.classes.Stats()
}

// superclasses returns name followed by its superclass chain.
func (h *Hierarchy) superclasses(name string) ([]string, error) {
	var chain []string
	for name != "" {
		chain = append(chain, name)
		c, err := h.Class(name)
		if err != nil {
			return nil, err
		}
		if c.Interface {
			// Interfaces only have Object above them.
			if name != bytecode.ObjectClass {
				chain = append(chain, bytecode.ObjectClass)
			}
			break
		}
		name = c.Super
	}
	return chain, nil
}

// SubclassOf reports whether class a equals b or extends it through its
// superclass chain. Interfaces are neither subclasses nor superclasses of
// anything but themselves.
func (h *Hierarchy) SubclassOf(a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	ca, err := h.Class(a)
	if err != nil {
		return false, err
	}
	cb, err := h.Class(b)
	if err != nil {
		return false, err
	}
	if ca.Interface || cb.Interface {
		return false, nil
	}
	for name := ca.Super; name != ""; {
		if name == b {
			return true, nil
		}
		c, err := h.Class(name)
		if err != nil {
			return false, err
		}
		name = c.Super
	}
	return false, nil
}

// CommonSuperclass returns the nearest class both a and b extend. An empty
// name stands for the null type and yields the other argument.
func (h *Hierarchy) CommonSuperclass(a, b string) (string, error) {
	switch {
	case a == "":
		return b, nil
	case b == "", a == b:
		return a, nil
	}
	chainA, err := h.superclasses(a)
	if err != nil {
		return "", err
	}
	chainB, err := h.superclasses(b)
	if err != nil {
		return "", err
	}
	inB := make(map[string]struct{}, len(chainB))
	for _, n := range chainB {
		inB[n] = struct{}{}
	}
	for _, n := range chainA {
		if _, ok := inB[n]; ok {
			return n, nil
		}
	}
	return bytecode.ObjectClass, nil
}

// IsThrowable reports whether name extends java.lang.Throwable.
func (h *Hierarchy) IsThrowable(name string) (bool, error) {
	return h.SubclassOf(name, bytecode.ThrowableClass)
}

// IsUnchecked reports whether name extends RuntimeException or Error.
func (h *Hierarchy) IsUnchecked(name string) (bool, error) {
	ok, err := h.SubclassOf(name, bytecode.RuntimeExceptionClass)
	if err != nil || ok {
		return ok, err
	}
	return h.SubclassOf(name, bytecode.ErrorClass)
}
