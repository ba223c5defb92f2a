// Package locator is the process-wide service registry. Services are keyed
// by their static Go type, so interfaces can be registered and resolved
// directly:
//
//	locator.RegisterFactory(l, func(l *locator.Locator) (services.ThreadService, error) { ... })
//	threads, err := locator.Resolve[services.ThreadService](l)
package locator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	// ErrNotRegistered is returned when no instance or factory exists for a type
	ErrNotRegistered = errors.New("service not registered")

	// ErrCircularDependency is returned when a factory transitively resolves its own type
	ErrCircularDependency = errors.New("circular dependency")
)

type factoryFunc func(*Locator) (interface{}, error)

// call is a factory invocation in progress. Concurrent resolutions of the
// same type wait on it instead of running the factory again.
type call struct {
	wg       sync.WaitGroup
	instance interface{}
	err      error
}

type registry struct {
	mu        sync.Mutex
	instances map[reflect.Type]interface{}
	factories map[reflect.Type]factoryFunc
	inflight  map[reflect.Type]*call
}

// Locator resolves services from a shared registry. The value handed to a
// factory carries the chain of types currently being constructed, which is
// how cycles are detected without blocking concurrent resolutions.
type Locator struct {
	reg   *registry
	chain []reflect.Type
}

// New creates an empty locator
func New() *Locator {
	return &Locator{reg: &registry{
		instances: make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]factoryFunc),
		inflight:  make(map[reflect.Type]*call),
	}}
}

var (
	defaultOnce    sync.Once
	defaultLocator *Locator
)

// Default returns the process-wide locator
func Default() *Locator {
	defaultOnce.Do(func() {
		defaultLocator = New()
	})
	return defaultLocator
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register stores a ready instance for T, replacing any earlier registration
func Register[T any](l *Locator, instance T) {
	key := typeOf[T]()
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	l.reg.instances[key] = instance
	delete(l.reg.factories, key)
}

// RegisterFactory stores a constructor for T. It runs on the first Resolve
// and its result is cached for the life of the locator.
func RegisterFactory[T any](l *Locator, factory func(*Locator) (T, error)) {
	key := typeOf[T]()
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	delete(l.reg.instances, key)
	l.reg.factories[key] = func(scoped *Locator) (interface{}, error) {
		return factory(scoped)
	}
}

// Has reports whether T can be resolved
func Has[T any](l *Locator) bool {
	key := typeOf[T]()
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if _, ok := l.reg.instances[key]; ok {
		return true
	}
	_, ok := l.reg.factories[key]
	return ok
}

// Resolve returns the instance registered for T, building it with its
// factory on first use
func Resolve[T any](l *Locator) (T, error) {
	var zero T
	key := typeOf[T]()

	v, err := l.resolve(key)
	if err != nil {
		return zero, err
	}
	instance, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service %s has unexpected type %T", key, v)
	}
	return instance, nil
}

// MustResolve is Resolve for wiring code; it panics on failure
func MustResolve[T any](l *Locator) T {
	instance, err := Resolve[T](l)
	if err != nil {
		panic(err)
	}
	return instance
}

// Reset drops every registration and cached instance
func (l *Locator) Reset() {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	l.reg.instances = make(map[reflect.Type]interface{})
	l.reg.factories = make(map[reflect.Type]factoryFunc)
	l.reg.inflight = make(map[reflect.Type]*call)
}

func (l *Locator) resolve(key reflect.Type) (interface{}, error) {
	for _, pending := range l.chain {
		if pending == key {
			return nil, fmt.Errorf("%w: %s", ErrCircularDependency, formatChain(append(l.chain, key)))
		}
	}

	l.reg.mu.Lock()
	if instance, ok := l.reg.instances[key]; ok {
		l.reg.mu.Unlock()
		return instance, nil
	}
	if c, ok := l.reg.inflight[key]; ok {
		l.reg.mu.Unlock()
		c.wg.Wait()
		return c.instance, c.err
	}
	factory, ok := l.reg.factories[key]
	if !ok {
		l.reg.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	c := &call{}
	c.wg.Add(1)
	l.reg.inflight[key] = c
	l.reg.mu.Unlock()

	// Factories run unlocked so they can resolve their own dependencies
	scoped := &Locator{reg: l.reg, chain: append(append([]reflect.Type(nil), l.chain...), key)}
	l.construct(key, factory, scoped, c)
	return c.instance, c.err
}

// construct runs factory and publishes its outcome to c. A failed
// construction is not cached, so a later Resolve tries again.
func (l *Locator) construct(key reflect.Type, factory factoryFunc, scoped *Locator, c *call) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("construct %s: panic: %v", key, r)
		}
		l.reg.mu.Lock()
		delete(l.reg.inflight, key)
		// Reset may have cleared the registry while the factory ran
		if _, still := l.reg.factories[key]; still && c.err == nil {
			l.reg.instances[key] = c.instance
			delete(l.reg.factories, key)
		}
		l.reg.mu.Unlock()
		c.wg.Done()
	}()

	instance, err := factory(scoped)
	if err != nil {
		c.err = fmt.Errorf("construct %s: %w", key, err)
		return
	}
	c.instance = instance
}

func formatChain(chain []reflect.Type) string {
	names := make([]string, len(chain))
	for i, t := range chain {
		names[i] = t.String()
	}
	return strings.Join(names, " -> ")
}
