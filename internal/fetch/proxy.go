package fetch

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// Rotation strategies.
const (
	RotationRoundRobin = "round_robin"
	RotationRandom     = "random"
)

// maxProxyFailures consecutive failures exhaust a proxy.
const maxProxyFailures = 3

var errBadRotation = errors.New("unknown proxy rotation strategy")

// ProxyRotator hands out proxies and tracks their health. A proxy that
// fails three times in a row leaves the rotation until the process
// restarts.
type ProxyRotator struct {
	mu       sync.Mutex
	proxies  []string
	failures map[string]int
	rotation string
	index    int
}

// NewProxyRotator builds a rotator over the given proxy URLs.
func NewProxyRotator(proxies []string, rotation string) (*ProxyRotator, error) {
	if rotation == "" {
		rotation = RotationRoundRobin
	}

	if rotation != RotationRoundRobin && rotation != RotationRandom {
		return nil, fmt.Errorf("%w: %q", errBadRotation, rotation)
	}

	return &ProxyRotator{
		proxies:  append([]string(nil), proxies...),
		failures: make(map[string]int),
		rotation: rotation,
	}, nil
}

// HasProxies reports whether any proxy is still usable.
func (p *ProxyRotator) HasProxies() bool {
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.active()) > 0
}

// Len returns the configured proxy count, exhausted or not.
func (p *ProxyRotator) Len() int {
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.proxies)
}

// Get returns the current proxy without advancing round-robin order.
func (p *ProxyRotator) Get() (string, bool) {
	if p == nil {
		return "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.active()
	if len(active) == 0 {
		return "", false
	}

	if p.rotation == RotationRandom {
		return active[rand.Intn(len(active))], true
	}

	return active[p.index%len(active)], true
}

// Rotate advances to the next proxy in round-robin order.
func (p *ProxyRotator) Rotate() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.index++
}

// MarkFailed counts a failure against the proxy.
func (p *ProxyRotator) MarkFailed(proxy string) {
	if p == nil || proxy == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[proxy]++
}

// MarkSuccess resets the proxy's failure count.
func (p *ProxyRotator) MarkSuccess(proxy string) {
	if p == nil || proxy == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[proxy] = 0
}

// active must be called with the lock held.
func (p *ProxyRotator) active() []string {
	var out []string

	for _, proxy := range p.proxies {
		if p.failures[proxy] < maxProxyFailures {
			out = append(out, proxy)
		}
	}

	return out
}
