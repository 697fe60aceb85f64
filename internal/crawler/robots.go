package crawler

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"

	"github.com/pagesift/pagesift/internal/fetch"
)

// robotsGate fetches and caches robots.txt per host. Unreachable robots
// files allow everything; a 5xx answer disallows per the robotstxt
// status semantics.
type robotsGate struct {
	client  *fetch.Client
	agent   string
	enabled bool
	log     *zerolog.Logger

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsGate(client *fetch.Client, agent string, enabled bool, log *zerolog.Logger) *robotsGate {
	return &robotsGate{
		client:  client,
		agent:   agent,
		enabled: enabled,
		log:     log,
		groups:  make(map[string]*robotstxt.Group),
	}
}

// allowed reports whether the gate permits fetching rawURL.
func (g *robotsGate) allowed(ctx context.Context, rawURL string) bool {
	if !g.enabled {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	group := g.group(ctx, u.Scheme+"://"+u.Host)
	if group == nil {
		return true
	}

	return group.Test(u.Path)
}

func (g *robotsGate) group(ctx context.Context, origin string) *robotstxt.Group {
	g.mu.Lock()
	group, ok := g.groups[origin]
	g.mu.Unlock()

	if ok {
		return group
	}

	group = g.fetchGroup(ctx, origin)

	g.mu.Lock()
	g.groups[origin] = group
	g.mu.Unlock()

	return group
}

func (g *robotsGate) fetchGroup(ctx context.Context, origin string) *robotstxt.Group {
	robotsURL := origin + "/robots.txt"

	status := 200

	var body string

	resp, err := g.client.Get(ctx, robotsURL, fetch.Options{UserAgent: g.agent, Retries: 1})

	switch {
	case err == nil:
		status, body = resp.Status, resp.Body
	default:
		var fe *fetch.FetchError
		if !errors.As(err, &fe) {
			// Transport failure, not a server answer.
			return nil
		}

		status, body = fe.Status, fe.Body
	}

	data, err := robotstxt.FromStatusAndBytes(status, []byte(body))
	if err != nil {
		g.log.Debug().Str(fieldURL, robotsURL).Err(err).Msg("Unparseable robots.txt, allowing all")

		return nil
	}

	return data.FindGroup(g.agent)
}
