// Package forge holds the maintainer permission gate the orchestrator
// consults before privileged commands.
package forge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const permissionCacheKeyPrefix = "go-bounties::permission::v1"

// PermissionLookup is the forge call the gate delegates to.
type PermissionLookup interface {
	GetPermissionLevel(ctx context.Context, repo core.RepoRef, username string) (string, error)
}

// PermissionGate answers whether an actor holds maintainer access on a
// repository. Lookup failures are treated as "not a maintainer".
type PermissionGate struct {
	lookup PermissionLookup
	cache  repositorycache.CacheService
	logger core.Logger
}

type PermissionGateOption func(*PermissionGate)

// WithPermissionCache caches successful permission lookups.
func WithPermissionCache(cache repositorycache.CacheService) PermissionGateOption {
	return func(g *PermissionGate) {
		g.cache = cache
	}
}

func WithPermissionLogger(logger core.Logger) PermissionGateOption {
	return func(g *PermissionGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewPermissionGate(lookup PermissionLookup, opts ...PermissionGateOption) *PermissionGate {
	gate := &PermissionGate{lookup: lookup}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// NewPermissionCache builds the in-process cache used by the gate.
func NewPermissionCache(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// PermissionCacheKey returns go-bounties::permission::v1::<owner>::<repo>::<login>
// with each segment lower-cased and path escaped.
func PermissionCacheKey(repo core.RepoRef, username string) string {
	segments := []string{repo.Owner, repo.Name, username}
	for i, segment := range segments {
		segments[i] = url.PathEscape(strings.ToLower(strings.TrimSpace(segment)))
	}
	return strings.Join(append([]string{permissionCacheKeyPrefix}, segments...), "::")
}

// IsMaintainerLevel maps a forge permission level to maintainer access.
func IsMaintainerLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case core.PermissionAdmin, core.PermissionMaintain, core.PermissionWrite:
		return true
	default:
		return false
	}
}

func (g *PermissionGate) HasMaintainerAccess(ctx context.Context, repo core.RepoRef, username string) bool {
	if g == nil || g.lookup == nil {
		return false
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" || repo.Validate() != nil {
		return false
	}
	level, err := g.level(ctx, repo, username)
	if err != nil {
		core.LogWithLevel(ctx, g.logger, "warn", "permission lookup failed", map[string]any{
			"repo":  repo.FullName(),
			"actor": username,
			"error": err.Error(),
		})
		return false
	}
	return IsMaintainerLevel(level)
}

func (g *PermissionGate) level(ctx context.Context, repo core.RepoRef, username string) (level string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			level = ""
			err = fmt.Errorf("forge: permission lookup panic: %v", recovered)
		}
	}()
	if g.cache == nil {
		return g.lookup.GetPermissionLevel(ctx, repo, username)
	}
	return repositorycache.GetOrFetch(ctx, g.cache, PermissionCacheKey(repo, username), func(ctx context.Context) (string, error) {
		return g.lookup.GetPermissionLevel(ctx, repo, username)
	})
}
