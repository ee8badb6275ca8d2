// Package pool implements C2: a connection-caching registry that, given a
// handle to any member of a cluster or its metadata catalog, locates and
// returns a live session to the current PRIMARY, to any SECONDARY, or to
// any member reachable with quorum - tolerating partial failures, stale
// information, and primary fail-over.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metrics"
)

// MemberInfo is the minimal per-member fact the pool's metadata cache
// needs to resolve UUID -> endpoint and to enumerate a group.
type MemberInfo struct {
	UUID     string
	Endpoint string
	Host     string
	Port     int
}

type entry struct {
	inst   *instance.Instance
	leased bool
}

// Pool is a per-command scoped registry of leased Instances plus a
// read-only, explicitly-refreshed metadata cache. No other goroutine
// should touch a Pool concurrently with the command that owns it, save
// for the one exception the spec calls out: C5's parallel GTID pre-sync,
// which only reads already-leased Instances and never re-enters the Pool.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry // keyed by endpoint

	defaultUser     string
	defaultPassword string
	logVerbosity    instance.LogVerbosity
	logger          *console.Logger
	metrics         *metrics.Registry

	// metadata cache: uuid -> endpoint, and group_name -> members.
	// Backed by patrickmn/go-cache with NoExpiration items; entries are
	// only ever replaced by an explicit SetMetadata/RefreshMetadata call,
	// matching the spec's "refreshed only on explicit request".
	uuidIndex    *gocache.Cache
	groupMembers *gocache.Cache

	recentMu        sync.Mutex
	recentPrimaries map[string]map[string]struct{} // group_name -> uuid set

	// open is the seam production code leaves at instance.Open; tests in
	// this package swap it for an opener backed by sqlmock fixtures keyed
	// by endpoint, the same way the example pack injects a mocked *sql.DB
	// instead of dialing a real server.
	open func(ctx context.Context, opts instance.Options, logger *console.Logger) (*instance.Instance, error)
}

// New creates an empty Pool. defaultUser/defaultPassword are used to fill
// in connection options that omit credentials (§4.2 MISSING_AUTH).
func New(defaultUser, defaultPassword string, logVerbosity instance.LogVerbosity, logger *console.Logger) *Pool {
	return &Pool{
		entries:         make(map[string]*entry),
		defaultUser:     defaultUser,
		defaultPassword: defaultPassword,
		logVerbosity:    logVerbosity,
		logger:          logger,
		uuidIndex:       gocache.New(gocache.NoExpiration, gocache.NoExpiration),
		groupMembers:    gocache.New(gocache.NoExpiration, gocache.NoExpiration),
		recentPrimaries: make(map[string]map[string]struct{}),
		open:            instance.Open,
	}
}

// SetMetrics attaches reg so subsequent resolution attempts are recorded;
// nil detaches it (the pool's metrics calls are then no-ops via reg's own
// nil-receiver handling).
func (p *Pool) SetMetrics(reg *metrics.Registry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = reg
}

func (p *Pool) fillDefaults(opts instance.Options) instance.Options {
	if opts.User == "" {
		opts.User = p.defaultUser
		opts.Password = p.defaultPassword
	}
	opts.LogVerbosity = p.logVerbosity
	return opts
}

// ReleaseInstance implements instance.Owner. It is called by Instance.Release
// once its retain count reaches zero.
func (p *Pool) ReleaseInstance(i *instance.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[i.Endpoint()]; ok && e.inst == i {
		e.leased = false
		return
	}
	// Not one of ours (stolen, or from a different pool): close it.
	i.Close()
}

// Adopt registers an externally created Instance as leased, per §4.2.
func (p *Pool) Adopt(i *instance.Instance) *instance.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[i.Endpoint()] = &entry{inst: i, leased: true}
	i.SetOwner(p)
	return i
}

// ConnectUnchecked opens a raw session, reusing a matching non-leased pool
// entry if present.
func (p *Pool) ConnectUnchecked(ctx context.Context, opts instance.Options) (*instance.Instance, error) {
	opts = p.fillDefaults(opts)
	if opts.User == "" {
		return nil, dbaerr.New(dbaerr.CodeMissingAuth, "no user supplied and no default credentials configured")
	}
	endpoint := opts.Endpoint()

	p.mu.Lock()
	if e, ok := p.entries[endpoint]; ok && !e.leased {
		e.leased = true
		p.mu.Unlock()
		return e.inst.Retain(), nil
	}
	p.mu.Unlock()

	inst, err := p.open(ctx, opts, p.logger)
	if err != nil {
		return nil, err
	}
	inst.SetOwner(p)

	p.mu.Lock()
	p.entries[endpoint] = &entry{inst: inst, leased: true}
	p.mu.Unlock()

	return inst, nil
}

// ConnectUncheckedUUID looks the endpoint up in the metadata cache, then
// delegates to ConnectUnchecked. Fails METADATA_INFO_MISSING if the
// endpoint is blank.
func (p *Pool) ConnectUncheckedUUID(ctx context.Context, uuid string) (*instance.Instance, error) {
	endpoint, ok := p.lookupEndpoint(uuid)
	if !ok || endpoint == "" {
		return nil, dbaerr.Newf(dbaerr.CodeMetadataInfoMissing, "no endpoint recorded for uuid %s", uuid)
	}
	opts := endpointOptions(endpoint)
	return p.ConnectUnchecked(ctx, opts)
}

func endpointOptions(endpoint string) instance.Options {
	host, portStr := splitHostPort(endpoint)
	port := 3306
	fmt.Sscanf(portStr, "%d", &port)
	return instance.Options{Host: host, Port: port}
}

func splitHostPort(endpoint string) (host, port string) {
	idx := lastIndexByte(endpoint, ':')
	if idx < 0 {
		return endpoint, "3306"
	}
	return endpoint[:idx], endpoint[idx+1:]
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// --- metadata cache -------------------------------------------------------

// SetMetadata populates (or replaces) the cached member list for a group.
// It is the only writer of the metadata cache; Metadata Storage invalidates
// and the embedding command re-populates after a write (§4.2).
func (p *Pool) SetMetadata(groupName string, members []MemberInfo) {
	p.groupMembers.Set(groupName, members, gocache.NoExpiration)
	for _, m := range members {
		if m.UUID != "" && m.Endpoint != "" {
			p.uuidIndex.Set(m.UUID, m.Endpoint, gocache.NoExpiration)
		}
	}
}

// RefreshMetadata re-pulls group membership via fetch and replaces the
// cached entry; it exists as the explicit refresh trigger the spec
// requires (the cache is never refreshed implicitly).
func (p *Pool) RefreshMetadata(ctx context.Context, groupName string, fetch func(ctx context.Context) ([]MemberInfo, error)) error {
	members, err := fetch(ctx)
	if err != nil {
		return err
	}
	p.SetMetadata(groupName, members)
	return nil
}

func (p *Pool) groupMembersOf(groupName string) ([]MemberInfo, bool) {
	v, ok := p.groupMembers.Get(groupName)
	if !ok {
		return nil, false
	}
	return v.([]MemberInfo), true
}

func (p *Pool) lookupEndpoint(uuid string) (string, bool) {
	v, ok := p.uuidIndex.Get(uuid)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// --- recent-primaries bookkeeping ----------------------------------------

func (p *Pool) markRecentPrimary(groupName, uuid string) {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	set, ok := p.recentPrimaries[groupName]
	if !ok {
		set = make(map[string]struct{})
		p.recentPrimaries[groupName] = set
	}
	set[uuid] = struct{}{}
}

func (p *Pool) unmarkRecentPrimary(groupName, uuid string) {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	if set, ok := p.recentPrimaries[groupName]; ok {
		delete(set, uuid)
	}
}

func (p *Pool) recentPrimarySet(groupName string) map[string]struct{} {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	out := make(map[string]struct{}, len(p.recentPrimaries[groupName]))
	for uuid := range p.recentPrimaries[groupName] {
		out[uuid] = struct{}{}
	}
	return out
}

// waitPollInterval is the cadence used by any pool-internal polling; kept
// small since pool resolution itself is not expected to block long.
const waitPollInterval = 200 * time.Millisecond
