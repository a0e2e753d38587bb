// Package sharddiff decides which shards of a larger desired state actually
// changed between two snapshots, so a reconciliation run can exit early or
// narrow itself to the affected shards. An inability to compute fine-grained
// diffs is never reported as "no diff": on timeout or worker failure the
// guard degrades to "diff found, no shard information" and the caller
// proceeds unsharded.
package sharddiff

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-set/v2"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/rs/zerolog/log"

	"github.com/changegate/internal/bundlediff"
	"github.com/changegate/pkg/models"
)

// Result is the outcome of one desired-state comparison.
type Result struct {
	// Changed reports whether the two states differ at all.
	Changed bool
	// ShardInfo reports whether the affected-shard set could be computed.
	// When false the caller must treat every shard as affected.
	ShardInfo bool
	// Shards lists the affected shard identifiers, sorted.
	Shards []string
}

// Guard runs the diff engine under a hard wall-clock timeout. Selector
// syntax is a configuration concern and is validated when the guard is
// built, not per comparison.
type Guard struct {
	timeout   time.Duration
	selectors []jp.Expr
}

// NewGuard builds a guard with the given shard-path selectors, e.g.
// `shards[*].shard`.
func NewGuard(timeout time.Duration, selectors []string) (*Guard, error) {
	g := &Guard{timeout: timeout}
	for _, s := range selectors {
		expr, err := jp.ParseString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid shard selector %q: %w", s, err)
		}
		g.selectors = append(g.selectors, expr)
	}
	return g, nil
}

// BuildDesiredStateDiff compares two desired states. A cheap structural
// hash short-circuits the equal case. Otherwise the diff runs in its own
// worker goroutine; if the deadline passes, the worker's eventual result is
// abandoned (the worker shares no state with the caller, so nothing is
// corrupted) and the comparison degrades to "diff found, no shard info".
// There is no retry of a timed-out extraction.
func (g *Guard) BuildDesiredStateDiff(ctx context.Context, previous, current any) Result {
	if stateHash(previous) == stateHash(current) {
		return Result{Changed: false, ShardInfo: true}
	}

	type outcome struct {
		diffs []models.Diff
		ok    bool
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("desired state diff worker failed")
				resultCh <- outcome{}
			}
		}()
		resultCh <- outcome{diffs: bundlediff.DiffTrees(previous, current), ok: true}
	}()

	select {
	case out := <-resultCh:
		if !out.ok {
			return Result{Changed: true, ShardInfo: false}
		}
		if len(out.diffs) == 0 {
			// The hash said the states differ; trust it over the diff.
			return Result{Changed: false, ShardInfo: true}
		}
		return g.attribute(out.diffs, previous, current)
	case <-time.After(g.timeout):
		log.Warn().Dur("timeout", g.timeout).Msg("desired state diff timed out, proceeding unsharded")
		return Result{Changed: true, ShardInfo: false}
	case <-ctx.Done():
		return Result{Changed: true, ShardInfo: false}
	}
}

// attribute maps each diff to the shards it affects: Changed and Removed
// diffs attribute to the shard value found in the previous state, Added and
// Changed diffs to the value in the current state, so a diff whose shard
// value moved affects both. A diff that attributes to no shard at all defeats
// narrowing and degrades the whole result to "no shard info".
func (g *Guard) attribute(diffs []models.Diff, previous, current any) Result {
	prevScopes := g.shardScopes(previous)
	curScopes := g.shardScopes(current)

	affected := set.New[string](0)
	for _, d := range diffs {
		matched := false
		if d.Kind == models.DiffKindChanged || d.Kind == models.DiffKindRemoved {
			matched = attributeTo(d.Path, prevScopes, affected) || matched
		}
		if d.Kind == models.DiffKindChanged || d.Kind == models.DiffKindAdded {
			matched = attributeTo(d.Path, curScopes, affected) || matched
		}
		if !matched {
			return Result{Changed: true, ShardInfo: false}
		}
	}

	shards := affected.Slice()
	sort.Strings(shards)
	return Result{Changed: true, ShardInfo: true, Shards: shards}
}

// shardScope is one located shard value: every diff under its scope path
// belongs to that shard.
type shardScope struct {
	scope models.Path
	shard string
}

func (g *Guard) shardScopes(state any) []shardScope {
	var scopes []shardScope
	for _, expr := range g.selectors {
		for _, loc := range expr.Locate(state, 0) {
			path, err := models.PathFromJSONPath(loc)
			if err != nil {
				continue
			}
			value, ok := path.ValueAt(state)
			if !ok {
				continue
			}
			if shard, ok := value.(string); ok {
				scopes = append(scopes, shardScope{scope: path.Parent(), shard: shard})
			}
		}
	}
	return scopes
}

func attributeTo(path models.Path, scopes []shardScope, into *set.Set[string]) bool {
	matched := false
	for _, s := range scopes {
		if path.HasPrefix(s.scope) {
			into.Insert(s.shard)
			matched = true
		}
	}
	return matched
}

// stateHash is a structural-equality hash over the canonical, key-sorted
// JSON encoding of a state.
func stateHash(state any) [32]byte {
	return sha256.Sum256([]byte(oj.JSON(state, &oj.Options{Sort: true})))
}
