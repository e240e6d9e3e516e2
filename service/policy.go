package service

// Policy decides whether a read consults the cache, the network or both.
// The constructors are the only way to build one, so background refresh
// can only be combined with cache-first reads.
type Policy struct {
	mode       policyMode
	background bool
}

type policyMode uint8

const (
	modeCacheFirst policyMode = iota
	modeAPIOnly
	modeCacheOnly
)

// CacheFirst serves a cached value when present and fetches otherwise.
// With backgroundRefresh a hit also schedules a non-blocking refetch.
func CacheFirst(backgroundRefresh bool) Policy {
	return Policy{mode: modeCacheFirst, background: backgroundRefresh}
}

// APIOnly always fetches (deduplicated) and stores the result.
func APIOnly() Policy { return Policy{mode: modeAPIOnly} }

// CacheOnly never touches the network.
func CacheOnly() Policy { return Policy{mode: modeCacheOnly} }

// BackgroundRefresh reports whether hits schedule a refetch.
func (p Policy) BackgroundRefresh() bool { return p.background }

func (p Policy) String() string {
	switch p.mode {
	case modeAPIOnly:
		return "apiOnly"
	case modeCacheOnly:
		return "cacheOnly"
	default:
		if p.background {
			return "cacheFirst+refresh"
		}
		return "cacheFirst"
	}
}

// Source tags where a successful result came from.
type Source uint8

const (
	SourceNone Source = iota
	SourceCache
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceNetwork:
		return "network"
	default:
		return "none"
	}
}
