package types

// CachedRelayList wraps relay list for serialization
type CachedRelayList struct {
	RelayList *RelayList `json:"relay_list,omitempty"`
	FetchedAt int64      `json:"fetched_at"`
	NotFound  bool       `json:"not_found"`
}

// CachedThread wraps the event set observed for one thread root.
// Only events are stored; the tree is rebuilt from them on load.
type CachedThread struct {
	RootID   string  `json:"root_id"`
	Events   []Event `json:"events"`
	CachedAt int64   `json:"cached_at"`
}
