package relay

import (
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// ParseRelayList reads the "r" tags of a kind 10002 event. An unmarked tag
// counts as both read and write. Unusable URLs are skipped.
func ParseRelayList(evt *types.Event) *types.RelayList {
	rl := &types.RelayList{Read: []string{}, Write: []string{}}
	if evt == nil || evt.Kind != types.KindRelayList {
		return rl
	}

	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		relayURL := nostr.NormalizeRelayURL(tag[1])
		if relayURL == "" {
			continue
		}

		switch util.TagAt(tag, 2) {
		case "read":
			rl.Read = append(rl.Read, relayURL)
		case "write":
			rl.Write = append(rl.Write, relayURL)
		default:
			rl.Read = append(rl.Read, relayURL)
			rl.Write = append(rl.Write, relayURL)
		}
	}

	rl.Read = util.UniqueStrings(rl.Read)
	rl.Write = util.UniqueStrings(rl.Write)
	if rl.Read == nil {
		rl.Read = []string{}
	}
	if rl.Write == nil {
		rl.Write = []string{}
	}
	return rl
}

// latestByAuthor keeps the newest relay list event per author.
func latestByAuthor(events []types.Event) map[string]*types.Event {
	latest := make(map[string]*types.Event)
	for i := range events {
		evt := &events[i]
		if evt.Kind != types.KindRelayList {
			continue
		}
		if cur, ok := latest[evt.PubKey]; !ok || types.Less(cur, evt) {
			latest[evt.PubKey] = evt
		}
	}
	return latest
}
