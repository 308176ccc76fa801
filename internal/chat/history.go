package chat

// dropReplayed removes live messages that the history response already
// contains. It runs once, when history resolves, over the messages that
// arrived while the fetch was in flight.
//
// A live message carrying a stored id is a replay exactly when history
// holds the same id. Messages without one (frames from gateways that do
// not send ids, or own sends not yet confirmed) fall back to sender and
// body: anything the gateway stored during the window can only be at the
// end of history, so they are matched against the last len(live) history
// entries, and each history entry absorbs at most one live message.
func dropReplayed(history, live []Message) []Message {
	if len(history) == 0 || len(live) == 0 {
		return live
	}

	stored := make(map[int64]bool, len(history))
	for _, h := range history {
		if h.ID != 0 {
			stored[h.ID] = true
		}
	}
	liveIDs := make(map[int64]bool, len(live))
	for _, m := range live {
		if m.ID != 0 {
			liveIDs[m.ID] = true
		}
	}

	start := max(len(history)-len(live), 0)
	tail := history[start:]
	used := make([]bool, len(tail))
	for i, h := range tail {
		// Already claimed by its id; cannot absorb an id-less message too.
		if h.ID != 0 && liveIDs[h.ID] {
			used[i] = true
		}
	}

	kept := make([]Message, 0, len(live))
	for _, m := range live {
		if m.ID != 0 {
			if !stored[m.ID] {
				kept = append(kept, m)
			}
			continue
		}
		if i := findUnused(tail, used, m); i >= 0 {
			used[i] = true
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func findUnused(tail []Message, used []bool, m Message) int {
	for i, h := range tail {
		if !used[i] && h.Sender == m.Sender && h.Body == m.Body {
			return i
		}
	}
	return -1
}
