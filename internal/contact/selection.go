package contact

// Selection describes which contacts a sending session may target
type Selection struct {
	Nations  []string
	MaxCount int // 0 = unlimited
}

// SelectionResult is the outcome of applying a Selection to a Store
type SelectionResult struct {
	// Selected are all active contacts of the selected nations
	Selected []Contact
	// NotSent are the selected contacts still eligible for sending, uncapped
	NotSent []Contact
	// Eligible is NotSent capped to MaxCount
	Eligible []Contact
	// MostRecentSent maps each selected nation to the highest uid already sent
	MostRecentSent map[string]int64
}

// Next returns the first eligible contact, if any
func (r SelectionResult) Next() (Contact, bool) {
	if len(r.Eligible) == 0 {
		return Contact{}, false
	}
	return r.Eligible[0], true
}

// MostRecentSentPerNation returns, for each of the given nations, the highest uid
// among active contacts of that nation that were already sent. Nations without
// a sent contact map to 0.
func MostRecentSentPerNation(s Store, nations []string) map[string]int64 {
	out := make(map[string]int64, len(nations))
	for _, n := range nations {
		out[n] = 0
	}
	for _, c := range s.Active {
		last, ok := out[c.Nation]
		if !ok || !c.IsSent() {
			continue
		}
		if c.UID > last {
			out[c.Nation] = c.UID
		}
	}
	return out
}

// Select computes the contacts that may be emailed in the current session.
// A contact is eligible when its nation is selected, it was never sent and its
// uid is newer than the most recent sent contact of the same nation.
func Select(s Store, sel Selection) SelectionResult {
	wanted := make(map[string]struct{}, len(sel.Nations))
	for _, n := range sel.Nations {
		wanted[n] = struct{}{}
	}

	res := SelectionResult{
		MostRecentSent: MostRecentSentPerNation(s, sel.Nations),
	}

	for _, c := range s.Active {
		if _, ok := wanted[c.Nation]; !ok {
			continue
		}
		res.Selected = append(res.Selected, c)

		if c.IsSent() || c.UID <= res.MostRecentSent[c.Nation] {
			continue
		}
		res.NotSent = append(res.NotSent, c)
	}

	res.Eligible = res.NotSent
	if sel.MaxCount > 0 && len(res.Eligible) > sel.MaxCount {
		res.Eligible = res.Eligible[:sel.MaxCount]
	}

	return res
}
