package classify

// GroupActions merges actions describing the same logical movement by summing their
// amounts. Two actions match when they share action type, from and to, and the same
// populated sent or received asset. The first occurrence keeps its position.
// Grouping an already grouped list returns it unchanged.
func GroupActions(actions []Action) []Action {
	grouped := make([]Action, 0, len(actions))
	for _, a := range actions {
		merged := false
		for i := range grouped {
			if sameMovement(grouped[i], a) {
				grouped[i].Amount = grouped[i].Amount.Add(a.Amount)
				merged = true
				break
			}
		}
		if !merged {
			grouped = append(grouped, a)
		}
	}
	return grouped
}

func sameMovement(a, b Action) bool {
	if a.ActionType != b.ActionType || a.From != b.From || a.To != b.To {
		return false
	}
	if a.Sent != "" && a.Sent == b.Sent {
		return true
	}
	if a.Received != "" && a.Received == b.Received {
		return true
	}
	// Asset-less bookkeeping actions (e.g. FREEZE without a frozen account).
	return a.Sent == "" && a.Received == "" && b.Sent == "" && b.Received == ""
}
