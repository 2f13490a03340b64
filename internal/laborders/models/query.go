package models

import "labtrail/internal/ownership"

// Query selects orders. Scope is always applied; a None scope yields nothing.
type Query struct {
	Scope    ownership.Scope
	Statuses []Status
}

// Matches evaluates q against one order in memory.
func (q Query) Matches(o *LabOrder) bool {
	if !q.Scope.Matches(o) {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, st := range q.Statuses {
		if o.Status == st {
			return true
		}
	}
	return false
}
