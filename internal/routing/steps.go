package routing

import (
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/store"
)

// Persisted step kind tags.
const (
	KindAdminGate = "admin_gate"
	KindLoyalty   = "loyalty"
	KindLeastBusy = "least_busy"
	KindFallback  = "fallback"
)

// adminGateStep finalizes admin-only contacts to the supervision sentinel
// so they never reach a regular operator.
type adminGateStep struct {
	next int
}

func (s *adminGateStep) Kind() string { return KindAdminGate }

func (s *adminGateStep) Evaluate(contact *models.Contact) (Verdict, error) {
	if contact.AdminOnly {
		return Verdict{Final: true, Owner: Supervision}, nil
	}
	return Verdict{Next: s.next}, nil
}

// loyaltyStep matches a returning contact to the operator who handled their
// most recent conversation, provided that operator is still in the sector.
type loyaltyStep struct {
	presence store.PresenceStore
	tenantID string
	sectorID string
	next     int
}

func (s *loyaltyStep) Kind() string { return KindLoyalty }

func (s *loyaltyStep) Evaluate(contact *models.Contact) (Verdict, error) {
	op, err := s.presence.LastOperatorFor(s.tenantID, contact.ID)
	if err != nil {
		return Verdict{}, err
	}
	if op != nil && op.SectorID == s.sectorID {
		return Verdict{Final: true, Owner: OwnerRef{Kind: models.OwnerOperator, OperatorID: op.ID}}, nil
	}
	return Verdict{Next: s.next}, nil
}

// leastBusyStep picks the online operator with the fewest open
// conversations; ties break on the lowest operator id, which the presence
// store's id-ascending ordering makes deterministic. Advances when nobody
// is online.
type leastBusyStep struct {
	presence store.PresenceStore
	tenantID string
	sectorID string
	next     int
}

func (s *leastBusyStep) Kind() string { return KindLeastBusy }

func (s *leastBusyStep) Evaluate(contact *models.Contact) (Verdict, error) {
	ops, err := s.presence.ListOnlineOperators(s.tenantID, s.sectorID)
	if err != nil {
		return Verdict{}, err
	}
	if len(ops) == 0 {
		return Verdict{Next: s.next}, nil
	}

	var best *models.Operator
	var bestCount int64
	for i := range ops {
		n, err := s.presence.CountOpenConversations(ops[i].ID)
		if err != nil {
			return Verdict{}, err
		}
		if best == nil || n < bestCount {
			best = &ops[i]
			bestCount = n
		}
	}
	return Verdict{Final: true, Owner: OwnerRef{Kind: models.OwnerOperator, OperatorID: best.ID}}, nil
}

// fallbackStep always finalizes: to a configured default operator when one
// is set, otherwise to the supervision sentinel. It never advances, so a
// chain ending here can never dead-end.
type fallbackStep struct {
	operatorID uint
}

func (s *fallbackStep) Kind() string { return KindFallback }

func (s *fallbackStep) Evaluate(contact *models.Contact) (Verdict, error) {
	if s.operatorID > 0 {
		return Verdict{Final: true, Owner: OwnerRef{Kind: models.OwnerOperator, OperatorID: s.operatorID}}, nil
	}
	return Verdict{Final: true, Owner: Supervision}, nil
}
