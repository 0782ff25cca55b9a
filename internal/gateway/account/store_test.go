package account

import "testing"

func TestGetPlanForKeyComposesLookups(t *testing.T) {
	s := NewStore()
	s.UpsertPlan(Plan{PlanID: 1, Name: "pro", RPSLimit: 5})
	s.UpsertAccount(Account{AccountID: 10, Email: "a@example.com", PlanID: 1})
	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: true})

	p, ok := s.GetPlanForKey("hash-a")
	if !ok || p.PlanID != 1 {
		t.Fatalf("expected plan 1, got %+v ok=%v", p, ok)
	}
}

func TestUpsertAPIKeyInvalidatesRenamedHash(t *testing.T) {
	s := NewStore()
	s.UpsertPlan(Plan{PlanID: 1, RPSLimit: 5})
	s.UpsertAccount(Account{AccountID: 10, PlanID: 1})
	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "old-hash", IsActive: true})

	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "new-hash", IsActive: true})

	if _, ok := s.GetPlanForKey("old-hash"); ok {
		t.Fatalf("expected old hash to no longer resolve")
	}
	if _, ok := s.GetPlanForKey("new-hash"); !ok {
		t.Fatalf("expected new hash to resolve")
	}
}

func TestUpsertAPIKeyInactiveDoesNotResolve(t *testing.T) {
	s := NewStore()
	s.UpsertPlan(Plan{PlanID: 1, RPSLimit: 5})
	s.UpsertAccount(Account{AccountID: 10, PlanID: 1})
	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: false})

	if _, ok := s.GetPlanForKey("hash-a"); ok {
		t.Fatalf("expected inactive key to not resolve")
	}
}

func TestDeleteAPIKeyRemovesViaReverseIndex(t *testing.T) {
	s := NewStore()
	s.UpsertPlan(Plan{PlanID: 1, RPSLimit: 5})
	s.UpsertAccount(Account{AccountID: 10, PlanID: 1})
	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: true})

	s.DeleteAPIKey(100)

	if _, ok := s.GetPlanForKey("hash-a"); ok {
		t.Fatalf("expected deleted key to not resolve")
	}
}

func TestGetPlanForKeyFailsOnDanglingPlan(t *testing.T) {
	s := NewStore()
	s.UpsertAccount(Account{AccountID: 10, PlanID: 999})
	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: true})

	if _, ok := s.GetPlanForKey("hash-a"); ok {
		t.Fatalf("expected dangling plan reference to fail resolution")
	}
}

func TestAdvanceCursorNeverRegresses(t *testing.T) {
	s := NewStore()
	s.AdvanceCursor(5)
	s.AdvanceCursor(3)
	if got := s.Cursor(); got != 5 {
		t.Fatalf("cursor = %d, want 5", got)
	}
}

func TestGetKeyContextRoundTrip(t *testing.T) {
	s := NewStore()
	s.UpsertPlan(Plan{PlanID: 1, RPSLimit: 5})
	s.UpsertAccount(Account{AccountID: 10, PlanID: 1})
	s.UpsertAPIKey(APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: true})

	ctx, ok := s.GetKeyContext("hash-a")
	if !ok {
		t.Fatalf("expected key context to resolve")
	}
	if ctx.AccountID != 10 || ctx.KeyID != 100 || ctx.PlanID != 1 {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}
