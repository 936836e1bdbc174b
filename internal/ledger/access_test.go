package ledger

import "testing"

// TestGenesis_OnlyOnce verifies that a second genesis is rejected.
func TestGenesis_OnlyOnce(t *testing.T) {
	env := newTestEnv(t)

	err := env.ledger.Genesis(testOutsider, 10, Hash{0x01})
	expectKind(t, err, ErrAlreadyInitialized)

	owner, err := env.ledger.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}

	if owner != testOwner {
		t.Fatalf("owner changed to %s", owner)
	}
}

// TestGenesis_RejectsZeroCooldown verifies that genesis validates its parameters.
func TestGenesis_RejectsZeroCooldown(t *testing.T) {
	env := &testEnv{
		path:   t.TempDir(),
		clock:  &testClock{},
		oracle: &fakeOracle{},
	}
	env.open(t)

	err := env.ledger.Genesis(testOwner, 0, testIdentity)
	expectKind(t, err, ErrInvalidParameter)

	ok, err := env.ledger.Initialized()
	if err != nil {
		t.Fatalf("initialized: %v", err)
	}

	if ok {
		t.Fatal("rejected genesis must not initialize the ledger")
	}
}

// TestGrantProvider_OwnerOnly verifies that only the owner manages providers.
func TestGrantProvider_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)

	expectKind(t, env.ledger.GrantProvider(testProvA, testOutsider), ErrNotAuthorized)
	expectKind(t, env.ledger.RevokeProvider(testOutsider, testProvA), ErrNotAuthorized)

	ok, err := env.ledger.IsProvider(testOutsider)
	if err != nil {
		t.Fatalf("is provider: %v", err)
	}

	if ok {
		t.Fatal("outsider must not be a provider")
	}
}

// TestGrantRevokeProvider verifies allow-list changes and their events.
func TestGrantRevokeProvider(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.GrantProvider(testOwner, testOutsider); err != nil {
		t.Fatalf("grant: %v", err)
	}

	e := env.lastEvent(t)
	if e.Kind != EventProviderChanged || e.Subject != testOutsider || !e.Flag {
		t.Fatalf("unexpected grant event: %+v", e)
	}

	if err := env.ledger.RevokeProvider(testOwner, testOutsider); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	e = env.lastEvent(t)
	if e.Kind != EventProviderChanged || e.Subject != testOutsider || e.Flag {
		t.Fatalf("unexpected revoke event: %+v", e)
	}

	ok, err := env.ledger.IsProvider(testOutsider)
	if err != nil {
		t.Fatalf("is provider: %v", err)
	}

	if ok {
		t.Fatal("revoked actor is still a provider")
	}
}

// TestTransferOwnership verifies that the old owner loses its rights.
func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.TransferOwnership(testOwner, testOutsider); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	expectKind(t, env.ledger.Pause(testOwner), ErrNotAuthorized)

	if err := env.ledger.Pause(testOutsider); err != nil {
		t.Fatalf("new owner pause: %v", err)
	}

	ok, err := env.ledger.IsOwner(testOutsider)
	if err != nil || !ok {
		t.Fatalf("expected new owner, ok=%v err=%v", ok, err)
	}

	expectKind(t, env.ledger.TransferOwnership(testOutsider, Actor{}), ErrInvalidParameter)
}

// TestGuardsRunInOrder verifies that the first failing guard wins.
func TestGuardsRunInOrder(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.Pause(testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// A non-owner on a paused ledger is rejected as unauthorized first.
	expectKind(t, env.ledger.OpenBatch(testOutsider, 1), ErrNotAuthorized)

	// A non-provider on a paused ledger hits the pause switch first.
	expectKind(t, env.ledger.Submit(testOutsider, 1, []byte{0, 0, 0, 1}), ErrSystemPaused)
}
