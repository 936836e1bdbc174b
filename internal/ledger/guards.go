package ledger

// guard is a precondition checked before an operation mutates state.
type guard func(t *txn, caller Actor) error

// check runs guards in order and returns the first failure.
func check(t *txn, caller Actor, guards ...guard) error {
	for _, g := range guards {
		if err := g(t, caller); err != nil {
			return err
		}
	}
	return nil
}

// onlyOwner fails with ErrNotAuthorized unless caller is the owner.
func onlyOwner(t *txn, caller Actor) error {
	owner, ok, err := t.getActor(keyOwner)
	if err != nil {
		return err
	}

	if !ok {
		return ErrNotInitialized
	}

	if owner != caller {
		return ErrNotAuthorized
	}

	return nil
}

// onlyProvider fails with ErrNotAuthorized unless caller is allow-listed.
func onlyProvider(t *txn, caller Actor) error {
	ok, err := t.getFlag(providerKey(caller))
	if err != nil {
		return err
	}

	if !ok {
		return ErrNotAuthorized
	}

	return nil
}

// whenNotPaused fails with ErrSystemPaused while the pause switch is set.
func whenNotPaused(t *txn, _ Actor) error {
	paused, err := t.getFlag(keyPaused)
	if err != nil {
		return err
	}

	if paused {
		return ErrSystemPaused
	}

	return nil
}

// validBatch fails with ErrInvalidParameter for batch 0.
func validBatch(id BatchID) guard {
	return func(_ *txn, _ Actor) error {
		if id == 0 {
			return ErrInvalidParameter
		}
		return nil
	}
}

// batchIs fails unless the batch open flag equals open.
func batchIs(id BatchID, open bool, failure error) guard {
	return func(t *txn, _ Actor) error {
		isOpen, err := t.getFlag(batchKey(id))
		if err != nil {
			return err
		}

		if isOpen != open {
			return failure
		}

		return nil
	}
}
