package ledger

// GrantProvider adds target to the provider allow-list. Granting an existing
// provider still emits ProviderChanged.
func (l *Ledger) GrantProvider(caller, target Actor) error {
	return l.setProvider("grant", caller, target, true)
}

// RevokeProvider removes target from the provider allow-list.
func (l *Ledger) RevokeProvider(caller, target Actor) error {
	return l.setProvider("revoke", caller, target, false)
}

func (l *Ledger) setProvider(op string, caller, target Actor, granted bool) error {
	return l.apply(op, func(t *txn) error {
		if err := check(t, caller, onlyOwner); err != nil {
			return err
		}

		if target.IsZero() {
			return ErrInvalidParameter
		}

		t.setFlag(providerKey(target), granted)
		t.emit(Event{
			Kind:    EventProviderChanged,
			Actor:   caller,
			Subject: target,
			Flag:    granted,
		})

		return nil
	})
}

// TransferOwnership hands the owner role to next.
func (l *Ledger) TransferOwnership(caller, next Actor) error {
	return l.apply("transfer_ownership", func(t *txn) error {
		if err := check(t, caller, onlyOwner); err != nil {
			return err
		}

		if next.IsZero() {
			return ErrInvalidParameter
		}

		t.set(keyOwner, next[:])
		t.emit(Event{Kind: EventOwnershipTransferred, Actor: caller, Subject: next})

		return nil
	})
}

// Owner returns the current owner.
func (l *Ledger) Owner() (Actor, error) {
	var owner Actor

	err := l.view(func(t *txn) error {
		a, ok, err := t.getActor(keyOwner)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotInitialized
		}
		owner = a
		return nil
	})

	return owner, err
}

// IsOwner reports whether a is the owner.
func (l *Ledger) IsOwner(a Actor) (bool, error) {
	owner, err := l.Owner()
	if err != nil {
		return false, err
	}
	return owner == a, nil
}

// IsProvider reports whether a is on the provider allow-list.
func (l *Ledger) IsProvider(a Actor) (bool, error) {
	var ok bool

	err := l.view(func(t *txn) error {
		var err error
		ok, err = t.getFlag(providerKey(a))
		return err
	})

	return ok, err
}
