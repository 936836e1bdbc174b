package ledger

// Pause sets the global pause switch.
func (l *Ledger) Pause(caller Actor) error {
	return l.apply("pause", func(t *txn) error {
		if err := check(t, caller, onlyOwner); err != nil {
			return err
		}

		paused, err := t.getFlag(keyPaused)
		if err != nil {
			return err
		}

		if paused {
			return ErrAlreadyPaused
		}

		t.setFlag(keyPaused, true)
		t.emit(Event{Kind: EventPaused, Actor: caller})

		return nil
	})
}

// Unpause clears the pause switch. Unpausing a running ledger is allowed and
// still emits UnpausedContract.
func (l *Ledger) Unpause(caller Actor) error {
	return l.apply("unpause", func(t *txn) error {
		if err := check(t, caller, onlyOwner); err != nil {
			return err
		}

		t.setFlag(keyPaused, false)
		t.emit(Event{Kind: EventUnpaused, Actor: caller})

		return nil
	})
}

// Paused reports the pause switch.
func (l *Ledger) Paused() (bool, error) {
	var paused bool

	err := l.view(func(t *txn) error {
		var err error
		paused, err = t.getFlag(keyPaused)
		return err
	})

	return paused, err
}
