package ledger

// OpenBatch opens a collection window. Batch ids may be reopened after close;
// the aggregate keeps accumulating.
func (l *Ledger) OpenBatch(caller Actor, id BatchID) error {
	return l.apply("open_batch", func(t *txn) error {
		err := check(t, caller,
			onlyOwner,
			whenNotPaused,
			validBatch(id),
			batchIs(id, false, ErrAlreadyOpen),
		)
		if err != nil {
			return err
		}

		t.setFlag(batchKey(id), true)
		t.emit(Event{Kind: EventBatchOpened, Actor: caller, Batch: id})

		return nil
	})
}

// CloseBatch closes a collection window.
func (l *Ledger) CloseBatch(caller Actor, id BatchID) error {
	return l.apply("close_batch", func(t *txn) error {
		err := check(t, caller,
			onlyOwner,
			whenNotPaused,
			validBatch(id),
			batchIs(id, true, ErrNotOpen),
		)
		if err != nil {
			return err
		}

		t.setFlag(batchKey(id), false)
		t.emit(Event{Kind: EventBatchClosed, Actor: caller, Batch: id})

		return nil
	})
}

// BatchState is a consistent read of one batch.
type BatchState struct {
	Open        bool               // Open reports whether submissions are accepted
	Aggregate   EncryptedAggregate // Aggregate is the serialized encrypted aggregate
	Fingerprint Hash               // Fingerprint binds the aggregate to the ledger identity
}

// Batch reads the open flag, the aggregate and its fingerprint in a single
// view. Unknown batches are closed with a zero aggregate.
func (l *Ledger) Batch(id BatchID) (BatchState, error) {
	var st BatchState

	err := l.view(func(t *txn) error {
		if err := validBatch(id)(t, Actor{}); err != nil {
			return err
		}

		open, err := t.getFlag(batchKey(id))
		if err != nil {
			return err
		}

		agg, err := l.snapshot(t, id)
		if err != nil {
			return err
		}

		identity, err := t.identity()
		if err != nil {
			return err
		}

		st = BatchState{Open: open, Aggregate: agg, Fingerprint: Fingerprint(agg, identity)}

		return nil
	})

	return st, err
}
