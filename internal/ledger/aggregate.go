package ledger

import (
	"fmt"

	"VeilSum/internal/fhe"
)

// Submit folds an encrypted reading into an open batch.
func (l *Ledger) Submit(caller Actor, id BatchID, ciphertext []byte) error {
	return l.apply("submit", func(t *txn) error {
		err := check(t, caller,
			whenNotPaused,
			onlyProvider,
			validBatch(id),
			batchIs(id, true, ErrNotOpen),
			cooldownElapsed(channelSubmit),
		)
		if err != nil {
			return err
		}

		ct, err := l.scheme.Deserialize(ciphertext)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
		}

		if err := l.fold(t, id, ct); err != nil {
			return err
		}

		t.stamp(channelSubmit, caller)
		t.emit(Event{
			Kind:       EventDataSubmitted,
			Actor:      caller,
			Batch:      id,
			Ciphertext: ciphertext,
		})

		return nil
	})
}

// fold adds ct to the batch sum and one to its count. A batch without an
// aggregate starts from the encryption of zero.
func (l *Ledger) fold(t *txn, id BatchID, ct fhe.Ciphertext) error {
	sum, count, err := l.aggregate(t, id)
	if err != nil {
		return err
	}

	if sum, err = l.scheme.Add(sum, ct); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	if count, err = l.scheme.Add(count, l.scheme.EncryptLiteral(1)); err != nil {
		return fmt.Errorf("add count:\n%w", err)
	}

	t.set(aggregateKey(id), encodeAggregate(EncryptedAggregate{
		Sum:   l.scheme.Serialize(sum),
		Count: l.scheme.Serialize(count),
	}))

	return nil
}

// aggregate returns the current sum and count of a batch, the zero pair when
// nothing was folded yet.
func (l *Ledger) aggregate(t *txn, id BatchID) (sum, count fhe.Ciphertext, err error) {
	raw, err := t.get(aggregateKey(id))
	if err != nil {
		return nil, nil, err
	}

	if raw == nil {
		return l.scheme.Zero(), l.scheme.Zero(), nil
	}

	agg, err := decodeAggregate(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("batch %d:\n%w", id, err)
	}

	if sum, err = l.scheme.Deserialize(agg.Sum); err != nil {
		return nil, nil, fmt.Errorf("stored sum of batch %d:\n%w", id, err)
	}

	if count, err = l.scheme.Deserialize(agg.Count); err != nil {
		return nil, nil, fmt.Errorf("stored count of batch %d:\n%w", id, err)
	}

	return sum, count, nil
}

// snapshot returns the serialized aggregate of a batch as it would be sent to
// the oracle.
func (l *Ledger) snapshot(t *txn, id BatchID) (EncryptedAggregate, error) {
	sum, count, err := l.aggregate(t, id)
	if err != nil {
		return EncryptedAggregate{}, err
	}

	return EncryptedAggregate{
		Sum:   l.scheme.Serialize(sum),
		Count: l.scheme.Serialize(count),
	}, nil
}

// EncryptedAggregate returns the serialized aggregate of a batch.
func (l *Ledger) EncryptedAggregate(id BatchID) (EncryptedAggregate, error) {
	var agg EncryptedAggregate

	err := l.view(func(t *txn) error {
		if err := validBatch(id)(t, Actor{}); err != nil {
			return err
		}

		var err error
		agg, err = l.snapshot(t, id)
		return err
	})

	return agg, err
}
