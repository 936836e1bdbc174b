package ledger

import (
	"encoding/binary"
	"math"
)

// SetCooldown changes the minimum interval between two actions of the same
// class by the same actor.
func (l *Ledger) SetCooldown(caller Actor, seconds uint64) error {
	return l.apply("set_cooldown", func(t *txn) error {
		if err := check(t, caller, onlyOwner); err != nil {
			return err
		}

		if seconds == 0 {
			return ErrInvalidParameter
		}

		old, err := t.getUint64(keyCooldown)
		if err != nil {
			return err
		}

		t.setUint64(keyCooldown, seconds)
		t.emit(Event{Kind: EventCooldownChanged, Actor: caller, Old: old, New: seconds})

		return nil
	})
}

// Cooldown returns the configured cooldown in seconds.
func (l *Ledger) Cooldown() (uint64, error) {
	var seconds uint64

	err := l.view(func(t *txn) error {
		var err error
		seconds, err = t.getUint64(keyCooldown)
		return err
	})

	return seconds, err
}

// cooldownElapsed fails with ErrCooldownActive while now < last + cooldown,
// in whole Unix seconds. A deadline past the uint64 range saturates, so a huge
// cooldown never wraps into the past. An actor that never acted on the
// channel passes.
func cooldownElapsed(ch channel) guard {
	return func(t *txn, caller Actor) error {
		v, err := t.get(cooldownKey(ch, caller))
		if err != nil {
			return err
		}

		if len(v) != 8 {
			return nil
		}

		seconds, err := t.getUint64(keyCooldown)
		if err != nil {
			return err
		}

		last := binary.LittleEndian.Uint64(v)

		deadline := last + seconds
		if deadline < last {
			deadline = math.MaxUint64
		}

		if t.unixNow() < deadline {
			return ErrCooldownActive
		}

		return nil
	}
}

// stamp records now as the caller's last action on the channel.
func (t *txn) stamp(ch channel, caller Actor) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, t.unixNow())
	t.set(cooldownKey(ch, caller), buf)
}

// unixNow is the transaction time in Unix seconds, clamped at zero.
func (t *txn) unixNow() uint64 {
	now := t.now.Unix()
	if now < 0 {
		return 0
	}

	return uint64(now)
}
