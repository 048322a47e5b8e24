package cmn

import "errors"

// Operator-facing error text (spec §6, §7) -- reproduced verbatim so
// GETSLOTMIGRATIONS / MIGRATESLOTS replies match the spec exactly.
var (
	ErrTargetNotPrimary   = errors.New("Target node is not a primary")
	ErrSourceIsTarget     = errors.New("Source node is target node itself")
	ErrNoSlotRanges       = errors.New("No slot ranges specified")
	ErrSpansMultipleShards = errors.New("Requested slots span multiple shards")
	ErrSlotsNotServed     = errors.New("Slots are not served by this node.")

	ErrUnexpectedTransition = errors.New("Unexpected state machine transition")
	ErrUnknownSubcommand    = errors.New("Unknown SYNCSLOTS subcommand used")
	ErrOOMDuringImport      = errors.New("Ran out of memory (OOM) during slot import")
	ErrDataFlushed          = errors.New("Data was flushed")
	ErrTimedOutNoInteraction = errors.New("Timed out after too long with no interaction")
	ErrTimedOutBeforeStream  = errors.New("Timed out before streaming completed")
	ErrAssignedToMyself      = errors.New("unexpectedly assigned to myself")
)

// ErrOverlap and ErrUnknownNode carry a dynamic argument, so they are
// formatted rather than sentinel, matching spec §6's indicative strings
// `Slot range … overlaps with previous range …` and `Unknown node name: …`.
// ErrOverlap takes the earlier range first and the newly parsed one second.
func ErrOverlap(prev, next string) error {
	return errors.New("Slot range " + next + " overlaps with previous range " + prev)
}

func ErrUnknownNode(id string) error {
	return errors.New("Unknown node name: " + id)
}

func ErrAlreadyMigrating(slot int) error {
	return errors.New("I am already migrating slot " + itoa(slot) + ".")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
