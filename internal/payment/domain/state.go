package domain

type IntentStatus string

const (
	IntentStatusPending        IntentStatus = "pending"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusFailed         IntentStatus = "failed"
)

func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusPending, IntentStatusRequiresAction, IntentStatusSucceeded, IntentStatusFailed:
		return true
	}
	return false
}

func (s IntentStatus) Terminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed
}

// NextIntentStatus applies a reported status to the current one. A report
// that does not move the intent (pending on pending) returns changed=false.
// Terminal intents never move and return ErrAlreadyTerminal.
func NextIntentStatus(from, to IntentStatus) (IntentStatus, bool, error) {
	if !to.Valid() {
		return from, false, ErrInvalidTransition
	}
	if from.Terminal() {
		return from, false, ErrAlreadyTerminal
	}
	switch from {
	case IntentStatusPending:
		if to == IntentStatusPending {
			return from, false, nil
		}
		return to, true, nil
	case IntentStatusRequiresAction:
		switch to {
		case IntentStatusSucceeded, IntentStatusFailed:
			return to, true, nil
		default:
			return from, false, nil
		}
	}
	return from, false, ErrInvalidTransition
}

type AttemptStatus string

const (
	AttemptStatusCreated   AttemptStatus = "created"
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusPaid      AttemptStatus = "paid"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusCancelled AttemptStatus = "cancelled"
	AttemptStatusRefunded  AttemptStatus = "refunded"
)

type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingIgnored   ProcessingStatus = "ignored"
	ProcessingProcessed ProcessingStatus = "processed"
	ProcessingFailed    ProcessingStatus = "failed"
)

func (s ProcessingStatus) Final() bool {
	return s == ProcessingProcessed || s == ProcessingIgnored
}

type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusApproved RefundStatus = "approved"
	RefundStatusRejected RefundStatus = "rejected"
	RefundStatusFailed   RefundStatus = "failed"
)

// Counts reports whether the refund reserves part of the refundable amount.
func (s RefundStatus) Counts() bool {
	return s == RefundStatusPending || s == RefundStatusApproved
}
