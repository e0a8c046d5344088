package installments

import "errors"

var (
	// ErrInvalidScheduleParameters rejects inputs before any computation.
	ErrInvalidScheduleParameters = errors.New("installments: invalid schedule parameters")
	// ErrInvalidPayment rejects payments with a non-positive amount.
	ErrInvalidPayment = errors.New("installments: invalid payment")
	// ErrOverpayment marks payments exceeding the remaining balance.
	ErrOverpayment = errors.New("installments: overpayment")
	// ErrPlanConflict aborts a redistribution that would leave negative balances.
	ErrPlanConflict = errors.New("installments: plan conflict")
	// ErrAllocationDrift signals details covering more than a quota's value.
	ErrAllocationDrift = errors.New("installments: allocation drift")
)
