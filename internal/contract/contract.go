// Package contract constructs DelegationContract values: the authority
// envelope (SLO, permission boundary, monitoring policy) a delegator
// grants a delegatee for one task.
package contract

import (
	"time"

	"github.com/google/uuid"

	"github.com/ocx/delegation-mesh/internal/core"
)

// New builds a contract in ContractActive status, stamped with the
// current time.
func New(delegator, delegatee, taskID, taskText string, slo core.SLO, boundary core.PermissionBoundary, monitoring core.MonitoringPolicy) core.DelegationContract {
	now := time.Now().UTC()
	return core.DelegationContract{
		ContractID:         "ctr-" + uuid.NewString(),
		Delegator:          delegator,
		Delegatee:          delegatee,
		TaskID:             taskID,
		TaskText:           taskText,
		SLO:                slo,
		PermissionBoundary: boundary,
		Monitoring:         monitoring,
		Status:             core.ContractActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Complete, Violate, and Cancel are the only terminal transitions a
// contract can make; each stamps UpdatedAt.
func Complete(c core.DelegationContract) core.DelegationContract {
	c.Status = core.ContractCompleted
	c.UpdatedAt = time.Now().UTC()
	return c
}

func Violate(c core.DelegationContract) core.DelegationContract {
	c.Status = core.ContractViolated
	c.UpdatedAt = time.Now().UTC()
	return c
}

func Cancel(c core.DelegationContract) core.DelegationContract {
	c.Status = core.ContractCancelled
	c.UpdatedAt = time.Now().UTC()
	return c
}

// IsTerminal reports whether a contract has left the active state.
func IsTerminal(c core.DelegationContract) bool {
	return c.Status != core.ContractActive
}
