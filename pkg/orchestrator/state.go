package orchestrator

import (
	"fmt"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// Slot names one operation slot.
type Slot string

// Operation slots.
const (
	SlotProtect     Slot = "protect"
	SlotReveal      Slot = "reveal"
	SlotBulkProtect Slot = "bulk_protect"
	SlotBulkReveal  Slot = "bulk_reveal"
	SlotHealth      Slot = "health"
)

// Slots lists every slot in display order.
func Slots() []Slot {
	return []Slot{SlotProtect, SlotReveal, SlotBulkProtect, SlotBulkReveal, SlotHealth}
}

// ParseSlot maps a slot name to a Slot.
func ParseSlot(name string) (Slot, error) {
	for _, slot := range Slots() {
		if string(slot) == name {
			return slot, nil
		}
	}
	return "", fmt.Errorf("unknown slot %q", name)
}

// Phase is the lifecycle position of a slot.
type Phase int

// Slot phases. Validating is transient; a rejected input returns the slot to Idle.
const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseInFlight
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseInFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SlotState is the observable state of one slot. Result is set for the four data
// operations and Health for the health slot; both are nil until the first completion
// and while an invocation is in flight.
type SlotState struct {
	Phase   Phase
	Loading bool
	Result  *domain.OperationResult
	Health  *domain.HealthStatus
}

// Inputs holds the operator-editable fields read by the slots.
type Inputs struct {
	Protect        string
	Reveal         string
	RevealUsername string
	BulkProtect    string
	BulkReveal     string
}

type slotState struct {
	phase  Phase
	result *domain.OperationResult
	health *domain.HealthStatus
}

func (s *slotState) snapshot() SlotState {
	out := SlotState{
		Phase:   s.phase,
		Loading: s.phase != PhaseIdle,
	}
	if s.result != nil {
		r := *s.result
		r.ProtectedDataArray = append([]string(nil), s.result.ProtectedDataArray...)
		r.DataArray = append([]string(nil), s.result.DataArray...)
		out.Result = &r
	}
	if s.health != nil {
		h := *s.health
		out.Health = &h
	}
	return out
}
