// Package steps describes multi-step operations: the fixed rebuild
// pipeline and the generic step status model shared with deployments.
package steps

import (
	"fmt"
	"strings"
)

// RebuildStep is one stage of a server rebuild.
type RebuildStep string

const (
	StoppingServer       RebuildStep = "STOPPING_SERVER"
	DeletingServer       RebuildStep = "DELETING_SERVER"
	InstallingOS         RebuildStep = "INSTALLING_OS"
	ConfiguringResources RebuildStep = "CONFIGURING_RESOURCES"
	BootingServer        RebuildStep = "BOOTING_SERVER"
	Finalizing           RebuildStep = "FINALIZING"
)

// StepInfo is the display and dispatch metadata for a rebuild step.
type StepInfo struct {
	// TaskType is the hypervisor task started for this step. Empty when
	// the step runs no task.
	TaskType string

	Label string

	// BasePercent is the overall progress shown when the step starts.
	BasePercent float64

	// HasSubProgress is true when the step's task reports its own
	// progress, interpolated between BasePercent and the next step's.
	HasSubProgress bool
}

// Order is the rebuild sequence. Steps run strictly in this order.
var Order = []RebuildStep{
	StoppingServer,
	DeletingServer,
	InstallingOS,
	ConfiguringResources,
	BootingServer,
	Finalizing,
}

// Catalog maps each rebuild step to its metadata.
var Catalog = map[RebuildStep]StepInfo{
	StoppingServer:       {TaskType: "qmstop", Label: "Stopping server", BasePercent: 0},
	DeletingServer:       {TaskType: "qmdestroy", Label: "Deleting server", BasePercent: 10},
	InstallingOS:         {TaskType: "qmclone", Label: "Installing operating system", BasePercent: 20, HasSubProgress: true},
	ConfiguringResources: {TaskType: "qmconfig", Label: "Configuring resources", BasePercent: 75},
	BootingServer:        {TaskType: "qmstart", Label: "Booting server", BasePercent: 90},
	Finalizing:           {Label: "Finalizing", BasePercent: 100},
}

// First is the step a rebuild starts with.
func First() RebuildStep { return Order[0] }

// ParseStep validates s (case-insensitive) as a rebuild step.
func ParseStep(s string) (RebuildStep, error) {
	step := RebuildStep(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := Catalog[step]; !ok {
		return "", fmt.Errorf("unknown rebuild step %q", s)
	}
	return step, nil
}

// Index returns the step's position in Order, or -1.
func Index(step RebuildStep) int {
	for i, s := range Order {
		if s == step {
			return i
		}
	}
	return -1
}

// Next returns the step after step. ok is false for the last step or an
// unknown one.
func Next(step RebuildStep) (next RebuildStep, ok bool) {
	i := Index(step)
	if i < 0 || i+1 >= len(Order) {
		return "", false
	}
	return Order[i+1], true
}

// IsLast reports whether step ends the pipeline.
func IsLast(step RebuildStep) bool {
	return step == Order[len(Order)-1]
}

// CanTransition reports whether a rebuild may move from one step to
// another: only to the immediate successor.
func CanTransition(from, to RebuildStep) bool {
	next, ok := Next(from)
	return ok && next == to
}

// ProgressPercentage returns the step's base progress.
func ProgressPercentage(step RebuildStep) float64 { return Catalog[step].BasePercent }

// HasProgress reports whether the step accepts sub-progress.
func HasProgress(step RebuildStep) bool { return Catalog[step].HasSubProgress }

// TaskType returns the hypervisor task type for step.
func TaskType(step RebuildStep) string { return Catalog[step].TaskType }

// Label returns the human-readable name for step.
func Label(step RebuildStep) string {
	if info, ok := Catalog[step]; ok {
		return info.Label
	}
	return string(step)
}

// Interpolate maps sub-progress (0–100) within step onto overall progress.
// Steps without sub-progress always report their base.
func Interpolate(step RebuildStep, sub float64) float64 {
	base := ProgressPercentage(step)
	if !HasProgress(step) {
		return base
	}
	next, ok := Next(step)
	if !ok {
		return base
	}
	sub = max(0, min(sub, 100))
	return base + sub/100*(ProgressPercentage(next)-base)
}
