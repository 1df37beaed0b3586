// Package errcode defines the FiringErrorCode taxonomy (spec.md §7), shared
// between the Safety Supervisor and the Firing Engine so neither package
// needs to import the other to report a terminal condition.
package errcode

// FiringErrorCode enumerates every terminal condition a firing can end in.
type FiringErrorCode string

const (
	None           FiringErrorCode = "None"
	EmergencyStop  FiringErrorCode = "EmergencyStop"
	TempFault      FiringErrorCode = "TempFault"
	OverTemp       FiringErrorCode = "OverTemp"
	NotRising      FiringErrorCode = "NotRising"
	Runaway        FiringErrorCode = "Runaway"
	AutotuneFailed FiringErrorCode = "AutotuneFailed"
	QueueFull      FiringErrorCode = "QueueFull"
)
