package model

import "time"

// TaskStatus is one of the states in the task state machine (spec §4.D).
type TaskStatus string

const (
	TaskNew                      TaskStatus = "NEW"
	TaskRequested                TaskStatus = "REQUESTED"
	TaskQueued                   TaskStatus = "QUEUED"
	TaskRunning                  TaskStatus = "RUNNING"
	TaskProcessing                TaskStatus = "PROCESSING"
	TaskStopRequested             TaskStatus = "STOP_REQUESTED"
	TaskStopWaiting               TaskStatus = "STOP_WAITING"
	TaskStopped                   TaskStatus = "STOPPED"
	TaskDeleteRequested           TaskStatus = "DELETE_REQUESTED"
	TaskDeleteUltimateRequested   TaskStatus = "DELETE_ULTIMATE_REQUESTED"
	TaskDeleteWaiting             TaskStatus = "DELETE_WAITING"
	TaskDeleteUltimateWaiting     TaskStatus = "DELETE_ULTIMATE_WAITING"
	TaskDone                      TaskStatus = "DONE"
	TaskInterrupted               TaskStatus = "INTERRUPTED"
)

// ScannerKind gates feature availability per spec §3.
type ScannerKind string

const (
	ScannerCVE                    ScannerKind = "CVE"
	ScannerOSP                    ScannerKind = "OSP"
	ScannerOSPSensor              ScannerKind = "OSP_SENSOR"
	ScannerHTTP                   ScannerKind = "HTTP_SCANNER"
	ScannerHTTPSensor             ScannerKind = "HTTP_SCANNER_SENSOR"
	ScannerAgentController        ScannerKind = "AGENT_CONTROLLER"
	ScannerAgentControllerSensor  ScannerKind = "AGENT_CONTROLLER_SENSOR"
	ScannerContainerImage         ScannerKind = "CONTAINER_IMAGE"
)

// Task is the uuid-identified resource driving one scan lifecycle.
// Fields map 1:1 onto spec §3's Task entity.
type Task struct {
	ID             int64      `db:"id"`
	UUID           string     `db:"uuid"`
	Name           string     `db:"name"`
	Owner          string     `db:"owner"` // owner uuid
	ScannerUUID    string     `db:"scanner_uuid"`
	TargetUUID     string     `db:"target_uuid"`
	ConfigUUID     string     `db:"config_uuid"`
	ScheduleUUID   string     `db:"schedule_uuid"`
	AgentGroupUUID string     `db:"agent_group_uuid"`
	Preferences    string     `db:"preferences"` // JSON blob, opaque to the core
	Status         TaskStatus `db:"status"`
	CurrentReport  string     `db:"current_report_uuid"` // empty when none
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Permission names used by StateMachine.apply's caller-permission checks.
const (
	PermStartTask  = "start_task"
	PermStopTask   = "stop_task"
	PermResumeTask = "resume_task"
	PermModifyTask = "modify_task"
	PermDeleteTask = "delete_task"
)
