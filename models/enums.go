package models

// BatchStatus is the explicit state enum for the production batch lifecycle.
// Legal movement between statuses is defined solely by the transition table
// in the workflow package; status strings are never compared ad hoc.
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "PENDING"
	BatchStatusMaterialRequested   BatchStatus = "MATERIAL_REQUESTED"
	BatchStatusMaterialAllocated   BatchStatus = "MATERIAL_ALLOCATED"
	BatchStatusAssignedToCutter    BatchStatus = "ASSIGNED_TO_CUTTER"
	BatchStatusCuttingInProgress   BatchStatus = "CUTTING_IN_PROGRESS"
	BatchStatusCuttingVerified     BatchStatus = "CUTTING_VERIFIED"
	BatchStatusAssignedToSewer     BatchStatus = "ASSIGNED_TO_SEWER"
	BatchStatusSewingInProgress    BatchStatus = "SEWING_IN_PROGRESS"
	BatchStatusSewingVerified      BatchStatus = "SEWING_VERIFIED"
	BatchStatusAssignedToFinisher  BatchStatus = "ASSIGNED_TO_FINISHER"
	BatchStatusFinishingInProgress BatchStatus = "FINISHING_IN_PROGRESS"
	BatchStatusCompleted           BatchStatus = "COMPLETED"
	BatchStatusCancelled           BatchStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCancelled
}

// Stage identifies one of the three production stages. Cutting, sewing and
// finishing tasks share one entity tagged by stage.
type Stage string

const (
	StageCutting   Stage = "CUTTING"
	StageSewing    Stage = "SEWING"
	StageFinishing Stage = "FINISHING"
)

func (s Stage) Valid() bool {
	switch s {
	case StageCutting, StageSewing, StageFinishing:
		return true
	}
	return false
}

type StockTransactionType string

const (
	StockTransactionTypeIn         StockTransactionType = "IN"
	StockTransactionTypeOut        StockTransactionType = "OUT"
	StockTransactionTypeAdjustment StockTransactionType = "ADJUSTMENT"
	StockTransactionTypeReturn     StockTransactionType = "RETURN"
)

func (t StockTransactionType) Valid() bool {
	switch t {
	case StockTransactionTypeIn, StockTransactionTypeOut, StockTransactionTypeAdjustment, StockTransactionTypeReturn:
		return true
	}
	return false
}

type AllocationStatus string

const (
	AllocationStatusRequested AllocationStatus = "REQUESTED"
	AllocationStatusAllocated AllocationStatus = "ALLOCATED"
	AllocationStatusRejected  AllocationStatus = "REJECTED"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusVerified   TaskStatus = "VERIFIED"
)

// Role is supplied by the identity collaborator; the engine only authorizes
// against it, it never authenticates.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleProductionLead Role = "PRODUCTION_LEAD"
	RoleWarehouse      Role = "WAREHOUSE"
	RoleQC             Role = "QC"
	RoleCutter         Role = "CUTTER"
	RoleSewer          Role = "SEWER"
	RoleFinisher       Role = "FINISHER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProductionLead, RoleWarehouse, RoleQC, RoleCutter, RoleSewer, RoleFinisher:
		return true
	}
	return false
}

type NotificationType string

const (
	NotificationTypeTaskAssigned   NotificationType = "TASK_ASSIGNED"
	NotificationTypeBatchAdvanced  NotificationType = "BATCH_ADVANCED"
	NotificationTypeBatchCancelled NotificationType = "BATCH_CANCELLED"
)

// TimelineEvent names for batch timeline entries.
const (
	TimelineEventBatchCreated      = "BATCH_CREATED"
	TimelineEventMaterialRequested = "MATERIAL_REQUESTED"
	TimelineEventMaterialAllocated = "MATERIAL_ALLOCATED"
	TimelineEventMaterialRejected  = "MATERIAL_REJECTED"
	TimelineEventStageAssigned     = "STAGE_ASSIGNED"
	TimelineEventStageStarted      = "STAGE_STARTED"
	TimelineEventStageCompleted    = "STAGE_COMPLETED"
	TimelineEventStageVerified     = "STAGE_VERIFIED"
	TimelineEventBatchCompleted    = "BATCH_COMPLETED"
	TimelineEventBatchCancelled    = "BATCH_CANCELLED"
)
