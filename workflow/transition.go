package workflow

import (
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
)

// Event names the batch lifecycle operations.
type Event string

const (
	EventCreate          Event = "create"
	EventRequestMaterial Event = "request-material"
	EventAllocate        Event = "allocate"
	EventAssignStage     Event = "assign-stage"
	EventStartStage      Event = "start-stage"
	EventVerifyStage     Event = "verify-stage"
	EventCancel          Event = "cancel"
	EventDelete          Event = "delete"
)

// Transition is one legal edge of the batch state machine. Any (event, from)
// pair not present in the table is rejected with a ConflictError before any
// state is touched.
type Transition struct {
	Event Event
	From  models.BatchStatus
	To    models.BatchStatus
	Roles []models.Role
}

var (
	leadOnly      = []models.Role{models.RoleProductionLead}
	warehouseOnly = []models.Role{models.RoleWarehouse}
	qcOnly        = []models.Role{models.RoleQC}
)

// transitionTable is the single source of truth for legal status movement.
// Stage assignment/start/verify edges are generated from stageMetaTable so
// the three stages can never drift apart.
var transitionTable = buildTransitionTable()

func buildTransitionTable() []Transition {
	table := []Transition{
		{Event: EventRequestMaterial, From: models.BatchStatusPending, To: models.BatchStatusMaterialRequested, Roles: leadOnly},
		// Self-edge: adding lines or re-requesting rejected ones.
		{Event: EventRequestMaterial, From: models.BatchStatusMaterialRequested, To: models.BatchStatusMaterialRequested, Roles: leadOnly},
		{Event: EventAllocate, From: models.BatchStatusMaterialRequested, To: models.BatchStatusMaterialAllocated, Roles: warehouseOnly},
	}
	for _, meta := range stageMetaTable {
		table = append(table,
			Transition{Event: EventAssignStage, From: meta.RequiredStatus, To: meta.AssignedStatus, Roles: leadOnly},
			Transition{Event: EventStartStage, From: meta.AssignedStatus, To: meta.InProgressStatus, Roles: []models.Role{meta.WorkerRole}},
			Transition{Event: EventVerifyStage, From: meta.InProgressStatus, To: meta.VerifiedStatus, Roles: qcOnly},
		)
	}
	// Cancel is legal from every non-terminal status.
	for _, from := range []models.BatchStatus{
		models.BatchStatusPending, models.BatchStatusMaterialRequested, models.BatchStatusMaterialAllocated,
		models.BatchStatusAssignedToCutter, models.BatchStatusCuttingInProgress, models.BatchStatusCuttingVerified,
		models.BatchStatusAssignedToSewer, models.BatchStatusSewingInProgress, models.BatchStatusSewingVerified,
		models.BatchStatusAssignedToFinisher, models.BatchStatusFinishingInProgress,
	} {
		table = append(table, Transition{Event: EventCancel, From: from, To: models.BatchStatusCancelled, Roles: leadOnly})
	}
	return table
}

// FindTransition resolves the table entry for (event, from); a miss is the
// ConflictError the caller surfaces, naming required vs. actual status.
func FindTransition(event Event, from models.BatchStatus) (*Transition, error) {
	var sameEvent []models.BatchStatus
	for i := range transitionTable {
		t := &transitionTable[i]
		if t.Event != event {
			continue
		}
		if t.From == from {
			return t, nil
		}
		sameEvent = append(sameEvent, t.From)
	}
	if len(sameEvent) == 0 {
		return nil, utils.NewValidationError("unknown batch event %q", event)
	}
	return nil, utils.NewConflictError(
		"batch status is %s, event %s requires one of %v", from, event, sameEvent)
}

// StageMeta parameterizes the per-stage pipeline so assignment, progress and
// verification logic exist once instead of once per stage.
type StageMeta struct {
	Stage            models.Stage
	RequiredStatus   models.BatchStatus
	AssignedStatus   models.BatchStatus
	InProgressStatus models.BatchStatus
	VerifiedStatus   models.BatchStatus
	WorkerRole       models.Role
	// PreviousStage seeds piecesReceived from that stage's piecesCompleted;
	// empty for cutting, which receives material instead.
	PreviousStage models.Stage
}

var stageMetaTable = []StageMeta{
	{
		Stage:            models.StageCutting,
		RequiredStatus:   models.BatchStatusMaterialAllocated,
		AssignedStatus:   models.BatchStatusAssignedToCutter,
		InProgressStatus: models.BatchStatusCuttingInProgress,
		VerifiedStatus:   models.BatchStatusCuttingVerified,
		WorkerRole:       models.RoleCutter,
	},
	{
		Stage:            models.StageSewing,
		RequiredStatus:   models.BatchStatusCuttingVerified,
		AssignedStatus:   models.BatchStatusAssignedToSewer,
		InProgressStatus: models.BatchStatusSewingInProgress,
		VerifiedStatus:   models.BatchStatusSewingVerified,
		WorkerRole:       models.RoleSewer,
		PreviousStage:    models.StageCutting,
	},
	{
		Stage:            models.StageFinishing,
		RequiredStatus:   models.BatchStatusSewingVerified,
		AssignedStatus:   models.BatchStatusAssignedToFinisher,
		InProgressStatus: models.BatchStatusFinishingInProgress,
		VerifiedStatus:   models.BatchStatusCompleted,
		WorkerRole:       models.RoleFinisher,
		PreviousStage:    models.StageSewing,
	},
}

func MetaForStage(stage models.Stage) (*StageMeta, error) {
	for i := range stageMetaTable {
		if stageMetaTable[i].Stage == stage {
			return &stageMetaTable[i], nil
		}
	}
	return nil, utils.NewValidationError("unknown stage %q", stage)
}

// StageMetaTable exposes a copy for tests and read-side consumers.
func StageMetaTable() []StageMeta {
	out := make([]StageMeta, len(stageMetaTable))
	copy(out, stageMetaTable)
	return out
}

// TransitionTable exposes a copy for tests and read-side consumers.
func TransitionTable() []Transition {
	out := make([]Transition, len(transitionTable))
	copy(out, transitionTable)
	return out
}

// deletableStatuses are the only statuses from which hard deletion is legal.
func deletableStatus(s models.BatchStatus) bool {
	return s == models.BatchStatusPending || s == models.BatchStatusCancelled
}
