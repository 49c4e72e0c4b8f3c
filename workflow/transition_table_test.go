package workflow

import (
	"testing"

	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
)

// These tests are intentionally DB-free. The transition table is the single
// source of truth for legal status movement; anything the table rejects must
// be rejected before any row is touched.

func TestTransitionTableHasNoEdgeOutOfTerminalStatus(t *testing.T) {
	for _, tr := range TransitionTable() {
		if tr.From.IsTerminal() {
			t.Errorf("transition %s leaves terminal status %s", tr.Event, tr.From)
		}
	}
}

func TestStagePipelineChainsWithoutGaps(t *testing.T) {
	metas := StageMetaTable()
	if len(metas) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(metas))
	}
	if metas[0].Stage != models.StageCutting || metas[1].Stage != models.StageSewing || metas[2].Stage != models.StageFinishing {
		t.Fatalf("unexpected stage order: %+v", metas)
	}
	// Each stage starts where the previous one was verified.
	for i := 1; i < len(metas); i++ {
		if metas[i].RequiredStatus != metas[i-1].VerifiedStatus {
			t.Errorf("stage %s requires %s but previous stage verifies to %s",
				metas[i].Stage, metas[i].RequiredStatus, metas[i-1].VerifiedStatus)
		}
		if metas[i].PreviousStage != metas[i-1].Stage {
			t.Errorf("stage %s previous stage is %s, want %s",
				metas[i].Stage, metas[i].PreviousStage, metas[i-1].Stage)
		}
	}
	if metas[0].PreviousStage != "" {
		t.Errorf("cutting should have no previous stage, got %s", metas[0].PreviousStage)
	}
	if metas[len(metas)-1].VerifiedStatus != models.BatchStatusCompleted {
		t.Errorf("finishing must verify into COMPLETED, got %s", metas[len(metas)-1].VerifiedStatus)
	}
}

func TestFindTransitionResolvesLegalEdge(t *testing.T) {
	tr, err := FindTransition(EventAssignStage, models.BatchStatusMaterialAllocated)
	if err != nil {
		t.Fatalf("FindTransition: %v", err)
	}
	if tr.To != models.BatchStatusAssignedToCutter {
		t.Fatalf("expected ASSIGNED_TO_CUTTER, got %s", tr.To)
	}
}

func TestRequestMaterialEdges(t *testing.T) {
	// A fresh request moves PENDING forward; adding lines or re-requesting
	// rejected ones is a self-edge on MATERIAL_REQUESTED.
	for _, from := range []models.BatchStatus{models.BatchStatusPending, models.BatchStatusMaterialRequested} {
		tr, err := FindTransition(EventRequestMaterial, from)
		if err != nil {
			t.Errorf("request-material from %s: %v", from, err)
			continue
		}
		if tr.To != models.BatchStatusMaterialRequested {
			t.Errorf("request-material from %s lands on %s", from, tr.To)
		}
	}
	_, err := FindTransition(EventRequestMaterial, models.BatchStatusMaterialAllocated)
	if err == nil {
		t.Fatal("expected conflict requesting material after allocation")
	}
	if utils.KindOf(err) != utils.KindConflict {
		t.Fatalf("expected ConflictError, got %s", utils.KindOf(err))
	}
}

func TestFindTransitionRejectsWrongStatusWithConflict(t *testing.T) {
	cases := []struct {
		event Event
		from  models.BatchStatus
	}{
		{EventAssignStage, models.BatchStatusPending},
		{EventAllocate, models.BatchStatusPending},
		{EventAllocate, models.BatchStatusMaterialAllocated},
		{EventVerifyStage, models.BatchStatusAssignedToCutter},
		{EventStartStage, models.BatchStatusCompleted},
		{EventCancel, models.BatchStatusCompleted},
		{EventCancel, models.BatchStatusCancelled},
	}
	for _, c := range cases {
		_, err := FindTransition(c.event, c.from)
		if err == nil {
			t.Errorf("FindTransition(%s, %s): expected error", c.event, c.from)
			continue
		}
		if utils.KindOf(err) != utils.KindConflict {
			t.Errorf("FindTransition(%s, %s): expected ConflictError, got %s", c.event, c.from, utils.KindOf(err))
		}
	}
}

func TestFindTransitionRejectsUnknownEvent(t *testing.T) {
	_, err := FindTransition(Event("teleport"), models.BatchStatusPending)
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
	if utils.KindOf(err) != utils.KindValidation {
		t.Fatalf("expected ValidationError, got %s", utils.KindOf(err))
	}
}

func TestCancelIsLegalFromEveryNonTerminalStatus(t *testing.T) {
	nonTerminal := []models.BatchStatus{
		models.BatchStatusPending, models.BatchStatusMaterialRequested, models.BatchStatusMaterialAllocated,
		models.BatchStatusAssignedToCutter, models.BatchStatusCuttingInProgress, models.BatchStatusCuttingVerified,
		models.BatchStatusAssignedToSewer, models.BatchStatusSewingInProgress, models.BatchStatusSewingVerified,
		models.BatchStatusAssignedToFinisher, models.BatchStatusFinishingInProgress,
	}
	for _, from := range nonTerminal {
		tr, err := FindTransition(EventCancel, from)
		if err != nil {
			t.Errorf("cancel from %s: %v", from, err)
			continue
		}
		if tr.To != models.BatchStatusCancelled {
			t.Errorf("cancel from %s lands on %s", from, tr.To)
		}
	}
}

func TestTransitionRoleGating(t *testing.T) {
	hasOnlyRole := func(roles []models.Role, want models.Role) bool {
		return len(roles) == 1 && roles[0] == want
	}
	for _, tr := range TransitionTable() {
		switch tr.Event {
		case EventAllocate:
			if !hasOnlyRole(tr.Roles, models.RoleWarehouse) {
				t.Errorf("allocate edge from %s not warehouse-gated: %v", tr.From, tr.Roles)
			}
		case EventVerifyStage:
			if !hasOnlyRole(tr.Roles, models.RoleQC) {
				t.Errorf("verify edge from %s not qc-gated: %v", tr.From, tr.Roles)
			}
		case EventAssignStage, EventCancel, EventRequestMaterial:
			if !hasOnlyRole(tr.Roles, models.RoleProductionLead) {
				t.Errorf("%s edge from %s not lead-gated: %v", tr.Event, tr.From, tr.Roles)
			}
		case EventStartStage:
			meta := metaForInProgress(t, tr.To)
			if !hasOnlyRole(tr.Roles, meta.WorkerRole) {
				t.Errorf("start edge into %s not gated on %s: %v", tr.To, meta.WorkerRole, tr.Roles)
			}
		}
	}
}

func metaForInProgress(t *testing.T, status models.BatchStatus) *StageMeta {
	t.Helper()
	for _, meta := range StageMetaTable() {
		if meta.InProgressStatus == status {
			m := meta
			return &m
		}
	}
	t.Fatalf("no stage meta with in-progress status %s", status)
	return nil
}

func TestDeletableStatus(t *testing.T) {
	if !deletableStatus(models.BatchStatusPending) || !deletableStatus(models.BatchStatusCancelled) {
		t.Fatal("PENDING and CANCELLED must be deletable")
	}
	for _, s := range []models.BatchStatus{
		models.BatchStatusMaterialRequested, models.BatchStatusCuttingInProgress, models.BatchStatusCompleted,
	} {
		if deletableStatus(s) {
			t.Errorf("%s must not be deletable", s)
		}
	}
}
