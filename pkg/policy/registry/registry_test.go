package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

var regNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestRegistry(opts ...Option) (*Registry, *MemoryStore) {
	store := NewMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return regNow })}, opts...)
	return New(store, nil, opts...), store
}

func draftPolicy(id string) *model.Policy {
	return &model.Policy{
		ID:       id,
		Name:     "High risk score",
		Category: model.CategoryRisk,
		Priority: 10,
		Conditions: []model.Condition{
			{Field: "risk.score", Operator: model.OperatorLessThan, Value: model.Number(40)},
		},
		Actions: []model.Action{
			{Type: model.ActionSendAlert, Config: model.SendAlertConfig{Recipients: []string{"risk@example.com"}}},
		},
	}
}

// approved walks a policy through submit, approve and activate.
func approved(t *testing.T, r *Registry, id string) *model.Policy {
	t.Helper()
	ctx := context.Background()
	if _, err := r.Create(ctx, draftPolicy(id), "author"); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
	if _, err := r.Submit(ctx, id, "author"); err != nil {
		t.Fatalf("Submit(%s) error = %v", id, err)
	}
	if _, err := r.Approve(ctx, id, "reviewer"); err != nil {
		t.Fatalf("Approve(%s) error = %v", id, err)
	}
	p, err := r.Activate(ctx, id, "reviewer")
	if err != nil {
		t.Fatalf("Activate(%s) error = %v", id, err)
	}
	return p
}

func create(t *testing.T, r *Registry, p *model.Policy, actor string) *model.Policy {
	t.Helper()
	out, err := r.Create(context.Background(), p, actor)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return out
}

// TestRegistry_Create tests that new policies start as inactive version-1 drafts
func TestRegistry_Create(t *testing.T) {
	r, _ := newTestRegistry()
	in := draftPolicy("")
	in.IsActive = true
	in.ApprovalState = model.ApprovalApproved

	p := create(t, r, in, "author")

	if p.ID == "" {
		t.Error("ID was not generated")
	}
	if p.ApprovalState != model.ApprovalDraft || p.IsActive {
		t.Errorf("ApprovalState = %s, IsActive = %v, want an inactive draft", p.ApprovalState, p.IsActive)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d, want 1", p.Version)
	}
	if p.CreatedBy != "author" {
		t.Errorf("CreatedBy = %q, want author", p.CreatedBy)
	}
	if !p.EffectiveFrom.Equal(regNow) || !p.CreatedAt.Equal(regNow) {
		t.Errorf("EffectiveFrom = %v, CreatedAt = %v, want %v", p.EffectiveFrom, p.CreatedAt, regNow)
	}

	versions, err := r.Versions(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 1 {
		t.Errorf("Versions() = %+v, want version 1 only", versions)
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	r, _ := newTestRegistry()

	bad := draftPolicy("p")
	bad.Name = ""
	bad.Conditions[0].Operator = model.OperatorIn

	_, err := r.Create(context.Background(), bad, "author")
	var verr *faults.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Create() error = %v, want ValidationError", err)
	}
	if len(verr.Problems) < 2 {
		t.Errorf("got %d problems, want at least 2: %v", len(verr.Problems), verr.Problems)
	}

	_, err = r.Create(context.Background(), draftPolicy("p"), "")
	if !faults.IsValidation(err) {
		t.Errorf("Create() without actor error = %v, want validation error", err)
	}
}

func TestRegistry_CreateDuplicateID(t *testing.T) {
	r, _ := newTestRegistry()
	create(t, r, draftPolicy("p"), "author")

	_, err := r.Create(context.Background(), draftPolicy("p"), "author")
	if !faults.IsConflict(err) {
		t.Errorf("duplicate Create() error = %v, want conflict", err)
	}
}

// TestRegistry_ApprovalWorkflow tests the draft, pending, approved, active lifecycle
func TestRegistry_ApprovalWorkflow(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	create(t, r, draftPolicy("p"), "author")

	if _, err := r.Activate(ctx, "p", "author"); !faults.IsValidation(err) {
		t.Errorf("Activate(draft) error = %v, want validation error", err)
	}
	if _, err := r.Approve(ctx, "p", "reviewer"); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Errorf("Approve(draft) error = %v, want ErrInvalidTransition", err)
	}

	p, err := r.Submit(ctx, "p", "author")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if p.ApprovalState != model.ApprovalPendingApproval {
		t.Errorf("ApprovalState = %s, want %s", p.ApprovalState, model.ApprovalPendingApproval)
	}

	// authors cannot approve their own edits
	if _, err := r.Approve(ctx, "p", "author"); !faults.IsValidation(err) {
		t.Errorf("self Approve() error = %v, want validation error", err)
	}

	p, err = r.Approve(ctx, "p", "reviewer")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if p.ApprovalState != model.ApprovalApproved || p.ApprovedBy != "reviewer" || p.UpdatedBy != "author" {
		t.Errorf("ApprovalState = %s, ApprovedBy = %q, UpdatedBy = %q", p.ApprovalState, p.ApprovedBy, p.UpdatedBy)
	}

	p, err = r.Activate(ctx, "p", "reviewer")
	if err != nil || !p.IsActive {
		t.Fatalf("Activate() = %v, %v", p, err)
	}

	p, err = r.Deactivate(ctx, "p", "reviewer")
	if err != nil || p.IsActive {
		t.Fatalf("Deactivate() = %v, %v", p, err)
	}

	// deactivation is reversible
	p, err = r.Activate(ctx, "p", "reviewer")
	if err != nil || !p.IsActive {
		t.Errorf("re-Activate() = %v, %v", p, err)
	}
}

func TestRegistry_FourEyesCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(RequireDistinctApprover(false))
	create(t, r, draftPolicy("p"), "solo")
	if _, err := r.Submit(ctx, "p", "solo"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	p, err := r.Approve(ctx, "p", "solo")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if p.ApprovalState != model.ApprovalApproved {
		t.Errorf("ApprovalState = %s, want %s", p.ApprovalState, model.ApprovalApproved)
	}
}

func TestRegistry_RejectAndResubmit(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	create(t, r, draftPolicy("p"), "author")

	if _, err := r.Reject(ctx, "p", "reviewer", "too broad"); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Errorf("Reject(draft) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := r.Submit(ctx, "p", "author"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := r.Reject(ctx, "p", "reviewer", " "); !faults.IsValidation(err) {
		t.Errorf("Reject() with blank reason error = %v, want validation error", err)
	}

	p, err := r.Reject(ctx, "p", "reviewer", "too broad")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if p.ApprovalState != model.ApprovalRejected {
		t.Errorf("ApprovalState = %s, want %s", p.ApprovalState, model.ApprovalRejected)
	}

	p, err = r.Submit(ctx, "p", "author")
	if err != nil {
		t.Fatalf("resubmit error = %v", err)
	}
	if p.ApprovalState != model.ApprovalPendingApproval {
		t.Errorf("ApprovalState = %s, want %s", p.ApprovalState, model.ApprovalPendingApproval)
	}
}

func TestRegistry_SubmitNeedsConditionsAndActions(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	in := draftPolicy("p")
	in.Conditions = nil
	in.Actions = nil
	create(t, r, in, "author")

	_, err := r.Submit(ctx, "p", "author")
	var verr *faults.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Submit() error = %v, want ValidationError", err)
	}
	if len(verr.Problems) != 2 {
		t.Errorf("got %d problems, want 2: %v", len(verr.Problems), verr.Problems)
	}
}

// TestRegistry_UpdateReturnsToDraft tests that edits bump the version and drop approval
func TestRegistry_UpdateReturnsToDraft(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	approved(t, r, "p")

	edit := draftPolicy("p")
	edit.Priority = 5
	p, err := r.Update(ctx, "p", edit, 1, "editor")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if p.Version != 2 || p.Priority != 5 {
		t.Errorf("Version = %d, Priority = %d, want 2 and 5", p.Version, p.Priority)
	}
	if p.ApprovalState != model.ApprovalDraft || p.IsActive || p.ApprovedBy != "" {
		t.Errorf("ApprovalState = %s, IsActive = %v, ApprovedBy = %q, want an unapproved inactive draft",
			p.ApprovalState, p.IsActive, p.ApprovedBy)
	}
	if p.UpdatedBy != "editor" {
		t.Errorf("UpdatedBy = %q, want editor", p.UpdatedBy)
	}

	versions, err := r.Versions(ctx, "p")
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}
	if versions[0].Policy.Priority != 10 || versions[1].Policy.Priority != 5 {
		t.Errorf("version priorities = %d,%d, want 10,5", versions[0].Policy.Priority, versions[1].Policy.Priority)
	}
	if versions[1].ChangedBy != "editor" {
		t.Errorf("ChangedBy = %q, want editor", versions[1].ChangedBy)
	}
}

func TestRegistry_UpdateIdenticalContentIsNoop(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	approved(t, r, "p")

	p, err := r.Update(ctx, "p", draftPolicy("p"), 0, "editor")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if p.Version != 1 || !p.IsActive {
		t.Errorf("Version = %d, IsActive = %v, want 1 and still active", p.Version, p.IsActive)
	}
}

func TestRegistry_UpdateStaleVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	create(t, r, draftPolicy("p"), "author")

	edit := draftPolicy("p")
	edit.Priority = 3
	if _, err := r.Update(ctx, "p", edit, 1, "author"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	edit.Priority = 4
	_, err := r.Update(ctx, "p", edit, 1, "author")
	var conflict *faults.ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale Update() error = %v, want ConcurrencyConflictError", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Errorf("conflict = %+v, want expected 1 actual 2", conflict)
	}
}

func TestRegistry_Clone(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	src := approved(t, r, "p")

	cp, err := r.Clone(ctx, "p", "author")
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}

	if cp.ID == src.ID {
		t.Errorf("clone kept the source ID %q", cp.ID)
	}
	if cp.Name != "High risk score (copy)" {
		t.Errorf("Name = %q", cp.Name)
	}
	if cp.ApprovalState != model.ApprovalDraft || cp.IsActive || cp.Version != 1 {
		t.Errorf("ApprovalState = %s, IsActive = %v, Version = %d, want an inactive version-1 draft",
			cp.ApprovalState, cp.IsActive, cp.Version)
	}
	if len(cp.Conditions) != len(src.Conditions) {
		t.Fatalf("clone has %d conditions, want %d", len(cp.Conditions), len(src.Conditions))
	}
	for i := range src.Conditions {
		a, b := src.Conditions[i], cp.Conditions[i]
		if a.Field != b.Field || a.Operator != b.Operator || !a.Value.Equal(b.Value) {
			t.Errorf("conditions[%d] = %+v, want %+v", i, b, a)
		}
	}
}

type fakeRefs map[string]bool

func (f fakeRefs) PolicyReferenced(ctx context.Context, id string) (bool, error) {
	return f[id], nil
}

// TestRegistry_DeleteArchivesReferencedPolicies tests that referenced policies are archived, not removed
func TestRegistry_DeleteArchivesReferencedPolicies(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(WithReferences(fakeRefs{"used": true}))
	approved(t, r, "used")
	create(t, r, draftPolicy("unused"), "author")

	archived, err := r.Delete(ctx, "used", "admin")
	if err != nil || !archived {
		t.Fatalf("Delete(used) = %v, %v, want archived", archived, err)
	}
	p, err := r.Get(ctx, "used")
	if err != nil {
		t.Fatalf("Get(used) error = %v", err)
	}
	if !p.Archived || p.IsActive {
		t.Errorf("Archived = %v, IsActive = %v, want archived and inactive", p.Archived, p.IsActive)
	}

	archived, err = r.Delete(ctx, "unused", "admin")
	if err != nil || archived {
		t.Fatalf("Delete(unused) = %v, %v, want removed", archived, err)
	}
	if _, err := r.Get(ctx, "unused"); !faults.IsNotFound(err) {
		t.Errorf("Get(unused) error = %v, want not found", err)
	}

	if _, err := r.Activate(ctx, "used", "admin"); !errors.Is(err, faults.ErrPolicyArchived) {
		t.Errorf("Activate(archived) error = %v, want ErrPolicyArchived", err)
	}
	if _, err := r.Update(ctx, "used", draftPolicy("used"), 0, "admin"); !errors.Is(err, faults.ErrPolicyArchived) {
		t.Errorf("Update(archived) error = %v, want ErrPolicyArchived", err)
	}
}

func TestRegistry_ListAndSnapshot(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	approved(t, r, "b")
	approved(t, r, "a")
	create(t, r, draftPolicy("draft"), "author")
	approved(t, r, "gone")
	if _, err := r.Archive(ctx, "gone", "admin"); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	all, err := r.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() returned %d policies, want 3", len(all))
	}

	withArchived, err := r.List(ctx, Filter{IncludeArchived: true})
	if err != nil {
		t.Fatalf("List(IncludeArchived) error = %v", err)
	}
	if len(withArchived) != 4 {
		t.Errorf("List(IncludeArchived) returned %d policies, want 4", len(withArchived))
	}

	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("snapshot has %d policies, want 2", snap.Len())
	}
	ps := snap.Policies()
	if ps[0].ID != "a" || ps[1].ID != "b" {
		t.Errorf("snapshot order = %s,%s, want a,b", ps[0].ID, ps[1].ID)
	}

	if _, err := r.Deactivate(ctx, "a", "admin"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	// snapshots do not see later edits
	if snap.Len() != 2 {
		t.Errorf("snapshot changed to %d policies after an edit", snap.Len())
	}

	stats, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Policies != 4 || stats.Active != 1 || stats.Archived != 1 {
		t.Errorf("Stats() = %+v, want 4 policies, 1 active, 1 archived", stats)
	}
	if stats.SnapshotVersion == snap.Version() {
		t.Error("SnapshotVersion did not change after a deactivation")
	}
}

func TestRegistry_NotFound(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := r.Submit(ctx, "missing", "author"); !faults.IsNotFound(err) {
		t.Errorf("Submit() error = %v, want not found", err)
	}
	if _, err := r.Versions(ctx, "missing"); !faults.IsNotFound(err) {
		t.Errorf("Versions() error = %v, want not found", err)
	}
	if _, err := r.Clone(ctx, "missing", "author"); !faults.IsNotFound(err) {
		t.Errorf("Clone() error = %v, want not found", err)
	}
}

// conflictingStore fails the first n updates as if another process wrote first.
type conflictingStore struct {
	*MemoryStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) UpdatePolicy(ctx context.Context, p *model.Policy, expected int64) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return &faults.ConcurrencyConflictError{Entity: "policy", ID: p.ID, Expected: expected, Actual: expected + 1}
	}
	s.mu.Unlock()
	return s.MemoryStore.UpdatePolicy(ctx, p, expected)
}

func TestRegistry_RetriesRevisionConflicts(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	r := New(store, nil)
	create(t, r, draftPolicy("p"), "author")

	store.conflicts = DefaultMaxAttempts - 1
	p, err := r.Submit(ctx, "p", "author")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if p.ApprovalState != model.ApprovalPendingApproval {
		t.Errorf("ApprovalState = %s, want %s", p.ApprovalState, model.ApprovalPendingApproval)
	}

	store.conflicts = DefaultMaxAttempts
	if _, err := r.Approve(ctx, "p", "reviewer"); !faults.IsConflict(err) {
		t.Errorf("Approve() error = %v, want conflict after retries run out", err)
	}
}

func TestRegistry_Import(t *testing.T) {
	ctx := context.Background()

	t.Run("new policies land as drafts", func(t *testing.T) {
		r, _ := newTestRegistry()
		res, err := r.Import(ctx, draftPolicy("file-1"), "loader", false)
		if err != nil {
			t.Fatalf("Import() error = %v", err)
		}
		if res.Outcome != ImportCreated || res.Policy.ApprovalState != model.ApprovalDraft {
			t.Errorf("Outcome = %s, ApprovalState = %s", res.Outcome, res.Policy.ApprovalState)
		}
	})

	t.Run("auto approve activates", func(t *testing.T) {
		r, _ := newTestRegistry()
		res, err := r.Import(ctx, draftPolicy("file-1"), "loader", true)
		if err != nil {
			t.Fatalf("Import() error = %v", err)
		}
		if !res.Policy.IsActive || res.Policy.ApprovalState != model.ApprovalApproved {
			t.Errorf("IsActive = %v, ApprovalState = %s", res.Policy.IsActive, res.Policy.ApprovalState)
		}

		again, err := r.Import(ctx, draftPolicy("file-1"), "loader", true)
		if err != nil {
			t.Fatalf("re-Import() error = %v", err)
		}
		if again.Outcome != ImportUnchanged || again.Policy.Version != 1 {
			t.Errorf("Outcome = %s, Version = %d, want unchanged version 1", again.Outcome, again.Policy.Version)
		}
	})

	t.Run("unchanged re-import keeps a deactivated policy off", func(t *testing.T) {
		r, _ := newTestRegistry()
		if _, err := r.Import(ctx, draftPolicy("file-1"), "loader", true); err != nil {
			t.Fatalf("Import() error = %v", err)
		}
		if _, err := r.Deactivate(ctx, "file-1", "operator"); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}

		again, err := r.Import(ctx, draftPolicy("file-1"), "loader", true)
		if err != nil {
			t.Fatalf("re-Import() error = %v", err)
		}
		if again.Outcome != ImportUnchanged {
			t.Errorf("Outcome = %s, want %s", again.Outcome, ImportUnchanged)
		}
		if again.Policy.IsActive {
			t.Error("re-import reactivated a deactivated policy")
		}

		got, err := r.Get(ctx, "file-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.IsActive {
			t.Error("stored policy is active after an unchanged re-import")
		}
	})

	t.Run("changed content bumps the version", func(t *testing.T) {
		r, _ := newTestRegistry()
		if _, err := r.Import(ctx, draftPolicy("file-1"), "loader", false); err != nil {
			t.Fatalf("Import() error = %v", err)
		}

		edit := draftPolicy("file-1")
		edit.Name = "Renamed"
		res, err := r.Import(ctx, edit, "loader", false)
		if err != nil {
			t.Fatalf("re-Import() error = %v", err)
		}
		if res.Outcome != ImportUpdated || res.Policy.Version != 2 {
			t.Errorf("Outcome = %s, Version = %d, want updated version 2", res.Outcome, res.Policy.Version)
		}
	})

	t.Run("id is required", func(t *testing.T) {
		r, _ := newTestRegistry()
		if _, err := r.Import(ctx, draftPolicy(""), "loader", false); !faults.IsValidation(err) {
			t.Errorf("Import() error = %v, want validation error", err)
		}
	})
}

// TestRegistry_ConcurrentEditsSerialize tests that parallel updates each produce a version
func TestRegistry_ConcurrentEditsSerialize(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	create(t, r, draftPolicy("p"), "author")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(prio int) {
			defer wg.Done()
			edit := draftPolicy("p")
			edit.Priority = 100 + prio
			_, err := r.Update(ctx, "p", edit, 0, "author")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Update() error = %v", err)
		}
	}

	p, err := r.Get(ctx, "p")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Version != 11 {
		t.Errorf("Version = %d, want 11", p.Version)
	}

	versions, err := r.Versions(ctx, "p")
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 11 {
		t.Errorf("got %d versions, want 11", len(versions))
	}
}
