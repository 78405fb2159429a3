package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"github.com/mumutools/mumuctl/internal/cache"
	"github.com/mumutools/mumuctl/internal/instance"
)

type fakeRefresher struct {
	refreshErr error
	oneErr     error
	refreshes  int
	ones       []int
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeRefresher) RefreshOne(_ context.Context, index int) error {
	f.ones = append(f.ones, index)
	return f.oneErr
}

func (f *fakeRefresher) Status() cache.Status { return cache.Status{} }

type fakeReader struct {
	snaps map[int]instance.Snapshot
}

func (f *fakeReader) GetAll(time.Duration) (map[int]instance.Snapshot, bool) {
	return f.snaps, true
}

type fakeController struct {
	indices []int
	action  string
	err     error
}

func (f *fakeController) Control(_ context.Context, indices []int, action string) error {
	f.indices = append(f.indices, indices...)
	f.action = action
	return f.err
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func testSnaps() map[int]instance.Snapshot {
	return map[int]instance.Snapshot{
		0: {Index: 0, Name: "Main", Status: "running", Running: true},
		1: {Index: 1, Name: "Farm", Status: "stopped"},
		3: {Index: 3, Name: "Work", Status: "stopped"},
	}
}

func TestModel_Init_ReturnsCmd(t *testing.T) {
	m := NewModel(WithRefresher(&fakeRefresher{}))
	if m.Init() == nil {
		t.Fatal("Init() should return a non-nil Cmd")
	}
}

func TestModel_Update_WindowSizeMsg(t *testing.T) {
	m := NewModel()

	newModel, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	updated := newModel.(Model)

	if updated.width != 120 {
		t.Errorf("width = %d, want 120", updated.width)
	}
}

func TestModel_Update_ChangesMsg(t *testing.T) {
	m := NewModel()
	m.refreshing = true
	m.errNote = "old failure"

	snaps := testSnaps()
	msg := ChangesMsg{
		Diff: cache.Result{
			Added:    map[int]instance.Snapshot{3: snaps[3]},
			Modified: map[int][]string{0: {"status"}},
		},
		Snaps: snaps,
	}

	newModel, cmd := m.Update(msg)
	updated := newModel.(Model)

	if len(updated.order) != 3 {
		t.Fatalf("order = %v, want 3 rows", updated.order)
	}
	if updated.refreshing {
		t.Error("ChangesMsg should clear the refreshing flag")
	}
	if updated.errNote != "" {
		t.Error("ChangesMsg should clear the error note")
	}
	if !updated.isChanged(0) || !updated.isChanged(3) {
		t.Error("added and modified rows should be marked changed")
	}
	if updated.isChanged(1) {
		t.Error("untouched row must not be marked changed")
	}
	if cmd == nil {
		t.Error("ChangesMsg should schedule highlight expiry")
	}
}

func TestModel_Update_ClearHighlight(t *testing.T) {
	m := NewModel()
	mark := time.Now()
	m.changed = map[int]time.Time{0: mark, 1: mark.Add(time.Second)}

	newModel, _ := m.Update(clearHighlightMsg{at: mark})
	updated := newModel.(Model)

	if updated.isChanged(0) {
		t.Error("mark at the cutoff should expire")
	}
	if !updated.isChanged(1) {
		t.Error("newer mark must survive the cutoff")
	}
}

func TestModel_Update_RefreshDoneReloads(t *testing.T) {
	reader := &fakeReader{snaps: testSnaps()}
	m := NewModel(WithReader(reader))
	m.refreshing = true

	newModel, _ := m.Update(RefreshDoneMsg{})
	updated := newModel.(Model)

	if len(updated.order) != 3 {
		t.Fatalf("order = %v, want reloaded rows", updated.order)
	}
	if updated.refreshing {
		t.Error("RefreshDoneMsg should clear the refreshing flag")
	}
}

func TestModel_Update_RefreshBusy(t *testing.T) {
	m := NewModel()
	m.refreshing = true

	newModel, _ := m.Update(RefreshBusyMsg{})
	updated := newModel.(Model)

	if updated.refreshing {
		t.Error("RefreshBusyMsg should clear the refreshing flag")
	}
	if !strings.Contains(updated.note, "in progress") {
		t.Errorf("note = %q, want busy message", updated.note)
	}
}

func TestModel_Update_RefreshErr(t *testing.T) {
	m := NewModel()

	newModel, _ := m.Update(RefreshErrMsg{Err: errors.New("tool missing")})
	updated := newModel.(Model)

	if updated.errNote != "tool missing" {
		t.Errorf("errNote = %q, want error text", updated.errNote)
	}
}

func TestModel_Update_ControlDone(t *testing.T) {
	r := &fakeRefresher{}
	m := NewModel(WithRefresher(r))

	newModel, cmd := m.Update(ControlDoneMsg{Index: 2, Action: "launch"})
	updated := newModel.(Model)

	if !strings.Contains(updated.note, "launch 2") {
		t.Errorf("note = %q, want action confirmation", updated.note)
	}
	if cmd == nil {
		t.Fatal("successful control should schedule a single-instance refresh")
	}
	cmd()
	if len(r.ones) != 1 || r.ones[0] != 2 {
		t.Errorf("RefreshOne calls = %v, want [2]", r.ones)
	}
}

func TestModel_Update_ControlDoneError(t *testing.T) {
	m := NewModel(WithRefresher(&fakeRefresher{}))

	newModel, cmd := m.Update(ControlDoneMsg{Index: 2, Action: "shutdown", Err: errors.New("refused")})
	updated := newModel.(Model)

	if !strings.Contains(updated.errNote, "refused") {
		t.Errorf("errNote = %q, want control failure", updated.errNote)
	}
	if cmd != nil {
		t.Error("failed control must not trigger a refresh")
	}
}

func TestModel_Navigation(t *testing.T) {
	m := NewModel()
	m.applySnaps(testSnaps())

	if got := m.Selected(); got != 0 {
		t.Fatalf("Selected = %d, want 0", got)
	}

	newModel, _ := m.Update(runeKey('j'))
	newModel, _ = newModel.(Model).Update(runeKey('j'))
	updated := newModel.(Model)
	if got := updated.Selected(); got != 3 {
		t.Errorf("Selected after two downs = %d, want 3", got)
	}

	// Down at the bottom stays put.
	newModel, _ = updated.Update(tea.KeyMsg{Type: tea.KeyDown})
	updated = newModel.(Model)
	if got := updated.Selected(); got != 3 {
		t.Errorf("Selected = %d, want clamped at 3", got)
	}

	newModel, _ = updated.Update(tea.KeyMsg{Type: tea.KeyUp})
	updated = newModel.(Model)
	if got := updated.Selected(); got != 1 {
		t.Errorf("Selected after up = %d, want 1", got)
	}
}

func TestModel_SelectedEmpty(t *testing.T) {
	m := NewModel()
	if got := m.Selected(); got != -1 {
		t.Errorf("Selected on empty table = %d, want -1", got)
	}
}

func TestModel_ApplySnapsClampsCursor(t *testing.T) {
	m := NewModel()
	m.applySnaps(testSnaps())
	m.selected = 2

	m.applySnaps(map[int]instance.Snapshot{0: {Index: 0}})

	if m.selected != 0 {
		t.Errorf("selected = %d, want clamped to 0", m.selected)
	}
}

func TestModel_KeyQ_Quits(t *testing.T) {
	m := NewModel()

	_, cmd := m.Update(runeKey('q'))
	if cmd == nil {
		t.Fatal("q should produce a quit Cmd")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q Cmd should yield tea.QuitMsg")
	}
}

func TestModel_KeyR_TriggersRefresh(t *testing.T) {
	r := &fakeRefresher{}
	m := NewModel(WithRefresher(r))

	newModel, cmd := m.Update(runeKey('r'))
	updated := newModel.(Model)

	if !updated.refreshing {
		t.Error("r should set the refreshing flag")
	}
	if cmd == nil {
		t.Fatal("r should produce a refresh Cmd")
	}
	if _, ok := cmd().(RefreshDoneMsg); !ok {
		t.Error("successful refresh should yield RefreshDoneMsg")
	}
	if r.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", r.refreshes)
	}
}

func TestModel_KeyR_Busy(t *testing.T) {
	r := &fakeRefresher{refreshErr: cache.ErrRefreshInProgress}
	m := NewModel(WithRefresher(r))

	_, cmd := m.Update(runeKey('r'))
	if _, ok := cmd().(RefreshBusyMsg); !ok {
		t.Error("in-flight rejection should yield RefreshBusyMsg")
	}
}

func TestModel_KeyR_Error(t *testing.T) {
	r := &fakeRefresher{refreshErr: errors.New("boom")}
	m := NewModel(WithRefresher(r))

	_, cmd := m.Update(runeKey('r'))
	msg, ok := cmd().(RefreshErrMsg)
	if !ok || msg.Err == nil {
		t.Errorf("failed refresh should yield RefreshErrMsg, got %T", cmd())
	}
}

func TestModel_LaunchSelected(t *testing.T) {
	ctl := &fakeController{}
	m := NewModel(WithController(ctl))
	m.applySnaps(testSnaps())
	m.selected = 1

	_, cmd := m.Update(runeKey('l'))
	if cmd == nil {
		t.Fatal("l should produce a control Cmd")
	}

	msg, ok := cmd().(ControlDoneMsg)
	if !ok {
		t.Fatalf("got %T, want ControlDoneMsg", cmd())
	}
	if msg.Index != 1 || msg.Action != "launch" {
		t.Errorf("msg = %+v, want launch of index 1", msg)
	}
	if ctl.action != "launch" || len(ctl.indices) != 1 || ctl.indices[0] != 1 {
		t.Errorf("controller saw %v %q, want [1] launch", ctl.indices, ctl.action)
	}
}

func TestModel_ShutdownSelected(t *testing.T) {
	ctl := &fakeController{}
	m := NewModel(WithController(ctl))
	m.applySnaps(testSnaps())

	_, cmd := m.Update(runeKey('x'))
	msg, ok := cmd().(ControlDoneMsg)
	if !ok || msg.Action != "shutdown" || msg.Index != 0 {
		t.Errorf("got %+v, want shutdown of index 0", cmd())
	}
}

func TestModel_ControlOnEmptyTable(t *testing.T) {
	m := NewModel(WithController(&fakeController{}))

	_, cmd := m.Update(runeKey('l'))
	if cmd != nil {
		t.Error("control on an empty table should be a no-op")
	}
}

func TestModel_View_Table(t *testing.T) {
	m := NewModel()
	m.applySnaps(testSnaps())

	view := m.View()

	for _, want := range []string{"IDX", "NAME", "Main", "Farm", "Work"} {
		if !strings.Contains(view, want) {
			t.Errorf("view should contain %q", want)
		}
	}
	if !strings.Contains(view, "●") {
		t.Error("view should mark the running instance")
	}
	if !strings.Contains(view, "○") {
		t.Error("view should mark stopped instances")
	}
}

func TestModel_View_Empty(t *testing.T) {
	view := NewModel().View()
	if !strings.Contains(view, "no instances") {
		t.Errorf("empty view should say so, got:\n%s", view)
	}
}

func TestModel_View_LoadingSpinner(t *testing.T) {
	m := NewModel()
	m.refreshing = true

	view := m.View()
	if !strings.Contains(view, "loading instances") {
		t.Errorf("view should show the loading state, got:\n%s", view)
	}
}

func TestModel_View_ErrorNote(t *testing.T) {
	m := NewModel()
	m.applySnaps(testSnaps())
	m.errNote = "fetch failed"

	if !strings.Contains(m.View(), "fetch failed") {
		t.Error("view should surface the error note")
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 20, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a very long instance name", 10, "a very lo…"},
		{"ab", 1, "a"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

// TestModel_Teatest_WatchSession drives a change notification and a
// quit key through a real program via teatest.
func TestModel_Teatest_WatchSession(t *testing.T) {
	r := &fakeRefresher{}
	m := NewModel(WithRefresher(r), WithReader(&fakeReader{snaps: testSnaps()}))

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	snaps := testSnaps()
	tm.Send(ChangesMsg{
		Diff:  cache.Result{Added: snaps},
		Snaps: snaps,
	})
	tm.Send(runeKey('q'))

	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final := tm.FinalModel(t).(Model)
	if len(final.order) != 3 {
		t.Errorf("final order = %v, want 3 rows", final.order)
	}
	if final.Selected() != 0 {
		t.Errorf("final Selected = %d, want 0", final.Selected())
	}
}
