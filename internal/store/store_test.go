package store

import (
	"os"
	"strings"
	"testing"
	"time"

	"personaut/internal/errs"
	"personaut/internal/project"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), WithAutosaveDebounce(30*time.Millisecond))
}

func TestInitializeProject(t *testing.T) {
	s := newTestStore(t)

	name, err := s.InitializeProject("Coffee Finder")
	if err != nil {
		t.Fatal(err)
	}
	if name != "coffee-finder" {
		t.Errorf("name = %q", name)
	}

	master, err := s.ReadMaster(name)
	if err != nil {
		t.Fatal(err)
	}
	if master.ProjectTitle != "Coffee Finder" {
		t.Errorf("title = %q", master.ProjectTitle)
	}
	for _, stage := range project.StageOrder {
		entry := master.Stages[stage]
		if entry == nil {
			t.Fatalf("master missing stage %s", stage)
		}
		if entry.Completed {
			t.Errorf("stage %s should start incomplete", stage)
		}
		if entry.Path != "planning/"+string(stage)+".json" {
			t.Errorf("stage %s path = %q", stage, entry.Path)
		}
	}

	// Duplicate titles are rejected at creation time.
	if _, err := s.InitializeProject("Coffee Finder"); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("duplicate init error = %v", err)
	}
}

func TestWriteAndReadStage(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo App")

	if _, err := s.ReadStage(name, project.StageIdea); err != ErrNotFound {
		t.Errorf("missing stage read = %v, want ErrNotFound", err)
	}

	data := map[string]any{"title": "Demo App", "description": "an app"}
	if err := s.WriteStage(name, project.StageIdea, data, true, WriteOptions{ProjectTitle: "Demo App"}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.ReadStage(name, project.StageIdea)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Completed || rec.Stage != project.StageIdea || rec.ProjectName != name {
		t.Errorf("record = %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	// Master and stage file agree on the completion flag.
	completion, err := s.CheckProjectFiles(name)
	if err != nil {
		t.Fatal(err)
	}
	if !completion[project.StageIdea] {
		t.Error("master not updated with completion")
	}
	if completion[project.StageUsers] {
		t.Error("unrelated stage flipped")
	}
}

func TestWriteStageRejectsUnknownStage(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	err := s.WriteStage(name, project.Stage("bogus"), nil, false, WriteOptions{})
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("error = %v", err)
	}
	if err := s.WriteStage(name, project.StageBuilding, nil, false, WriteOptions{}); err == nil {
		t.Error("building has no stage file and must be rejected")
	}
}

func TestAutoSaveNeverDowngradesCompletion(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	if err := s.WriteStage(name, project.StageIdea, "v1", true, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	// A debounce-originated save with completed=false must not clear the flag.
	if err := s.WriteStage(name, project.StageIdea, "v2", false, WriteOptions{AutoSave: true}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.ReadStage(name, project.StageIdea)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Completed {
		t.Error("auto-save downgraded completed stage")
	}
	if rec.Data != "v2" {
		t.Errorf("data = %v, want updated payload", rec.Data)
	}

	// An explicit save may clear it (project reset path).
	if err := s.WriteStage(name, project.StageIdea, "v3", false, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.ReadStage(name, project.StageIdea)
	if rec.Completed {
		t.Error("explicit save should control the flag")
	}
}

func TestAutoSaveDebounceCoalesces(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	for i := 0; i < 5; i++ {
		s.AutoSave(name, project.StageIdea, i, false)
	}
	time.Sleep(150 * time.Millisecond)

	rec, err := s.ReadStage(name, project.StageIdea)
	if err != nil {
		t.Fatal(err)
	}
	// Only the last payload lands.
	if got, ok := rec.Data.(float64); !ok || got != 4 {
		t.Errorf("data = %v", rec.Data)
	}
}

func TestFlushAutoSaveCancelsPending(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	s.AutoSave(name, project.StageIdea, "stale", false)
	s.FlushAutoSave(name, project.StageIdea)
	if err := s.WriteStage(name, project.StageIdea, "explicit", true, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	rec, err := s.ReadStage(name, project.StageIdea)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Data != "explicit" {
		t.Errorf("stale auto-save landed after explicit save: %v", rec.Data)
	}
}

func TestAppendAndReadLog(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	entries := []BuildLogEntry{
		{Type: LogUser, Stage: project.StageIdea, Content: "first"},
		{Type: LogAssistant, Stage: project.StageIdea, Content: "second"},
		{Type: LogError, Content: "third", Metadata: map[string]any{"code": "boom"}},
	}
	for _, e := range entries {
		if err := s.AppendLog(name, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ReadLog(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("log length = %d", len(got))
	}
	for i, e := range got {
		if e.Content != entries[i].Content {
			t.Errorf("entry %d content = %q", i, e.Content)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
	if got[2].Metadata["code"] != "boom" {
		t.Errorf("metadata = %v", got[2].Metadata)
	}
}

func TestReadLogMissingFile(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	got, err := s.ReadLog(name)
	if err != nil || got != nil {
		t.Errorf("ReadLog on missing file = %v, %v", got, err)
	}
}

func TestWriteStageSurfacesHalfWrite(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.InitializeProject("Demo")

	// Make the master path unwritable by replacing it with a directory.
	masterPath := project.MasterPath(s.workspace, name)
	if err := os.Remove(masterPath); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(masterPath, 0755); err != nil {
		t.Fatal(err)
	}

	err := s.WriteStage(name, project.StageIdea, "data", true, WriteOptions{})
	if errs.KindOf(err) != errs.KindPersistence {
		t.Fatalf("error = %v, want persistence error", err)
	}
	// The diagnostic names the file that did land.
	if msg := err.Error(); !strings.Contains(msg, "master update failed") {
		t.Errorf("diagnostic = %q", msg)
	}
}
