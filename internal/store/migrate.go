package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"personaut/internal/errs"
	"personaut/internal/project"
)

// legacyFile pairs a legacy stage file with the stage it held.
type legacyFile struct {
	stage project.Stage
	path  string
}

// MigrateLegacyLayout moves a pre-planning-directory project into the
// current layout. The legacy layout kept the idea stage in {project}.json
// and every other stage in {stage}.stage.json at the project root.
//
// Steps: back up every legacy file untouched into .backup-{unixMillis}/,
// rewrite each into planning/{stage}.json, remove the originals, and
// rewrite the master's stage-path references. Re-running after a successful
// migration is a no-op.
func (s *Store) MigrateLegacyLayout(name string) (bool, error) {
	projectDir := project.Dir(s.workspace, name)
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return false, errs.Newf(errs.KindValidation, "migrate", "project %q does not exist", name)
	}

	var legacy []legacyFile
	for _, stage := range project.StageOrder {
		path := project.LegacyStagePath(s.workspace, name, stage)
		if _, err := os.Stat(path); err == nil {
			legacy = append(legacy, legacyFile{stage: stage, path: path})
		}
	}

	if len(legacy) == 0 {
		// Nothing legacy on disk; still scrub any stale references so a
		// previously interrupted migration converges.
		if err := s.rewriteStageRefs(name); err != nil {
			return false, err
		}
		return false, nil
	}

	backupDir := filepath.Join(projectDir, fmt.Sprintf(".backup-%d", time.Now().UnixMilli()))
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return false, errs.Wrap(errs.KindPersistence, "migrate", err)
	}

	for _, lf := range legacy {
		raw, err := os.ReadFile(lf.path)
		if err != nil {
			return false, errs.Wrap(errs.KindPersistence, "migrate", err)
		}

		// Backup keeps the byte-identical original.
		if err := os.WriteFile(filepath.Join(backupDir, filepath.Base(lf.path)), raw, 0644); err != nil {
			return false, errs.Wrap(errs.KindPersistence, "migrate", err)
		}

		rec := normalizeLegacyRecord(name, lf.stage, raw)
		if err := s.WriteStage(name, lf.stage, rec.Data, rec.Completed, WriteOptions{Error: rec.Error}); err != nil {
			return false, err
		}

		if err := os.Remove(lf.path); err != nil {
			return false, errs.Wrap(errs.KindPersistence, "migrate", err)
		}
	}

	if err := s.rewriteStageRefs(name); err != nil {
		return false, err
	}

	s.logger.Info("legacy layout migrated",
		zap.String("project", name),
		zap.Int("files", len(legacy)),
		zap.String("backup", backupDir))
	return true, nil
}

// normalizeLegacyRecord interprets a legacy stage file. Newer legacy files
// already carried the record envelope; the oldest ones held the bare data
// payload with an optional completed flag.
func normalizeLegacyRecord(name string, stage project.Stage, raw []byte) StageRecord {
	var rec StageRecord
	if err := json.Unmarshal(raw, &rec); err == nil && rec.Stage != "" {
		rec.ProjectName = name
		return rec
	}

	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		// Unparseable legacy content is preserved verbatim as data.
		return StageRecord{ProjectName: name, Stage: stage, Data: string(raw)}
	}

	completed, _ := loose["completed"].(bool)
	delete(loose, "completed")
	return StageRecord{
		ProjectName: name,
		Stage:       stage,
		Completed:   completed,
		Data:        loose,
	}
}

// rewriteStageRefs forces every master stage-path reference into the
// planning/{stage}.json form. After this no reference contains .stage.json
// or a bare {name}.json.
func (s *Store) rewriteStageRefs(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	master, err := s.readMaster(name)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	for stage, entry := range master.Stages {
		if ref := project.StageRef(stage); entry.Path != ref {
			entry.Path = ref
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.writeMaster(name, master)
}
