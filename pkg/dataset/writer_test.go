package dataset

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/camera"
	"github.com/hanahanaworks/xtl-lerobot/pkg/record"
	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

func testEpisode(index, steps int, sources ...string) *record.Episode {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ep := &record.Episode{Index: index, StartedAt: start, Task: "fold the towel"}
	for i := 0; i < steps; i++ {
		st := record.Step{
			Index:     i,
			Timestamp: start.Add(time.Duration(i) * 20 * time.Millisecond),
			Leader:    robot.JointVector{1, 2, 3, 4, 5, float64(i)},
			Follower:  robot.JointVector{1, 2, 3, 4, 5, float64(i) - 0.5},
			Target:    robot.JointVector{1, 2, 3, 4, 5, float64(i)},
			Frames:    map[string]camera.Frame{},
		}
		for _, src := range sources {
			st.Frames[src] = camera.Frame{
				Seq:       uint64(i + 1),
				Timestamp: st.Timestamp,
				Width:     4,
				Height:    2,
				Data:      []byte{byte(i), byte(i), byte(index)},
				SourceID:  src,
			}
		}
		ep.Steps = append(ep.Steps, st)
	}
	return ep
}

func TestWriteEpisodePersistsSteps(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Config{FPS: 50, Task: "fold the towel"})
	if err != nil {
		t.Fatal(err)
	}

	if err := w.WriteEpisode(testEpisode(0, 10)); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEpisode(testEpisode(1, 7)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var episodes, steps int
	if err := db.QueryRow("SELECT COUNT(*) FROM episodes").Scan(&episodes); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM steps").Scan(&steps); err != nil {
		t.Fatal(err)
	}
	if episodes != 2 || steps != 17 {
		t.Errorf("got %d episodes / %d steps, want 2 / 17", episodes, steps)
	}

	var numSteps int
	if err := db.QueryRow("SELECT num_steps FROM episodes WHERE episode_index = 1").Scan(&numSteps); err != nil {
		t.Fatal(err)
	}
	if numSteps != 7 {
		t.Errorf("episode 1 num_steps = %d, want 7", numSteps)
	}

	var leader5 float64
	if err := db.QueryRow(
		"SELECT leader_5 FROM steps WHERE episode_index = 0 AND step_index = 3",
	).Scan(&leader5); err != nil {
		t.Fatal(err)
	}
	if leader5 != 3 {
		t.Errorf("leader_5 at step 3 = %v, want 3", leader5)
	}
}

func TestStreamAlignsWithStepIndex(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Config{FPS: 50})
	if err != nil {
		t.Fatal(err)
	}

	ep := testEpisode(0, 5, "top")
	// Step 2 lost its frame; the stream must keep a gap at record 2.
	delete(ep.Steps[2].Frames, "top")
	if err := w.WriteEpisode(ep); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	frames, err := ReadStream(filepath.Join(dir, "top", "episode_000.vstream"))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 5 {
		t.Fatalf("stream has %d records, want 5", len(frames))
	}
	for i, f := range frames {
		if i == 2 {
			if !f.Empty() {
				t.Errorf("record 2 should be a gap")
			}
			continue
		}
		if f.Empty() {
			t.Fatalf("record %d is unexpectedly empty", i)
		}
		if f.Data[0] != byte(i) {
			t.Errorf("record %d carries step %d's frame", i, f.Data[0])
		}
		if f.Width != 4 || f.Height != 2 {
			t.Errorf("record %d has size %dx%d, want 4x2", i, f.Width, f.Height)
		}
	}
}

func TestSessionDirIsExclusive(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, err := Open(dir, Config{}); err == nil {
		t.Fatal("second writer acquired the same session dir")
	}
}

func TestCloseFinalizesMetadataOnce(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Config{FPS: 30, Task: "stack the cups"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEpisode(testEpisode(0, 3, "top", "wrist")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.SessionID != w.SessionID() {
		t.Errorf("meta session id %q != %q", meta.SessionID, w.SessionID())
	}
	if meta.Episodes != 1 || meta.FPS != 30 || meta.Task != "stack the cups" {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Sources) != 2 || meta.Sources[0] != "top" || meta.Sources[1] != "wrist" {
		t.Errorf("meta sources = %v, want [top wrist]", meta.Sources)
	}

	// Finalized session rejects further writes; a second Close is a no-op.
	if err := w.WriteEpisode(testEpisode(1, 3)); err == nil {
		t.Error("write after Close should fail")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestWriteEpisodeRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.WriteEpisode(&record.Episode{Index: 0}); err == nil {
		t.Error("empty episode should be rejected")
	}
}
