package schedule

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"concierge/pkg/logging"
)

func testLogger() logging.Logger {
	logger := logging.NewLogger()
	logger.SetOutput(os.Stderr)
	return logger
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
}

func TestNewStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "schedule.json"), testLogger())
	if got := store.ListAll(); len(got) != 0 {
		t.Errorf("expected empty store, got %d buckets", len(got))
	}
}

func TestNewStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeFile(t, path, "{not json")
	store := NewStore(path, testLogger())
	if got := store.ListAll(); len(got) != 0 {
		t.Errorf("expected corrupt file to start empty, got %d buckets", len(got))
	}
}

func TestLegacyShapeNormalizedOnRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeFile(t, path, `{
		"2026-08-29": {"video_path": "a.mp4", "caption": "old", "upload_time": "18:00"},
		"2026-08-30": [{"video_path": "b.mp4", "caption": "new", "time": "12:00"}]
	}`)

	store := NewStore(path, testLogger())
	all := store.ListAll()
	if len(all["2026-08-29"]) != 1 {
		t.Fatalf("expected legacy bucket to list as one post, got %d", len(all["2026-08-29"]))
	}
	if got := all["2026-08-29"][0].Time; got != "18:00" {
		t.Errorf("expected upload_time to map onto time, got %q", got)
	}
	if got := all["2026-08-30"][0].Time; got != "12:00" {
		t.Errorf("expected list bucket time 12:00, got %q", got)
	}
}

func TestAddPostPersistsCanonicalShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	store := NewStore(path, testLogger())

	if err := store.AddPost("2026-08-29", PostRecord{VideoPath: "a.mp4", Caption: "first", Time: "18:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddPost("2026-08-29", PostRecord{VideoPath: "b.mp4", Caption: "second", Time: "19:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	var onDisk map[string][]PostRecord
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("file not parseable as date-keyed lists: %v", err)
	}
	posts := onDisk["2026-08-29"]
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts on disk, got %d", len(posts))
	}
	if posts[0].Status != StatusPending {
		t.Errorf("expected default status %q, got %q", StatusPending, posts[0].Status)
	}
}

func TestAddPostToLegacyBucketNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeFile(t, path, `{"2026-08-29": {"video_path": "a.mp4", "upload_time": "18:00"}}`)

	store := NewStore(path, testLogger())
	if err := store.AddPost("2026-08-29", PostRecord{VideoPath: "b.mp4", Time: "19:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	posts := store.Posts("2026-08-29")
	if len(posts) != 2 {
		t.Fatalf("expected legacy bucket to grow to 2 posts, got %d", len(posts))
	}
	if posts[0].VideoPath != "a.mp4" || posts[0].Time != "18:00" {
		t.Errorf("expected legacy record first with normalized time, got %+v", posts[0])
	}

	// After normalization the bucket deletes per index, not wholesale.
	if ok, err := store.DeletePost("2026-08-29", 0); err != nil || !ok {
		t.Fatalf("expected index delete to succeed, ok=%v err=%v", ok, err)
	}
	if got := store.Posts("2026-08-29"); len(got) != 1 || got[0].VideoPath != "b.mp4" {
		t.Errorf("expected only b.mp4 to remain, got %+v", got)
	}
}

func TestDeletePostLegacyBucketRemovedWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeFile(t, path, `{"2026-08-29": {"video_path": "a.mp4", "upload_time": "18:00"}}`)

	store := NewStore(path, testLogger())
	ok, err := store.DeletePost("2026-08-29", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected legacy delete to succeed regardless of index")
	}
	if got := store.ListAll(); len(got) != 0 {
		t.Errorf("expected legacy bucket dropped entirely, got %+v", got)
	}
}

func TestDeletePostOutOfRangeIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	store := NewStore(path, testLogger())
	if err := store.AddPost("2026-08-29", PostRecord{VideoPath: "a.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok, err := store.DeletePost("2026-08-29", 5); err != nil || ok {
		t.Errorf("expected out-of-range delete to be a no-op, ok=%v err=%v", ok, err)
	}
	if ok, err := store.DeletePost("2026-01-01", 0); err != nil || ok {
		t.Errorf("expected unknown date delete to be a no-op, ok=%v err=%v", ok, err)
	}
	if got := store.Posts("2026-08-29"); len(got) != 1 {
		t.Errorf("expected bucket untouched, got %d posts", len(got))
	}
}

func TestDeleteLastPostDropsBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	store := NewStore(path, testLogger())
	if err := store.AddPost("2026-08-29", PostRecord{VideoPath: "a.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, err := store.DeletePost("2026-08-29", 0); err != nil || !ok {
		t.Fatalf("expected delete to succeed, ok=%v err=%v", ok, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("failed to parse file: %v", err)
	}
	if _, ok := onDisk["2026-08-29"]; ok {
		t.Error("expected emptied bucket to be dropped from the file")
	}
}

func TestAddPostWriteFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	// Point the store at a path whose parent is a file, so the temp
	// file creation fails.
	blocker := filepath.Join(dir, "blocker")
	writeFile(t, blocker, "x")
	store := NewStore(filepath.Join(blocker, "schedule.json"), testLogger())

	err := store.AddPost("2026-08-29", PostRecord{VideoPath: "a.mp4"})
	if err == nil {
		t.Fatal("expected write failure")
	}
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected *WriteError, got %T", err)
	}
	if got := store.ListAll(); len(got) != 0 {
		t.Errorf("expected in-memory rollback after failed write, got %+v", got)
	}
}

func TestDates(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "schedule.json"), testLogger())
	for _, d := range []string{"2026-09-02", "2026-08-29", "2026-09-01"} {
		if err := store.AddPost(d, PostRecord{VideoPath: "v.mp4"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	dates := store.Dates()
	want := []string{"2026-08-29", "2026-09-01", "2026-09-02"}
	if len(dates) != len(want) {
		t.Fatalf("expected %d dates, got %d", len(want), len(dates))
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("expected dates[%d]=%s, got %s", i, want[i], dates[i])
		}
	}

	if !reflect.DeepEqual(store.ListAll(), store.ListAll()) {
		t.Error("expected repeated reads to return identical content")
	}
}
