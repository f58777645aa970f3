package logging

import "testing"

// These only exercise that every severity call is wired to a real zap
// level without panicking; the zap output format itself is the
// library's concern, not this package's.
func TestNopDiscardsEverySeverity(t *testing.T) {
	l := Nop()
	l.Notice("client %d recovered", 3)
	l.Warning("cumulative writer time %dms", 1500)
	l.DeadlockConflict(42)
	l.CantOpen("stat %s: %v", "/tmp/db.sqlite-hma", "permission denied")
}

func TestNewBuildsAtRequestedLevel(t *testing.T) {
	l, err := New("debug")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Sync()
	l.Notice("hello")
}

func TestNewFallsBackOnUnknownLevel(t *testing.T) {
	l, err := New("not-a-level")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Sync()
	l.Notice("hello")
}
