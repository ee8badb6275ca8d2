package schema

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		obs  Observation
		want LogicalState
		ok   bool
	}{
		{"no backup, at target", Observation{SchemaVer: TargetVersion, BackupExists: false}, StateOK, true},
		{"no backup, original version", Observation{SchemaVer: Version{1, 0, 1}, BackupExists: false}, StateOK, true},
		{"no backup, zero version", Observation{SchemaVer: Version{}, BackupExists: false}, "", false},
		{"cleanup", Observation{Stage: StageNone, SchemaVer: Version{}, BackupExists: true}, StateCleanup, true},
		{"done", Observation{Stage: StageDone, SchemaVer: Version{}, BackupExists: true}, StateDone, true},
		{"upgrading", Observation{Stage: StageUpgrading, SchemaVer: Version{0, 0, 0}, BackupExists: true}, StateUpgrading, true},
		{"setting version, zero", Observation{Stage: StageSettingUpgradeVersion, SchemaVer: Version{}, BackupExists: true}, StateSettingUpgradeVersion, true},
		{"setting version, original still live", Observation{Stage: StageSettingUpgradeVersion, SchemaVer: Version{1, 0, 1}, BackupExists: true}, StateNone, true},
		{"stale backup, original live", Observation{Stage: StageNone, SchemaVer: Version{1, 0, 1}, BackupExists: true}, StateNone, true},
	}
	for _, c := range cases {
		got, ok := Classify(c.obs)
		if ok != c.ok || got != c.want {
			t.Errorf("%s: Classify(%+v) = (%q, %v), want (%q, %v)", c.name, c.obs, got, ok, c.want, c.ok)
		}
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("2.1.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v != (Version{2, 1, 0}) {
		t.Fatalf("got %+v", v)
	}
	if _, err := ParseVersion("2.1"); err == nil {
		t.Fatal("expected error for malformed version")
	}
}

func TestStepsFrom(t *testing.T) {
	steps := StepsFrom(Version{1, 0, 1})
	want := []Version{{2, 0, 0}, {2, 1, 0}}
	if len(steps) != len(want) {
		t.Fatalf("got %v, want %v", steps, want)
	}
	for i := range steps {
		if steps[i] != want[i] {
			t.Fatalf("got %v, want %v", steps, want)
		}
	}
}
