package stats

import "testing"

func TestBucketDirShardsByFirstHexCharacter(t *testing.T) {
	got := BucketDir("/cache", "ab12cd34")
	want := "/cache/a"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBucketDirWithNoDigestReturnsCacheRoot(t *testing.T) {
	got := BucketDir("/cache", "")
	if got != "/cache" {
		t.Errorf("expected cache root when no digest is available, got %q", got)
	}
}

func TestIncrementWritesToItsOwnBucket(t *testing.T) {
	root := t.TempDir()

	if err := Increment(BucketDir(root, "ab12"), CacheMiss, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := Increment(BucketDir(root, "ffee"), CacheMiss, 2); err != nil {
		t.Fatalf("increment: %v", err)
	}

	a, err := Snapshot(BucketDir(root, "ab12"))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if a[CacheMiss] != 1 {
		t.Errorf("expected bucket a to hold 1 cache_miss, got %d", a[CacheMiss])
	}

	f, err := Snapshot(BucketDir(root, "ffee"))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if f[CacheMiss] != 2 {
		t.Errorf("expected bucket f to hold 2 cache_miss, got %d", f[CacheMiss])
	}
}

func TestAggregateSumsGlobalAndAllBuckets(t *testing.T) {
	root := t.TempDir()

	if err := Increment(root, BadCompilerArgs, 5); err != nil {
		t.Fatalf("increment global: %v", err)
	}
	if err := Increment(BucketDir(root, "ab12"), CacheMiss, 1); err != nil {
		t.Fatalf("increment bucket a: %v", err)
	}
	if err := Increment(BucketDir(root, "ffee"), CacheMiss, 2); err != nil {
		t.Fatalf("increment bucket f: %v", err)
	}

	total, err := Aggregate(root)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if total[CacheMiss] != 3 {
		t.Errorf("expected aggregated cache_miss of 3 across buckets, got %d", total[CacheMiss])
	}
	if total[BadCompilerArgs] != 5 {
		t.Errorf("expected aggregated bad_compiler_args of 5 from the global counter, got %d", total[BadCompilerArgs])
	}
}

func TestZeroAllResetsGlobalAndEveryBucket(t *testing.T) {
	root := t.TempDir()

	if err := Increment(root, BadCompilerArgs, 5); err != nil {
		t.Fatalf("increment global: %v", err)
	}
	if err := Increment(BucketDir(root, "ab12"), CacheMiss, 1); err != nil {
		t.Fatalf("increment bucket: %v", err)
	}

	if err := ZeroAll(root); err != nil {
		t.Fatalf("zero all: %v", err)
	}

	total, err := Aggregate(root)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if total[CacheMiss] != 0 || total[BadCompilerArgs] != 0 {
		t.Errorf("expected every counter reset to 0, got %v", total)
	}
}
