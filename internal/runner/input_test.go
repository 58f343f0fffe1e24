package runner

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadURLsText(t *testing.T) {
	path := writeInput(t, "urls.txt",
		"\ufeffhttps://example.com/a\n\n  https://example.com/b  \nhttps://example.com/c\n")
	inputs, err := LoadURLs(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	if len(inputs) != len(want) {
		t.Fatalf("got %d inputs: %v", len(inputs), inputs)
	}
	for i := range want {
		if inputs[i].URL != want[i] {
			t.Errorf("inputs[%d].URL = %q, want %q", i, inputs[i].URL, want[i])
		}
		if inputs[i].Dynamic {
			t.Errorf("inputs[%d] unexpectedly marked dynamic", i)
		}
	}
}

func TestLoadURLsCSVWithHeader(t *testing.T) {
	path := writeInput(t, "urls.csv",
		"url\nhttps://example.com/a\nhttps://example.com/b\n")
	inputs, err := LoadURLs(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 || inputs[0].URL != "https://example.com/a" {
		t.Fatalf("inputs = %v", inputs)
	}
}

func TestLoadURLsCSVDynamicColumn(t *testing.T) {
	path := writeInput(t, "urls.csv",
		"url,dynamic\nhttps://example.com/static,0\nhttps://example.com/app,true\nhttps://example.com/spa,yes\n")
	inputs, err := LoadURLs(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 3 {
		t.Fatalf("inputs = %v", inputs)
	}
	if inputs[0].Dynamic {
		t.Error("static row marked dynamic")
	}
	if !inputs[1].Dynamic || !inputs[2].Dynamic {
		t.Errorf("dynamic rows not flagged: %v", inputs)
	}
}

func TestLoadURLsCSVNoHeader(t *testing.T) {
	path := writeInput(t, "urls.csv",
		"https://example.com/a\nhttps://example.com/b\n")
	inputs, err := LoadURLs(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 {
		t.Fatalf("inputs = %v", inputs)
	}
}

func TestLoadURLsMissingFile(t *testing.T) {
	if _, err := LoadURLs(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("missing input must error")
	}
}

func TestSplitShards(t *testing.T) {
	inputs := make([]Input, 7)
	for i := range inputs {
		inputs[i] = Input{URL: "https://example.com/p", Dynamic: i == 4}
	}
	shards := SplitShards(inputs, 3)
	if len(shards) != 3 {
		t.Fatalf("got %d shards, want 3", len(shards))
	}
	if len(shards[0]) != 3 || len(shards[1]) != 3 || len(shards[2]) != 1 {
		t.Errorf("shard sizes = %d/%d/%d", len(shards[0]), len(shards[1]), len(shards[2]))
	}
	if shards[1][2].ShardIndex != 1 || shards[1][2].IndexInShard != 2 {
		t.Errorf("job coordinates = %d/%d", shards[1][2].ShardIndex, shards[1][2].IndexInShard)
	}
	if shards[2][0].ShardIndex != 2 {
		t.Errorf("last shard index = %d", shards[2][0].ShardIndex)
	}
	if !shards[1][1].DynamicHint {
		t.Error("dynamic flag lost in sharding")
	}
}

func TestSplitShardsEmpty(t *testing.T) {
	if shards := SplitShards(nil, 500); len(shards) != 0 {
		t.Errorf("empty input produced %d shards", len(shards))
	}
}
