package procutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEnvOverride(t *testing.T) {
	orig := []string{"PATH=/bin", "HOME=/root", "FOO=orig"}
	over := []string{"FOO=new", "EXTRA=added"}

	got := EnvOverride(orig, over)

	want := map[string]string{
		"PATH":  "/bin",
		"HOME":  "/root",
		"FOO":   "new",
		"EXTRA": "added",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	seen := map[string]bool{}
	for _, kv := range got {
		parts := bytes.SplitN([]byte(kv), []byte("="), 2)
		k, v := string(parts[0]), string(parts[1])
		if want[k] != v {
			t.Fatalf("key %s: want %s, got %s", k, want[k], v)
		}
		seen[k] = true
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("missing expected key %s in result %v", k, got)
		}
	}

	if len(orig) != 3 || orig[2] != "FOO=orig" {
		t.Fatalf("EnvOverride must not mutate orig, got %v", orig)
	}
}

func TestByteKeyStable(t *testing.T) {
	k1 := ByteKey([]byte("app_42"))
	k2 := ByteKey([]byte("app_42"))
	k3 := ByteKey([]byte("app_43"))

	if k1 != k2 {
		t.Fatalf("ByteKey must be stable for the same input: %s != %s", k1, k2)
	}
	if k1 == k3 {
		t.Fatalf("ByteKey should differ for different input")
	}
	if len(k1) != 32 {
		t.Fatalf("expected a 32-hex-char key, got %q (%d chars)", k1, len(k1))
	}
}

func TestMkHashedDirAndRmEmptyDirs(t *testing.T) {
	Convey("Given a temp base directory", t, func() {
		base, err := os.MkdirTemp("", "tsm-procutil-test")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(base) })

		Convey("MkHashedDir creates a nested leaf directory under base", func() {
			leaf, err := MkHashedDir(base, "app_42")
			So(err, ShouldBeNil)

			info, err := os.Stat(leaf)
			So(err, ShouldBeNil)
			So(info.IsDir(), ShouldBeTrue)

			rel, err := filepath.Rel(base, leaf)
			So(err, ShouldBeNil)
			So(rel, ShouldNotEqual, ".")

			Convey("calling it again for the same key returns the same directory", func() {
				leaf2, err := MkHashedDir(base, "app_42")
				So(err, ShouldBeNil)
				So(leaf2, ShouldEqual, leaf)
			})

			Convey("RmEmptyDirs removes the leaf and its now-empty parents, stopping at base", func() {
				err := RmEmptyDirs(leaf, base)
				So(err, ShouldBeNil)

				_, err = os.Stat(leaf)
				So(os.IsNotExist(err), ShouldBeTrue)

				_, err = os.Stat(base)
				So(err, ShouldBeNil)
			})

			Convey("RmEmptyDirs leaves non-empty parents alone", func() {
				if err := os.WriteFile(filepath.Join(filepath.Dir(leaf), "keepme"), []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}
				err := RmEmptyDirs(leaf, base)
				So(err, ShouldBeNil)

				_, err = os.Stat(filepath.Dir(leaf))
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestCompressDecompress(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")
	compressed, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) == 0 {
		t.Fatal("expected non-empty compressed output")
	}
	decompressed, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round-trip mismatch: got %q, want %q", decompressed, data)
	}
}

func TestPrefixSuffixSaver(t *testing.T) {
	w := &PrefixSuffixSaver{N: 8}
	_, _ = w.Write([]byte("0123456789abcdefghij"))

	out := w.Bytes()
	if !bytes.Contains(out, []byte("01234567")) {
		t.Fatalf("expected prefix retained, got %q", out)
	}
	if !bytes.Contains(out, []byte("cdefghij")) {
		t.Fatalf("expected suffix retained, got %q", out)
	}
	if !bytes.Contains(out, []byte("omitting")) {
		t.Fatalf("expected an omission notice for skipped bytes, got %q", out)
	}
}

func TestPrefixSuffixSaverShortWrite(t *testing.T) {
	w := &PrefixSuffixSaver{N: 100}
	_, _ = w.Write([]byte("short"))

	if got := string(w.Bytes()); got != "short" {
		t.Fatalf("expected unmodified short write, got %q", got)
	}
}

func TestStdFilterTrimsProgressBars(t *testing.T) {
	input := "normal line\nstart\ra\rb\rc\rend\nfinal\n"
	var out bytes.Buffer

	done := StdFilter(bytes.NewBufferString(input), &out)
	if err := <-done; err != nil {
		t.Fatalf("StdFilter reported an error: %v", err)
	}

	got := out.String()
	if !bytes.Contains([]byte(got), []byte("normal line")) {
		t.Fatalf("expected the plain line preserved, got %q", got)
	}
	if !bytes.Contains([]byte(got), []byte("final")) {
		t.Fatalf("expected the trailing line preserved, got %q", got)
	}
	if bytes.Count([]byte(got), []byte("\ra\r")) != 0 {
		t.Fatalf("expected \\r-delimited segments collapsed, got %q", got)
	}
}
