package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func manyFiles(t *testing.T, root string, n int) {
	t.Helper()
	files := make(map[string]string, n)
	for i := range n {
		files[fmt.Sprintf("pkg%d/file%d.txt", i%7, i)] = strings.Repeat("x", i)
	}
	writeFiles(t, root, files)
}

func TestSentinel(t *testing.T) {
	tmp := t.TempDir()

	assert.Equal(t, Sentinel, Compute(nil))
	assert.Equal(t, Sentinel, Compute([]string{}))
	assert.Equal(t, Sentinel, Compute([]string{filepath.Join(tmp, "missing")}))
	assert.Len(t, string(Sentinel), 64)
}

func TestChoose(t *testing.T) {
	e := New()
	assert.Equal(t, strategyExact, e.choose(0))
	assert.Equal(t, strategyExact, e.choose(DefaultThreshold))
	assert.Equal(t, strategySampling, e.choose(DefaultThreshold+1))
}

func TestExactSingleDirectory(t *testing.T) {
	dist := filepath.Join(t.TempDir(), "dist")
	writeFiles(t, dist, map[string]string{
		"index.js":        strings.Repeat("a", 4000),
		"app.css":         strings.Repeat("b", 3000),
		"assets/logo.svg": strings.Repeat("c", 3000),
	})

	first := Compute([]string{dist})
	require.Len(t, string(first), 64)
	require.NotEqual(t, Sentinel, first)

	want, err := treeHash(dist)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(want), first)

	assert.Equal(t, first, Compute([]string{dist}), "stable across calls")

	// same size, different content
	writeFiles(t, dist, map[string]string{"index.js": strings.Repeat("z", 4000)})
	assert.NotEqual(t, first, Compute([]string{dist}))
}

func TestExactIgnoresNamesAndMetadata(t *testing.T) {
	a := filepath.Join(t.TempDir(), "a")
	b := filepath.Join(t.TempDir(), "b")
	writeFiles(t, a, map[string]string{"one.txt": "hello"})
	writeFiles(t, b, map[string]string{"two.txt": "hello"})

	assert.Equal(t, Compute([]string{a}), Compute([]string{b}))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(a, "one.txt"), past, past))
	assert.Equal(t, Compute([]string{a}), Compute([]string{b}))
}

func TestPermutationInvariance(t *testing.T) {
	tmp := t.TempDir()
	dirs := []string{filepath.Join(tmp, "dist"), filepath.Join(tmp, "node_modules"), filepath.Join(tmp, "target")}
	writeFiles(t, dirs[0], map[string]string{"main.js": "console.log(1)"})
	writeFiles(t, dirs[1], map[string]string{"left-pad/index.js": "module.exports = pad"})
	writeFiles(t, dirs[2], map[string]string{"release/app": "binary"})

	permutations := [][]string{
		{dirs[0], dirs[1], dirs[2]},
		{dirs[2], dirs[0], dirs[1]},
		{dirs[1], dirs[2], dirs[0]},
	}

	for _, e := range []*Engine{New(), New(WithThreshold(1))} {
		want := e.Compute(permutations[0])
		for _, p := range permutations[1:] {
			assert.Equal(t, want, e.Compute(p))
		}
	}
}

func TestMultiDirectoryCombinesExactHashes(t *testing.T) {
	tmp := t.TempDir()
	a, b := filepath.Join(tmp, "a"), filepath.Join(tmp, "b")
	writeFiles(t, a, map[string]string{"x": "1"})
	writeFiles(t, b, map[string]string{"y": "2"})

	ha, err := treeHash(a)
	require.NoError(t, err)
	hb, err := treeHash(b)
	require.NoError(t, err)

	hashes := []string{ha, hb}
	if hb < ha {
		hashes = []string{hb, ha}
	}

	got := Compute([]string{a, b})
	assert.Equal(t, combine(hashes), got)
	assert.Len(t, string(got), 64)
}

func TestMissingDirectoryInSet(t *testing.T) {
	tmp := t.TempDir()
	a := filepath.Join(tmp, "a")
	writeFiles(t, a, map[string]string{"x": "1"})

	ha, err := treeHash(a)
	require.NoError(t, err)

	got := Compute([]string{a, filepath.Join(tmp, "missing")})
	want := combine([]string{string(Sentinel), ha})
	if ha < string(Sentinel) {
		want = combine([]string{ha, string(Sentinel)})
	}
	assert.Equal(t, want, got)
}

func TestSamplingPath(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	manyFiles(t, root, 40)

	e := New(WithThreshold(10))
	first := e.Compute([]string{root})
	assert.NotEqual(t, Sentinel, first)
	assert.LessOrEqual(t, len(first), 16)
	assert.Equal(t, first, e.Compute([]string{root}))

	// fan-out width must not matter
	assert.Equal(t, first, New(WithThreshold(10), WithConcurrency(1)).Compute([]string{root}))

	target := filepath.Join(root, "pkg0", "file0.txt")
	past := time.Now().Add(-72 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(target, past, past))
	second := e.Compute([]string{root})
	assert.NotEqual(t, first, second, "mtime change")

	writeFiles(t, root, map[string]string{"pkg0/file0.txt": "grown"})
	assert.NotEqual(t, second, e.Compute([]string{root}), "size change")
}

func TestSamplingContent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	manyFiles(t, root, 5)
	target := filepath.Join(root, "pkg1", "file1.txt")
	info, err := os.Stat(target)
	require.NoError(t, err)

	e := New(WithThreshold(0), WithSampleRate(1))
	first := e.Compute([]string{root})

	require.NoError(t, os.WriteFile(target, []byte("y"), 0o644))
	require.NoError(t, os.Chtimes(target, info.ModTime(), info.ModTime()))
	assert.NotEqual(t, first, e.Compute([]string{root}), "content change with identical metadata")

	never := New(WithThreshold(0), WithSampleRate(0))
	before := never.Compute([]string{root})
	require.NoError(t, os.WriteFile(target, []byte("z"), 0o644))
	require.NoError(t, os.Chtimes(target, info.ModTime(), info.ModTime()))
	assert.Equal(t, before, never.Compute([]string{root}), "unsampled content is invisible")
}

func TestSamplingUnionOfDirectories(t *testing.T) {
	tmp := t.TempDir()
	a, b := filepath.Join(tmp, "a"), filepath.Join(tmp, "b")
	manyFiles(t, a, 6)
	manyFiles(t, b, 6)

	e := New(WithThreshold(5))
	union := e.Compute([]string{a, b})
	assert.Equal(t, Fingerprint(fmt.Sprintf("%x", e.fileDigestXOR(t, a)^e.fileDigestXOR(t, b))), union)
}

// fileDigestXOR folds the per-file digests of one directory by hand.
func (e *Engine) fileDigestXOR(t *testing.T, dir string) uint64 {
	t.Helper()
	var acc uint64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.Mode().IsRegular() {
			acc ^= e.fileDigest(path)
		}
		return nil
	})
	require.NoError(t, err)
	return acc
}

func TestCombine(t *testing.T) {
	hashes := []string{
		"0000000000000001ffffffffffffffffffffffffffffffffffffffffffffffff",
		"0000000000000002eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	}
	want := "0000000000000003" + "0000000000000001" + "0000000000000007" + "0000000000000001"
	assert.Equal(t, Fingerprint(want), combine(hashes))

	wrap := []string{"ffffffffffffffff"}
	assert.Equal(t, Fingerprint("ffffffffffffffff"+"0000000000000000"+"0000000000000001"+"0000000000000002"), combine(wrap))
}

func TestUnreadableFileFallsBack(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read everything")
	}
	dir := filepath.Join(t.TempDir(), "dist")
	writeFiles(t, dir, map[string]string{"secret": "s", "open": "o"})
	require.NoError(t, os.Chmod(filepath.Join(dir, "secret"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(dir, "secret"), 0o644) })

	_, err := treeHash(dir)
	require.Error(t, err)

	e := New()
	assert.Equal(t, e.sampling([]string{dir}), e.Compute([]string{dir}))
}

func TestSymlinkedDirectory(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "real")
	writeFiles(t, target, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})
	link := filepath.Join(tmp, "dist")
	require.NoError(t, os.Symlink(target, link))

	assert.Equal(t, Compute([]string{target}), Compute([]string{link}))

	sampling := New(WithThreshold(1))
	assert.Equal(t, sampling.Compute([]string{target}), sampling.Compute([]string{link}))

	before := Compute([]string{link})
	writeFiles(t, target, map[string]string{"a.txt": "changed"})
	assert.NotEqual(t, before, Compute([]string{link}))
}
