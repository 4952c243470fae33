package result

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	CellFile      = "results.yaml"
	GridFile      = "aggregated_results.yaml"
	LevelFile     = "level_search_results.yaml"
	BenchmarkFile = "stress_benchmark_results.yaml"
	SubtasksDir   = "subtasks"
	LogFile       = "robogauge.log"
	TraceFile     = "traces.json"
)

// CreateRunDir makes <base>/runs/<stamp>[-experiment] and points <base>/latest at it.
func CreateRunDir(baseDir, experiment string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	if experiment != "" {
		stamp += "-" + experiment
	}
	runDir, err := filepath.Abs(filepath.Join(runsDir, stamp))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// CellDir is the log directory of one grid cell.
func CellDir(gridDir string, k CellKey) string {
	return filepath.Join(gridDir, fmt.Sprintf("seed%d_baseMass%g_friction%g", k.Seed, k.Mass, k.Friction))
}

// TaskDir is the directory of one stress task.
func TaskDir(runDir, key string) string {
	return filepath.Join(runDir, SubtasksDir, key)
}

// ProbeDir is the grid directory of one level-search probe.
func ProbeDir(searchDir string, level int) string {
	return filepath.Join(searchDir, fmt.Sprintf("level_%d", level))
}

func writeDoc(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	var data []byte
	var err error
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readDoc(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, v)
	} else {
		err = yaml.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// WriteCell stores c as <dir>/results.yaml.
func WriteCell(dir string, c *Cell) error {
	return writeDoc(filepath.Join(dir, CellFile), c)
}

// ReadCell loads a cell document; .json paths are decoded as JSON, anything
// else as YAML.
func ReadCell(path string) (*Cell, error) {
	var c Cell
	if err := readDoc(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func WriteGrid(dir string, g *GridResult) error {
	return writeDoc(filepath.Join(dir, GridFile), g)
}

func ReadGrid(dir string) (*GridResult, error) {
	var g GridResult
	if err := readDoc(filepath.Join(dir, GridFile), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func WriteLevel(dir string, l *LevelResult) error {
	return writeDoc(filepath.Join(dir, LevelFile), l)
}

func ReadLevel(dir string) (*LevelResult, error) {
	var l LevelResult
	if err := readDoc(filepath.Join(dir, LevelFile), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func WriteBenchmark(dir string, b *BenchmarkResult) error {
	return writeDoc(filepath.Join(dir, BenchmarkFile), b)
}

func ReadBenchmark(dir string) (*BenchmarkResult, error) {
	var b BenchmarkResult
	if err := readDoc(filepath.Join(dir, BenchmarkFile), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CompressDir archives dir into dir + ".tar.zst" and removes dir.
func CompressDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	out := dir + ".tar.zst"
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	if err := archive(f, dir); err != nil {
		f.Close()
		os.Remove(out)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing %s: %w", dir, err)
	}
	return out, nil
}

func archive(w io.Writer, dir string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)
	root := filepath.Dir(dir)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("archiving %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zstd: %w", err)
	}
	return nil
}

// ExtractArchive unpacks a .tar.zst produced by CompressDir into dest.
func ExtractArchive(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}
