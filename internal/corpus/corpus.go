package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"netfuzz/internal/utils"

	"go.uber.org/zap"
)

var ErrEmptyCorpus = errors.New("corpus is empty")

// Input is one seed file of the corpus. Name is relative to the corpus root.
type Input struct {
	Name string
	Data []byte
}

// Corpus is a fixed, ordered set of inputs. It is never modified after loading.
type Corpus struct {
	inputs []Input
}

func New(inputs []Input) (*Corpus, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyCorpus
	}
	return &Corpus{inputs: inputs}, nil
}

// Load reads the corpus from a directory or from a tar.gz archive.
func Load(ctx context.Context, path string, logger *zap.Logger) (*Corpus, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus: %w", err)
	}

	dir := path
	if !info.IsDir() {
		if !utils.IsTarGz(path) {
			return nil, fmt.Errorf("corpus %s is neither a directory nor a tar.gz file", path)
		}
		tmpDir, err := os.MkdirTemp("", "netfuzz-corpus-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		if err := utils.UnpackTarGz(ctx, path, tmpDir); err != nil {
			return nil, err
		}
		dir = tmpDir
	}

	inputs, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("corpus loaded", zap.String("path", path), zap.Int("inputs", len(inputs)))
	return New(inputs)
}

func readDir(root string) ([]Input, error) {
	var inputs []Input
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		inputs = append(inputs, Input{filepath.ToSlash(rel), data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}
	// WalkDir already yields lexical order, keep it explicit
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs, nil
}

func (c *Corpus) Len() int {
	return len(c.inputs)
}

func (c *Corpus) Get(i int) Input {
	return c.inputs[i]
}

// Pick returns an input chosen uniformly at random.
func (c *Corpus) Pick(rng *rand.Rand) Input {
	return c.inputs[rng.Intn(len(c.inputs))]
}
