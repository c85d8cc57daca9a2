package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcortex/buildcheck/internal/cache"
	"github.com/techcortex/buildcheck/internal/catalog/catalogtest"
	"github.com/techcortex/buildcheck/internal/domain"
)

func TestSourceLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("FetchesOnlyRequestedParts", func(t *testing.T) {
		repo := catalogtest.NewRepository(catalogtest.Catalog())
		src := NewSource(repo, nil, DefaultOptions(), time.Minute)

		snap, err := src.Load(ctx, "tenant-001", []string{catalogtest.CPUAM5, catalogtest.BoardAM5})
		require.NoError(t, err)

		_, ok := snap.Part(catalogtest.CPUAM5)
		assert.True(t, ok)
		_, ok = snap.Part(catalogtest.GPU8Pin)
		assert.False(t, ok)
		assert.Len(t, snap.Rules(), 5)
	})

	t.Run("NoPartsSkipsPartRead", func(t *testing.T) {
		repo := catalogtest.NewRepository(catalogtest.Catalog())
		src := NewSource(repo, nil, DefaultOptions(), time.Minute)

		_, err := src.Schema(ctx, "tenant-001")
		require.NoError(t, err)
		assert.Equal(t, int64(0), repo.PartReads.Load())
	})

	t.Run("SchemaIsCached", func(t *testing.T) {
		repo := catalogtest.NewRepository(catalogtest.Catalog())
		src := NewSource(repo, cache.NewLRUCache(10), DefaultOptions(), time.Minute)

		for i := 0; i < 3; i++ {
			_, err := src.Load(ctx, "tenant-001", []string{catalogtest.CPUAM5})
			require.NoError(t, err)
		}
		assert.Equal(t, int64(1), repo.SchemaReads.Load())
		assert.Equal(t, int64(3), repo.PartReads.Load())
	})

	t.Run("InvalidateRefetches", func(t *testing.T) {
		repo := catalogtest.NewRepository(catalogtest.Catalog())
		src := NewSource(repo, cache.NewLRUCache(10), DefaultOptions(), time.Minute)

		_, err := src.Schema(ctx, "tenant-001")
		require.NoError(t, err)
		require.NoError(t, src.Invalidate(ctx, "tenant-001"))
		_, err = src.Schema(ctx, "tenant-001")
		require.NoError(t, err)

		assert.Equal(t, int64(2), repo.SchemaReads.Load())
	})

	t.Run("TenantsAreCachedSeparately", func(t *testing.T) {
		repo := catalogtest.NewRepository(catalogtest.Catalog())
		src := NewSource(repo, cache.NewLRUCache(10), DefaultOptions(), time.Minute)

		_, err := src.Schema(ctx, "tenant-001")
		require.NoError(t, err)
		_, err = src.Schema(ctx, "tenant-002")
		require.NoError(t, err)

		assert.Equal(t, int64(2), repo.SchemaReads.Load())
	})

	t.Run("BrokenTreeFails", func(t *testing.T) {
		data := catalogtest.Catalog()
		data.Categories = append(data.Categories, data.Categories[0])
		src := NewSource(catalogtest.NewRepository(data), nil, DefaultOptions(), time.Minute)

		_, err := src.Schema(ctx, "tenant-001")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

const catalogYAML = `
categories:
  - id: cat-cpu
    name: Processor
    slug: processor
  - id: cat-storage
    name: Storage
    slug: storage
  - id: cat-nvme
    name: NVMe SSD
    slug: nvme-ssd
    isSubcategory: true
    parentId: cat-storage
templates:
  - id: tpl-cpu-socket
    categoryId: cat-cpu
    name: socket
    displayName: Socket
    dataKind: socket
    enumValues: [AM4, AM5]
    isCompatibilityKey: true
parts:
  - id: cpu-1
    categoryId: cat-cpu
    name: Ryzen
    price: 199.5
    inStock: true
    attributes:
      socket: AM5
      tdp: 65
rules:
  - id: rule-1
    name: Range
    primaryCategoryId: cat-cpu
    primaryAttributeId: tpl-cpu-socket
    secondaryCategoryId: cat-cpu
    secondaryAttributeId: tpl-cpu-socket
    ruleType: range_check
    maxValue: 10
`

func TestReadFileAndImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	data, err := ReadFile(path)
	require.NoError(t, err)

	require.Len(t, data.Categories, 3)
	require.NotNil(t, data.Categories[2].ParentID)
	assert.Equal(t, "cat-storage", *data.Categories[2].ParentID)
	assert.Equal(t, domain.KindSocket, data.Templates[0].DataKind)
	assert.Equal(t, 199.5, data.Parts[0].Price)
	assert.Equal(t, "AM5", data.Parts[0].Attributes["socket"])
	require.NotNil(t, data.Rules[0].MaxValue)
	assert.Nil(t, data.Rules[0].MinValue)

	repo := catalogtest.NewRepository(nil)
	stats, err := Import(context.Background(), repo, "tenant-001", data, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Categories: 3, Templates: 1, Parts: 1, Rules: 1}, stats)

	rule, err := repo.GetRule(context.Background(), "tenant-001", "rule-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleRangeCheck, rule.RuleType)
}

func TestReadFileErrors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: {not: [a list"), 0o644))
	_, err = ReadFile(path)
	assert.Error(t, err)
}

func TestImportRejectsBrokenTree(t *testing.T) {
	data := catalogtest.Catalog()
	data.Categories = append(data.Categories, domain.Category{ID: "", Slug: "nameless"})

	repo := catalogtest.NewRepository(nil)
	_, err := Import(context.Background(), repo, "tenant-001", data, DefaultOptions())
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	categories, _ := repo.ListCategories(context.Background(), "tenant-001")
	assert.Empty(t, categories, "nothing is written when the tree is broken")
}

func TestFileWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	w, err := NewFileWatcher(path, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	go w.Watch(ctx, func(ctx context.Context, p string) { changed <- p })

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML+"\n"), 0o644))

	select {
	case p := <-changed:
		assert.Equal(t, filepath.Base(path), filepath.Base(p))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}
}
