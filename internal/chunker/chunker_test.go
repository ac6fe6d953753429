package chunker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/ndncore/internal/wire"
)

func TestComputeManifestSmallFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "small.bin")

	testData := []byte("Hello, ndncore!")
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	manifest, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if manifest.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", manifest.ChunkCount)
	}
	if manifest.FileSize != int64(len(testData)) {
		t.Errorf("FileSize = %d, want %d", manifest.FileSize, len(testData))
	}
	if manifest.FileName != "small.bin" {
		t.Errorf("FileName = %q, want small.bin", manifest.FileName)
	}
	if len(manifest.Chunks) != 1 {
		t.Fatalf("len(Chunks) = %d, want 1", len(manifest.Chunks))
	}
	if manifest.Chunks[0].ID.Length != uint64(len(testData)) {
		t.Errorf("chunk length = %d, want %d", manifest.Chunks[0].ID.Length, len(testData))
	}
	if manifest.Chunks[0].ID.Equal(wire.ChunkID{}) {
		t.Error("expected a non-zero content hash")
	}
	if manifest.MerkleRoot == "" {
		t.Error("merkle root should not be empty")
	}
}

func TestComputeManifestMultipleChunks(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "multi.bin")

	chunkSize := 1024 * 1024
	testData := make([]byte, chunkSize*2+chunkSize/2)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	manifest, err := ComputeManifest(testFile, ChunkOptions{ChunkSize: chunkSize})
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if manifest.ChunkCount != 3 {
		t.Fatalf("ChunkCount = %d, want 3", manifest.ChunkCount)
	}
	if manifest.Chunks[0].ID.Length != uint64(chunkSize) {
		t.Errorf("chunk 0 length = %d, want %d", manifest.Chunks[0].ID.Length, chunkSize)
	}
	if manifest.Chunks[1].ID.Length != uint64(chunkSize) {
		t.Errorf("chunk 1 length = %d, want %d", manifest.Chunks[1].ID.Length, chunkSize)
	}
	if manifest.Chunks[2].ID.Length != uint64(chunkSize/2) {
		t.Errorf("chunk 2 length = %d, want %d", manifest.Chunks[2].ID.Length, chunkSize/2)
	}
	if manifest.Chunks[0].ID.Equal(manifest.Chunks[1].ID) {
		t.Error("distinct chunk content should not hash to the same id")
	}
}

func TestComputeManifestDeterministic(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "deterministic.bin")

	testData := []byte("Deterministic test data")
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	m1, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}
	m2, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if !m1.Chunks[0].ID.Equal(m2.Chunks[0].ID) {
		t.Error("chunk ids should be identical for the same file")
	}
	if m1.MerkleRoot != m2.MerkleRoot {
		t.Error("merkle roots should be identical for the same file")
	}
}

func TestReadChunk(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "chunks.bin")

	chunkSize := 1024
	testData := make([]byte, chunkSize*3)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	chunk0, err := ReadChunk(testFile, 0, chunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(0): %v", err)
	}
	chunk1, err := ReadChunk(testFile, 1, chunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(1): %v", err)
	}

	for i := 0; i < chunkSize; i++ {
		if chunk0[i] != testData[i] {
			t.Fatalf("chunk 0 byte %d mismatch", i)
		}
		if chunk1[i] != testData[chunkSize+i] {
			t.Fatalf("chunk 1 byte %d mismatch", i)
		}
	}
}

func TestComputeManifestEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "empty.bin")
	if err := os.WriteFile(testFile, []byte{}, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	manifest, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}
	if manifest.FileSize != 0 {
		t.Errorf("FileSize = %d, want 0", manifest.FileSize)
	}
	if manifest.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", manifest.ChunkCount)
	}
}

func TestComputeManifestFileNotFound(t *testing.T) {
	if _, err := ComputeManifest("/nonexistent/file.bin", DefaultChunkOptions()); err == nil {
		t.Error("expected error for non-existent file")
	}
}
