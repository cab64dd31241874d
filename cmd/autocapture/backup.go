package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ninjra/autocapture-pipeline/pkg/merkle"
)

// backupManifest is the JSON artifact manifest the Merkle tree is built
// over: one entry per file under the persisted state layout (§6:
// metadata.db, audit.db, media/, derived/, index/, journal.ndjson,
// ledger.ndjson, activity/, state/).
type backupManifest struct {
	Root    string                     `json:"root"`
	Entries map[string]manifestEntry   `json:"entries"`
	Proofs  map[string]merkle.InclusionProof `json:"proofs"`
}

type manifestEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func runBackupCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: backup <create|restore> ...")
		return exitInternalError
	}
	switch args[0] {
	case "create":
		return runBackupCreate(args[1:], stdout, stderr)
	case "restore":
		return runBackupRestore(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown backup subcommand: %s\n", args[0])
		return exitInternalError
	}
}

func runBackupCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("backup create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "data directory to back up (required)")
	out := fs.String("out", "", "destination export-pack directory (required)")
	s3Bucket := fs.String("s3-bucket", "", "optional: also upload the pack to this S3 bucket")
	s3Prefix := fs.String("s3-prefix", "", "key prefix within --s3-bucket")
	gcsBucket := fs.String("gcs-bucket", "", "optional: also upload the pack to this GCS bucket")
	gcsPrefix := fs.String("gcs-prefix", "", "object name prefix within --gcs-bucket")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *dataDir == "" || *out == "" {
		fmt.Fprintln(stderr, "--data-dir and --out are required")
		return exitInternalError
	}
	if code := requireConsent(*dataDir, stderr); code != exitOK {
		return code
	}

	payloadDir := filepath.Join(*out, "payload")
	manifestData := make(map[string]interface{})
	entries := make(map[string]manifestEntry)

	err := filepath.Walk(*dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(*dataDir, path)
		if err != nil {
			return err
		}
		sum, size, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		entries[rel] = manifestEntry{SHA256: sum, Size: size}
		manifestData[rel] = entries[rel]

		dst := filepath.Join(payloadDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return copyFile(path, dst)
	})
	if err != nil {
		fmt.Fprintf(stderr, "backup create: %v\n", err)
		return exitInternalError
	}

	tree, err := merkle.BuildMerkleTree(manifestData)
	if err != nil {
		fmt.Fprintf(stderr, "backup create: build merkle tree: %v\n", err)
		return exitInternalError
	}

	man := backupManifest{Root: tree.Root, Entries: entries, Proofs: map[string]merkle.InclusionProof{}}
	for rel := range entries {
		proof, err := merkle.BuildInclusionProof(tree, rel)
		if err != nil {
			fmt.Fprintf(stderr, "backup create: proof for %s: %v\n", rel, err)
			return exitInternalError
		}
		man.Proofs[rel] = *proof
	}

	manBytes, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "backup create: %v\n", err)
		return exitInternalError
	}
	if err := os.WriteFile(filepath.Join(*out, "manifest.json"), manBytes, 0o644); err != nil {
		fmt.Fprintf(stderr, "backup create: %v\n", err)
		return exitInternalError
	}

	ctx := context.Background()
	if *s3Bucket != "" {
		if err := uploadDirToS3(ctx, *out, *s3Bucket, *s3Prefix); err != nil {
			fmt.Fprintf(stderr, "backup create: s3 upload: %v\n", err)
			return exitInternalError
		}
		fmt.Fprintf(stdout, "uploaded pack to s3://%s/%s\n", *s3Bucket, *s3Prefix)
	}
	if *gcsBucket != "" {
		if err := uploadDirToGCS(ctx, *out, *gcsBucket, *gcsPrefix); err != nil {
			fmt.Fprintf(stderr, "backup create: gcs upload: %v\n", err)
			return exitInternalError
		}
		fmt.Fprintf(stdout, "uploaded pack to gs://%s/%s\n", *gcsBucket, *gcsPrefix)
	}

	fmt.Fprintf(stdout, "backup created: %d files, root=%s\n", len(entries), tree.Root)
	return exitOK
}

func runBackupRestore(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("backup restore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "export-pack directory to restore from (required)")
	dataDir := fs.String("data-dir", "", "destination data directory (required)")
	s3Bucket := fs.String("s3-bucket", "", "optional: fetch the pack from this S3 bucket into --in first")
	s3Prefix := fs.String("s3-prefix", "", "key prefix within --s3-bucket")
	gcsBucket := fs.String("gcs-bucket", "", "optional: fetch the pack from this GCS bucket into --in first")
	gcsPrefix := fs.String("gcs-prefix", "", "object name prefix within --gcs-bucket")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *in == "" || *dataDir == "" {
		fmt.Fprintln(stderr, "--in and --data-dir are required")
		return exitInternalError
	}

	ctx := context.Background()
	if *s3Bucket != "" {
		if err := downloadPrefixFromS3(ctx, *s3Bucket, *s3Prefix, *in); err != nil {
			fmt.Fprintf(stderr, "backup restore: s3 fetch: %v\n", err)
			return exitInternalError
		}
	}
	if *gcsBucket != "" {
		if err := downloadPrefixFromGCS(ctx, *gcsBucket, *gcsPrefix, *in); err != nil {
			fmt.Fprintf(stderr, "backup restore: gcs fetch: %v\n", err)
			return exitInternalError
		}
	}

	manBytes, err := os.ReadFile(filepath.Join(*in, "manifest.json"))
	if err != nil {
		fmt.Fprintf(stderr, "backup restore: %v\n", err)
		return exitInternalError
	}
	var man backupManifest
	if err := json.Unmarshal(manBytes, &man); err != nil {
		fmt.Fprintf(stderr, "backup restore: %v\n", err)
		return exitInternalError
	}

	for rel, entry := range man.Entries {
		proof, ok := man.Proofs[rel]
		if !ok {
			fmt.Fprintf(stderr, "backup restore: missing proof for %s\n", rel)
			return exitPreflightOrNoEvidence
		}
		if !merkle.VerifyInclusionProof(proof, man.Root) {
			fmt.Fprintf(stderr, "backup restore: inclusion proof failed for %s\n", rel)
			return exitPreflightOrNoEvidence
		}

		src := filepath.Join(*in, "payload", rel)
		sum, size, err := hashFile(src)
		if err != nil {
			fmt.Fprintf(stderr, "backup restore: %s: %v\n", rel, err)
			return exitPreflightOrNoEvidence
		}
		if sum != entry.SHA256 || size != entry.Size {
			fmt.Fprintf(stderr, "backup restore: payload for %s does not match manifest\n", rel)
			return exitPreflightOrNoEvidence
		}

		dst := filepath.Join(*dataDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			fmt.Fprintf(stderr, "backup restore: %v\n", err)
			return exitInternalError
		}
		if err := copyFile(src, dst); err != nil {
			fmt.Fprintf(stderr, "backup restore: %v\n", err)
			return exitInternalError
		}
	}

	fmt.Fprintf(stdout, "backup restored: %d files, root=%s\n", len(man.Entries), man.Root)
	return exitOK
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
