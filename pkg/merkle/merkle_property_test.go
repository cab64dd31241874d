//go:build property

package merkle_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/ninjra/autocapture-pipeline/pkg/merkle"
)

// TestBuildMerkleTree_Deterministic: the same path/value set always
// yields the same root, regardless of map iteration order (paths are
// sorted before hashing).
func TestBuildMerkleTree_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same manifest always yields the same root", prop.ForAll(
		func(paths []string, sizes []int64) bool {
			data := make(map[string]interface{})
			for i := 0; i < len(paths) && i < len(sizes); i++ {
				if paths[i] == "" {
					continue
				}
				data[paths[i]] = map[string]interface{}{"size": sizes[i]}
			}
			if len(data) == 0 {
				return true
			}

			t1, err1 := merkle.BuildMerkleTree(data)
			t2, err2 := merkle.BuildMerkleTree(data)
			if err1 != nil || err2 != nil {
				return false
			}
			return t1.Root == t2.Root
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
	))

	properties.Property("every leaf's inclusion proof verifies against the tree's root", prop.ForAll(
		func(paths []string) bool {
			seen := map[string]bool{}
			data := make(map[string]interface{})
			for _, p := range paths {
				if p == "" || seen[p] {
					continue
				}
				seen[p] = true
				data[p] = map[string]interface{}{"v": p}
			}
			if len(data) == 0 {
				return true
			}

			tree, err := merkle.BuildMerkleTree(data)
			if err != nil {
				return false
			}
			for path := range data {
				proof, err := merkle.BuildInclusionProof(tree, path)
				if err != nil {
					return false
				}
				if !merkle.VerifyInclusionProof(*proof, tree.Root) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
