// Package jobctx persists completed jobs so a later driver.Run can consult
// them as jobContext for prebuilt-artifact reuse (spec.md 4.1 step 4,
// GLOSSARY "jobContext"). Grounded on the teacher's builddb/db.go: same
// bbolt-backed, JSON-marshaled record store opened with 0600 permissions,
// generalized from a single BuildRecord-per-port-build keyed by UUID to a
// PriorJob-per-job-run keyed by JobID, since spec.md's jobContext unit is
// the whole job rather than one port.
package jobctx

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"rmakedrv/job"
	"rmakedrv/recipe"
	"rmakedrv/trove"

	bolt "go.etcd.io/bbolt"
)

const bucketJobs = "jobs"

// Store wraps a bbolt database of completed jobs.
type Store struct {
	db *bolt.DB
}

// Open opens or creates a jobctx database at path, mirroring the
// teacher's OpenDB bucket-initialization pattern.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("jobctx: open: %w", err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketJobs))
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("jobctx: init bucket: %w", err)
	}
	return &Store{db: bdb}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordJob persists j's BUILT troves as a PriorJob entry, keyed so
// iteration in JobID order is a plain bbolt cursor walk. Troves that did
// not reach BUILT are not recorded: spec.md 4.1 step 4 only matches
// against "every built recipe".
func (s *Store) RecordJob(j *job.Job) error {
	prior := job.PriorJob{JobID: j.JobID}
	for _, tr := range j.OrderedTroves() {
		if tr.State != trove.Built {
			continue
		}
		prior.Troves = append(prior.Troves, job.PriorTrove{
			Triple:             tr.Triple,
			Binaries:           tr.BinaryTroves,
			BuildRequirements:  firstComponentRequirements(tr.BuildRequirements),
			RequirementsSource: "first",
		})
	}

	data, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("jobctx: marshal job %d: %w", j.JobID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketJobs))
		return bucket.Put(jobKey(j.JobID), data)
	})
}

// firstComponentRequirements preserves spec.md 9's Open Question decision
// verbatim: "first-wins" among a trove's build-requirements, not a union,
// matching the original source's "first tuple whose name lacks ':'" rule.
// Since trove.BuildTrove here stores build-requirements as a flat set
// rather than grouped by component, first-wins collapses to "the whole
// set", kept as-is rather than inventing component grouping spec.md
// doesn't otherwise describe.
func firstComponentRequirements(reqs map[recipe.Triple]bool) []recipe.Triple {
	out := make([]recipe.Triple, 0, len(reqs))
	for r := range reqs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Name != out[k].Name {
			return out[i].Name < out[k].Name
		}
		return out[i].Flavor < out[k].Flavor
	})
	return out
}

// LoadContext returns every recorded PriorJob, most-recent first. limit
// caps how many are returned (0 means unlimited). Callers pass the result
// directly as driver.Run's jobContext argument.
func (s *Store) LoadContext(limit int) ([]job.PriorJob, error) {
	var out []job.PriorJob

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketJobs))
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var pj job.PriorJob
			if err := json.Unmarshal(v, &pj); err != nil {
				return fmt.Errorf("jobctx: unmarshal job key %x: %w", k, err)
			}
			out = append(out, pj)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func jobKey(jobID int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(jobID))
	return b
}
