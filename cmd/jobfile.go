// Package cmd implements rmakedrv's admin CLI surface (spec.md 6),
// grounded on the teacher's cmd/build.go and cmd/monitor.go: a Cobra
// root command with build/status/suspend/resume/monitor subcommands.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"rmakedrv/pkgclient"
	"rmakedrv/recipe"
)

// jobFile is the on-disk description of one job (spec.md 6 "Job
// description: (jobId, [recipeSpec], buildConfig, jobContext)"). Since
// the package client's repository protocol is explicitly out of scope
// (spec.md 1), this file is itself the stand-in repository: every
// recipe, resolution, and externally-available trove the job needs is
// declared here and loaded into a pkgclient.Mock, the same backend the
// test suite uses (grounded on the teacher's "mock" environment backend
// pattern, builddb/db.go-adjacent JSON-first configuration style).
type jobFile struct {
	JobID   int64    `json:"jobId"`
	Profile string   `json:"profile"`
	Ports   []string `json:"ports"`

	// Recipes maps a portList entry (as named in Ports) to its spec.
	Recipes map[string]jobRecipe `json:"recipes"`

	// Resolutions maps a recipe triple's String() form to its resolved
	// build/cross requirements.
	Resolutions map[string]jobResolution `json:"resolutions"`

	// Repository lists triple strings already available externally
	// (pkgclient.Client.RepositoryHasTrove).
	Repository []string `json:"repository"`

	// RecordedBuildRequirements maps a built binary triple's String()
	// form to the requirements recorded against it, for prebuilt-reuse
	// matching (pkgclient.Client.RecordedBuildRequirements).
	RecordedBuildRequirements map[string][]recipe.Triple `json:"recordedBuildRequirements"`
}

type jobRecipe struct {
	Triple            recipe.Triple `json:"triple"`
	Kind              recipe.Kind   `json:"kind"`
	IsDelayed         bool          `json:"isDelayed"`
	BuildRequirements string        `json:"buildRequirements"`
	CrossRequirements string        `json:"crossRequirements"`
}

type jobResolution struct {
	BuildReqs []recipe.Triple `json:"buildReqs"`
	CrossReqs []recipe.Triple `json:"crossReqs"`
}

// loadJobFile reads and parses a job description file.
func loadJobFile(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var jf jobFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if jf.JobID == 0 {
		return nil, fmt.Errorf("job file %s: jobId is required and must be nonzero", path)
	}
	if len(jf.Ports) == 0 {
		return nil, fmt.Errorf("job file %s: ports must list at least one recipe", path)
	}
	return &jf, nil
}

// toMockClient builds the pkgclient.Mock this job's driver.Run call uses
// as its package-client collaborator.
func (jf *jobFile) toMockClient() (*pkgclient.Mock, error) {
	client := pkgclient.NewMock()

	for portEntry, r := range jf.Recipes {
		client.AddRecipe(portEntry, recipe.Spec{
			Triple:            r.Triple,
			Kind:              r.Kind,
			IsDelayed:         r.IsDelayed,
			BuildRequirements: r.BuildRequirements,
			CrossRequirements: r.CrossRequirements,
		})
	}

	tripleByString := make(map[string]recipe.Triple)
	for _, r := range jf.Recipes {
		tripleByString[r.Triple.String()] = r.Triple
	}

	for tripleStr, res := range jf.Resolutions {
		t, ok := tripleByString[tripleStr]
		if !ok {
			return nil, fmt.Errorf("resolution for unknown triple %q: declare it under recipes first", tripleStr)
		}
		client.SetResolution(t, res.BuildReqs, res.CrossReqs)
	}

	for _, tripleStr := range jf.Repository {
		client.SetInRepository(parseTripleString(tripleStr))
	}

	for tripleStr, reqs := range jf.RecordedBuildRequirements {
		client.SetRecordedBuildRequirements(parseTripleString(tripleStr), reqs)
	}

	return client, nil
}

// parseTripleString accepts only the bare "name=revision" form job files
// use for repository/recorded-requirement entries (no label or flavor
// disambiguation needed at that granularity).
func parseTripleString(s string) recipe.Triple {
	name, rev := s, ""
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			name, rev = s[:i], s[i+1:]
			break
		}
	}
	return recipe.Triple{Name: name, Version: recipe.Version{Revision: rev}}
}
