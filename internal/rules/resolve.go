package rules

import (
	"errors"
	"fmt"
)

// RulePackRequest describes where a rule pack should come from: an
// explicit file path, an installed pack by id, or the repository
// default for a profile.
type RulePackRequest struct {
	Path          string
	RulePackId    string
	Version       string
	Profile       string
	AllowUnsigned bool
}

// RulePackSource records how a rule pack was resolved.
type RulePackSource struct {
	FromRepository bool
	RulePackId     string
	Version        string
	Path           string
	Unsigned       bool
	Signer         string
}

// ResolveRulePack loads a rule pack according to the request. A file
// path always wins; otherwise the installed repository is consulted.
func ResolveRulePack(req RulePackRequest) (RulePack, RulePackSource, error) {
	var rp RulePack
	var source RulePackSource

	if req.Path != "" {
		rp, err := LoadRulePack(req.Path)
		if err != nil {
			return rp, source, err
		}
		source.Path = req.Path
		return rp, source, nil
	}

	repo, err := DefaultRepository()
	if err != nil {
		return rp, source, fmt.Errorf("open rule pack repository: %w", err)
	}

	id := req.RulePackId
	version := req.Version
	if id == "" {
		if req.Profile == "" {
			return rp, source, errors.New("no rule pack specified and no profile to resolve a default")
		}
		ref, ok, err := repo.DefaultForProfile(req.Profile)
		if err != nil {
			return rp, source, err
		}
		if !ok {
			return rp, source, fmt.Errorf("no default rule pack configured for profile %s", req.Profile)
		}
		id = ref.RulePackId
		version = ref.Version
	}
	if version == "" {
		version, err = repo.latestVersionFor(id)
		if err != nil {
			return rp, source, err
		}
		if version == "" {
			return rp, source, fmt.Errorf("rule pack %s is not installed", id)
		}
	}
	return repo.Load(id, version, req.AllowUnsigned)
}
