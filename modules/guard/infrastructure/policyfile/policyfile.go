package policyfile

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// File is the on-disk policy document (config/guard/policies.yaml). Rule
// order in the file is evaluation order.
type File struct {
	Version    int                `yaml:"version"`
	Redactions []types.PolicyRule `yaml:"redactions"`
}

// Parse decodes and shape-checks a policy document. Pattern and condition
// compilation happens when the rules are handed to the rule engine.
func Parse(b []byte) ([]types.PolicyRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &types.PolicyConfigError{Msg: "empty policy document"}
		}
		return nil, &types.PolicyConfigError{Msg: "decode", Err: err}
	}
	if f.Version == 0 {
		f.Version = 1
	}
	if f.Version != 1 {
		return nil, &types.PolicyConfigError{Msg: "unsupported version"}
	}
	if f.Redactions == nil {
		return nil, &types.PolicyConfigError{Msg: "missing redactions"}
	}
	return f.Redactions, nil
}

func Load(path string) ([]types.PolicyRule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.PolicyConfigError{Msg: "read " + path, Err: err}
	}
	return Parse(b)
}
