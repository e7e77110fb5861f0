// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Environ returns the environment exposed to HCL files as env.NAME.
var Environ = os.Environ

func decodeHCL(name string, data []byte) (*File, error) {
	f := new(File)
	if err := hclsimple.Decode(name, data, evalContext(), f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHcl, err)
	}

	return f, nil
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)

	for _, kv := range Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}

		env[k] = cty.StringVal(v)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
		Functions: map[string]function.Function{
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"format": stdlib.FormatFunc,
			"join":   stdlib.JoinFunc,
			"min":    stdlib.MinFunc,
			"max":    stdlib.MaxFunc,
			"ceil":   stdlib.CeilFunc,
			"floor":  stdlib.FloorFunc,
		},
	}
}
